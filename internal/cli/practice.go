package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mcoot/typerace/internal/dependencies/clock"
	"github.com/mcoot/typerace/internal/dependencies/random"
	"github.com/mcoot/typerace/internal/services/catalog"
	"github.com/mcoot/typerace/internal/services/typing"
)

// previewLen is how much of the upcoming passage the live line shows
const previewLen = 24

func newPracticeCmd() *cobra.Command {
	var text, catalogPath string

	cmd := &cobra.Command{
		Use:   "practice",
		Short: "Solo typing practice, no server needed",
		Long: `Type a passage on your own and get the same progress, WPM and accuracy
scores used in races. Timing starts at the first key. Press Esc or Ctrl+C to
stop early.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if text == "" {
				passage, err := pickPassage(catalogPath)
				if err != nil {
					return err
				}
				text = passage
			}

			snap, err := practice(cmd.Context(), cmd.InOrStdin(), cmd.ErrOrStderr(), text, clock.New())
			if err != nil {
				return err
			}

			output(cmd).Print(progressFromSnapshot(snap))
			return nil
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "Passage to type instead of a catalog one")
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "YAML catalog to draw passages from")

	return cmd
}

func pickPassage(path string) (string, error) {
	c, err := catalog.Default()
	if path != "" {
		c, err = catalog.ParseFile(path)
	}
	if err != nil {
		return "", err
	}

	texts := catalog.CleanTexts(c.Texts)
	if len(texts) == 0 {
		return "", catalog.ErrNoTexts
	}
	return texts[random.New().Intn(len(texts))], nil
}

// practice runs one passage and returns the final scores. Live feedback is
// written to screen when keys come from a terminal.
func practice(ctx context.Context, in io.Reader, screen io.Writer, text string, clk clock.Clock) (typing.Snapshot, error) {
	kb, err := openKeyboard(in)
	if err != nil {
		return typing.Snapshot{}, fmt.Errorf("failed to open keyboard: %w", err)
	}
	defer func() { _ = kb.Close() }()

	if kb.Interactive() {
		_, _ = fmt.Fprintf(screen, "%s%s", text, kb.newline)
	}

	var tracker *typing.Tracker
	for ctx.Err() == nil {
		key, err := kb.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return typing.Snapshot{}, err
		}

		if tracker == nil {
			tracker = typing.NewTracker(text, clk.Now())
		}
		snap := tracker.Press(key, clk.Now())
		if kb.Interactive() {
			renderLive(screen, text, snap)
		}
		if snap.Finished {
			break
		}
	}

	if kb.Interactive() {
		_, _ = fmt.Fprint(screen, kb.newline)
	}
	if tracker == nil {
		return typing.NewTracker(text, clk.Now()).Snapshot(clk.Now()), nil
	}
	return tracker.Snapshot(clk.Now()), nil
}

func renderLive(screen io.Writer, text string, snap typing.Snapshot) {
	next := []rune(text)[snap.Index:]
	if len(next) > previewLen {
		next = next[:previewLen]
	}

	var b strings.Builder
	b.WriteString("\r")
	b.WriteString(progressBar(snap.Progress, 20))
	fmt.Fprintf(&b, " %3d%% %3d wpm %3d%% acc  ", snap.Progress, snap.WPM, snap.Accuracy)
	if snap.Accepted {
		b.WriteString(goodColor.Sprint(string(next)))
	} else {
		b.WriteString(badColor.Sprint(string(next)))
	}
	b.WriteString("\x1b[K")
	_, _ = io.WriteString(screen, b.String())
}

func progressFromSnapshot(s typing.Snapshot) Progress {
	return Progress{
		Index:    s.Index,
		Length:   s.Length,
		Errors:   s.Errors,
		Progress: s.Progress,
		WPM:      s.WPM,
		Accuracy: s.Accuracy,
		Finished: s.Finished,
	}
}
