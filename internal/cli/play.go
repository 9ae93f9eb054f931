package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

// liveMessage mirrors the racer websocket protocol in both directions
type liveMessage struct {
	Type     string    `json:"type"`
	Keys     string    `json:"keys,omitempty"`
	View     *LiveView `json:"view,omitempty"`
	Progress *Progress `json:"progress,omitempty"`
	Error    *APIError `json:"error,omitempty"`
}

func newRacePlayCmd() *cobra.Command {
	var linger time.Duration

	cmd := &cobra.Command{
		Use:   "play <id>",
		Short: "Race interactively over a websocket",
		Long: `Connect to a race as a racer. Every key is sent as it is typed and the
live view of all lanes is redrawn as other racers progress. Press Esc or
Ctrl+C to leave.

When keys are piped in, input ends at the first newline and the command
waits up to --linger for the remaining results.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return play(cmd.Context(), args[0], cmd.InOrStdin(), cmd.OutOrStdout(), linger)
		},
	}

	cmd.Flags().DurationVar(&linger, "linger", 2*time.Second, "Wait for results after piped input ends")

	return cmd
}

func play(ctx context.Context, raceID string, in io.Reader, w io.Writer, linger time.Duration) error {
	url, err := client.LiveURL(raceID)
	if err != nil {
		return err
	}

	header := http.Header{}
	if client.Token() != "" {
		header.Set("Authorization", "Bearer "+client.Token())
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return handshakeError(resp)
		}
		return fmt.Errorf("connection failed: %w", err)
	}
	defer func() { _ = conn.Close() }()

	kb, err := openKeyboard(in)
	if err != nil {
		return fmt.Errorf("failed to open keyboard: %w", err)
	}
	defer func() { _ = kb.Close() }()

	screen := &raceScreen{w: w, json: cfg.Output == "json", newline: kb.newline}

	finished := make(chan struct{})
	readErr := make(chan error, 1)
	go func() {
		for {
			var msg liveMessage
			if err := conn.ReadJSON(&msg); err != nil {
				readErr <- err
				return
			}
			screen.render(msg)
			if msg.Type == "progress" && msg.Progress != nil && msg.Progress.Finished {
				close(finished)
				return
			}
		}
	}()

	inputDone := make(chan error, 1)
	go func() {
		for {
			key, err := kb.Next()
			if err != nil {
				inputDone <- err
				return
			}
			if err := conn.WriteJSON(liveMessage{Type: "keys", Keys: string(key)}); err != nil {
				inputDone <- err
				return
			}
		}
	}()

	var lingerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-finished:
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		case err := <-readErr:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("connection lost: %w", err)
		case err := <-inputDone:
			if !errors.Is(err, io.EOF) {
				return err
			}
			if kb.Interactive() {
				return nil
			}
			inputDone = nil
			lingerC = time.After(linger)
		case <-lingerC:
			return nil
		}
	}
}

func handshakeError(resp *http.Response) error {
	defer func() { _ = resp.Body.Close() }()

	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error.Code != "" {
		errResp.Error.Status = resp.StatusCode
		return &errResp.Error
	}
	return fmt.Errorf("HTTP %d", resp.StatusCode)
}

// raceScreen draws server messages, one JSON line each in json mode
type raceScreen struct {
	w       io.Writer
	json    bool
	newline string
}

func (s *raceScreen) render(msg liveMessage) {
	if s.json {
		data, _ := json.Marshal(msg)
		_, _ = fmt.Fprintf(s.w, "%s%s", data, s.newline)
		return
	}

	var b strings.Builder
	switch msg.Type {
	case "view":
		if msg.View == nil {
			return
		}
		if msg.View.State != "connected" {
			b.WriteString(dimColor.Sprintf("[%s]", msg.View.State) + s.newline)
		}
		if msg.View.Session != nil {
			b.WriteString(headingColor.Sprintf("%s (%s)", msg.View.Session.ID, msg.View.Session.Status) + s.newline)
		}
		for _, p := range msg.View.Participants {
			fmt.Fprintf(&b, "  %d %-16s %s %3d%% %3d wpm%s", p.Lane, p.UserID, progressBar(p.Progress, 20), p.Progress, p.WPM, s.newline)
		}
	case "progress":
		if msg.Progress == nil {
			return
		}
		p := msg.Progress
		fmt.Fprintf(&b, "you %s %3d%% %3d wpm %3d%% acc%s", progressBar(p.Progress, 20), p.Progress, p.WPM, p.Accuracy, s.newline)
		if p.Finished {
			b.WriteString(goodColor.Sprint("Finished!") + s.newline)
		}
	case "error":
		if msg.Error != nil {
			b.WriteString(badColor.Sprint(msg.Error.Error()) + s.newline)
		}
	}
	_, _ = io.WriteString(s.w, b.String())
}
