package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newEventsCmd() *cobra.Command {
	var jsonOutput bool
	var limit int

	cmd := &cobra.Command{
		Use:   "events <race-id>",
		Short: "Stream the live view of a race",
		Long: `Connect to the race's spectator stream and print the live view as it
changes. No sign-in is needed.

Events include:
  - connected: The stream is open
  - view: Connection state, session and every lane

Press Ctrl+C to disconnect.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return streamEvents(cmd.Context(), cmd.OutOrStdout(), args[0], jsonOutput, limit)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output events as JSON lines")
	cmd.Flags().IntVar(&limit, "limit", 0, "Disconnect after this many view events (0 streams until interrupted)")

	return cmd
}

// SSEEvent is a parsed SSE event
type SSEEvent struct {
	Time  time.Time `json:"time"`
	Event string    `json:"event"`
	Data  string    `json:"data"`
}

func streamEvents(ctx context.Context, w io.Writer, raceID string, jsonOutput bool, limit int) error {
	// SSE is served by the live router, not the API router
	streamURL := strings.TrimSuffix(cfg.ServerURL, "/") + "/live/races/" + url.PathEscape(raceID) + "/events"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("connection failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if !jsonOutput {
		_, _ = fmt.Fprintf(w, "Connected to race %s\n", raceID)
	}

	screen := &raceScreen{w: w, newline: "\n"}
	views := 0

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var currentEvent string
	var dataLines []string

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, "event: "):
			currentEvent = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))
		case line == "":
			if currentEvent != "" {
				data := strings.Join(dataLines, "\n")
				printEvent(w, screen, currentEvent, data, jsonOutput)
				if currentEvent == "view" {
					views++
				}
			}
			currentEvent = ""
			dataLines = nil
			if limit > 0 && views >= limit {
				return nil
			}
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			if !jsonOutput {
				_, _ = fmt.Fprintln(w, "\nDisconnected")
			}
			return nil
		}
		return fmt.Errorf("stream error: %w", err)
	}

	if !jsonOutput {
		_, _ = fmt.Fprintln(w, "Disconnected")
	}
	return nil
}

func printEvent(w io.Writer, screen *raceScreen, event, data string, jsonOutput bool) {
	now := time.Now()

	if jsonOutput {
		line, _ := json.Marshal(SSEEvent{Time: now, Event: event, Data: data})
		_, _ = fmt.Fprintln(w, string(line))
		return
	}

	if event == "view" {
		var view LiveView
		if err := json.Unmarshal([]byte(data), &view); err == nil {
			_, _ = fmt.Fprintf(w, "[%s]\n", now.Format("15:04:05"))
			screen.render(liveMessage{Type: "view", View: &view})
			return
		}
	}
	_, _ = fmt.Fprintf(w, "[%s] %s: %s\n", now.Format("15:04:05"), event, strings.ReplaceAll(data, "\n", " "))
}
