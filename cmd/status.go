package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/grovetools/meetbot/cli"
	"github.com/grovetools/meetbot/internal/control/client"
	"github.com/grovetools/meetbot/internal/control/store"
	"github.com/grovetools/meetbot/internal/pidfile"
	"github.com/grovetools/meetbot/pkg/paths"
	"github.com/grovetools/meetbot/state"
	"github.com/spf13/cobra"
)

// NewStatusCmd creates the `status` command.
func NewStatusCmd() *cobra.Command {
	var botID string
	var watch bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running session",
		Long: `Shows the status history of a running session, read from its control socket.
When no session is running the last recorded session is shown instead.

Examples:
  # One-off snapshot
  meetbot status --bot-id bot-1

  # Follow every status change
  meetbot status --bot-id bot-1 -w
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}
			jsonOut := cli.GetOptions(cmd).JSONOutput
			out := cmd.OutOrStdout()

			c := client.New(controlSocketPath(cfg, botID))
			defer c.Close()

			if c.IsRunning() {
				if watch {
					return watchStatus(c, out, jsonOut)
				}
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				snap, err := c.Status(ctx)
				if err != nil {
					return err
				}
				return printSnapshot(out, *snap, jsonOut)
			}

			if running, pid, err := pidfile.IsRunning(paths.PidFilePath(botID)); err == nil && running {
				fmt.Fprintf(out, "Running (PID: %d), control socket unavailable\n", pid)
				return nil
			}

			rec, err := state.LastSession()
			if err != nil {
				return err
			}
			if rec == nil {
				fmt.Fprintln(out, "Stopped")
				return nil
			}
			if jsonOut {
				return writeJSON(out, rec)
			}
			fmt.Fprintf(out, "Stopped. Last session: %s %s\n", rec.Provider, rec.URL)
			fmt.Fprintf(out, "  Status:   %s\n", strings.Join(rec.Status, " → "))
			if rec.CaptureReason != "" {
				fmt.Fprintf(out, "  Ended by: %s\n", rec.CaptureReason)
			}
			if rec.Location != "" {
				fmt.Fprintf(out, "  Location: %s\n", rec.Location)
			}
			if rec.Error != "" {
				fmt.Fprintf(out, "  Error:    %s\n", rec.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&botID, "bot-id", "", "Bot whose session to inspect")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Stream status changes until the session ends")
	return cmd
}

func watchStatus(c *client.Client, out io.Writer, jsonOut bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	updates, err := c.Stream(ctx)
	if err != nil {
		return err
	}
	for update := range updates {
		if jsonOut {
			if err := writeJSON(out, update); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintf(out, "[%s] %s", update.Snapshot.UpdatedAt.Format(time.TimeOnly), update.Type)
		if update.Source != "" {
			fmt.Fprintf(out, " (%s)", update.Source)
		}
		fmt.Fprintf(out, ": %s\n", formatHistory(update.Snapshot))
	}
	return nil
}

func printSnapshot(out io.Writer, snap store.Snapshot, jsonOut bool) error {
	if jsonOut {
		return writeJSON(out, snap)
	}
	fmt.Fprintf(out, "Provider: %s\n", snap.Provider)
	if snap.URL != "" {
		fmt.Fprintf(out, "URL:      %s\n", snap.URL)
	}
	fmt.Fprintf(out, "Status:   %s\n", formatHistory(snap))
	fmt.Fprintf(out, "Running:  %s\n", time.Since(snap.StartedAt).Round(time.Second))
	if snap.CaptureReason != "" {
		fmt.Fprintf(out, "Ended by: %s\n", snap.CaptureReason)
	}
	if snap.EndRequested {
		fmt.Fprintln(out, "End requested")
	}
	return nil
}

func formatHistory(snap store.Snapshot) string {
	parts := make([]string, 0, len(snap.Status))
	for _, token := range snap.Status {
		parts = append(parts, string(token))
	}
	return strings.Join(parts, " → ")
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
