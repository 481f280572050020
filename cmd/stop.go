package cmd

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/grovetools/meetbot/cli"
	"github.com/grovetools/meetbot/config"
	"github.com/grovetools/meetbot/internal/control/client"
	"github.com/grovetools/meetbot/internal/pidfile"
	"github.com/grovetools/meetbot/pkg/paths"
	"github.com/spf13/cobra"
)

// controlSocketPath is the configured socket or the per-bot default.
func controlSocketPath(cfg *config.Config, botID string) string {
	if cfg.Control.SocketPath != "" {
		return cfg.Control.SocketPath
	}
	return paths.SocketPath(botID)
}

// NewStopCmd creates the `stop` command.
func NewStopCmd() *cobra.Command {
	var botID string
	var signalOnly bool

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "End a running session early",
		Long: `Asks a running session to stop recording and upload what it has.

The request goes through the control socket when it is reachable and falls back
to sending SIGTERM to the process in the pid file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if !signalOnly && cfg.Control.ControlEnabled() {
				c := client.New(controlSocketPath(cfg, botID))
				defer c.Close()
				if c.IsRunning() {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					accepted, err := c.End(ctx)
					if err == nil {
						if accepted {
							fmt.Fprintln(out, "End requested")
						} else {
							fmt.Fprintln(out, "End was already requested")
						}
						return nil
					}
					cli.GetLogger(cmd, "meetbot").WithError(err).Debug("Control socket end failed, falling back to signal")
				}
			}

			pidPath := paths.PidFilePath(botID)
			running, _, err := pidfile.IsRunning(pidPath)
			if err != nil {
				return fmt.Errorf("error checking status: %w", err)
			}
			if !running {
				fmt.Fprintln(out, "No session is running")
				return nil
			}
			pid, err := pidfile.Signal(pidPath, syscall.SIGTERM)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Sent SIGTERM to process %d\n", pid)
			return nil
		},
	}

	cmd.Flags().StringVar(&botID, "bot-id", "", "Bot whose session to stop")
	cmd.Flags().BoolVar(&signalOnly, "signal", false, "Skip the control socket and send SIGTERM")
	return cmd
}
