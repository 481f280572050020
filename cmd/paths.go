package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/grovetools/meetbot/pkg/paths"
	"github.com/spf13/cobra"
)

// PathsOutput lists the directories meetbot reads and writes.
type PathsOutput struct {
	ConfigDir   string `json:"config_dir"`
	StateDir    string `json:"state_dir"`
	LogDir      string `json:"log_dir"`
	CacheDir    string `json:"cache_dir"`
	ArtifactDir string `json:"artifact_dir"`
	RuntimeDir  string `json:"runtime_dir"`
}

func NewPathsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "paths",
		Short: "Print the directories used by meetbot",
		Long: `Print the directories used by meetbot as JSON.

- config_dir: meetbot.yml
- state_dir: pid files, the last-session record and local recordings
- log_dir: per-component log files
- cache_dir: temporary data
- artifact_dir: recordings in progress, removed after upload
- runtime_dir: control sockets`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := PathsOutput{
				ConfigDir:   paths.ConfigDir(),
				StateDir:    paths.StateDir(),
				LogDir:      paths.LogDir(),
				CacheDir:    paths.CacheDir(),
				ArtifactDir: paths.ArtifactDir(),
				RuntimeDir:  paths.RuntimeDir(),
			}

			jsonData, err := json.MarshalIndent(output, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal paths to JSON: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(jsonData))
			return nil
		},
	}

	return cmd
}
