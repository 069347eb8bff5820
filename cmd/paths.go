package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/grovetools/statehub/pkg/paths"
)

// PathsOutput represents the XDG-compliant paths used by statehub.
type PathsOutput struct {
	ConfigDir  string `json:"config_dir"`
	StateDir   string `json:"state_dir"`
	CacheDir   string `json:"cache_dir"`
	LogsDir    string `json:"logs_dir"`
	ConfigFile string `json:"config_file"`
	PidFile    string `json:"pid_file"`
}

// NewPathsCmd returns the paths command.
func NewPathsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print the XDG-compliant paths used by statehub",
		Long: `Print the XDG-compliant paths used by statehub in JSON format.

- config_dir: Configuration files (statehub.yml)
- state_dir: Runtime state (pidfile, logs)
- cache_dir: Temporary/regenerable data
- logs_dir: Daemon and client log files`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := PathsOutput{
				ConfigDir:  paths.ConfigDir(),
				StateDir:   paths.StateDir(),
				CacheDir:   paths.CacheDir(),
				LogsDir:    paths.LogsDir(),
				ConfigFile: paths.ConfigFilePath(),
				PidFile:    paths.PidFilePath(),
			}

			jsonData, err := json.MarshalIndent(output, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal paths to JSON: %w", err)
			}
			fmt.Println(string(jsonData))
			return nil
		},
	}
}
