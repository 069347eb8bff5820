package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/grovetools/statehub/cli"
)

// NewCallCmd returns the call command, a low-level escape hatch for issuing
// any daemon method with raw JSON params.
func NewCallCmd() *cobra.Command {
	var paramsJSON string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "call <method>",
		Short: "Issue a raw call to the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var params interface{}
			if paramsJSON != "" {
				if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
					return fmt.Errorf("invalid --params JSON: %w", err)
				}
			}

			h, err := connectHub(cmd)
			if err != nil {
				return cli.NewErrorHandler(false).Handle(err)
			}
			defer h.Close()

			result, err := h.Call(context.Background(), args[0], params, timeout)
			if err != nil {
				return cli.NewErrorHandler(true).Handle(err)
			}

			var pretty interface{}
			if err := json.Unmarshal(result, &pretty); err != nil {
				fmt.Println(string(result))
				return nil
			}
			data, err := json.MarshalIndent(pretty, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}
	cmd.Flags().StringVar(&paramsJSON, "params", "", "Call params as a JSON object")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Call timeout (0 uses the configured default)")
	return cmd
}
