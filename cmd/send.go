package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/grovetools/statehub/cli"
)

// NewSendCmd returns the send command.
func NewSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <session-id> <message...>",
		Short: "Send a message to a session",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := connectHub(cmd)
			if err != nil {
				return cli.NewErrorHandler(false).Handle(err)
			}
			defer h.Close()

			msg, err := h.SendMessage(context.Background(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return cli.NewErrorHandler(false).Handle(err)
			}
			fmt.Println(msg.ID)
			return nil
		},
	}
}
