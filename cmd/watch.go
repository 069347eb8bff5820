package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/grovetools/statehub/cli"
	"github.com/grovetools/statehub/pkg/hub"
	"github.com/grovetools/statehub/pkg/protocol"
)

// NewWatchCmd returns the watch command, which subscribes to a channel and
// streams its notifications to stdout until interrupted.
func NewWatchCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "watch <channel>",
		Short: "Subscribe to a channel and stream its updates",
		Long: `Subscribe to a state channel and print every notification as it
arrives. Session-scoped channels (state.messages, state.agent, ...) need
--session; global channels (state.sessions, state.health, ...) do not.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			channel := protocol.Channel(args[0])
			if !protocol.Known(channel) {
				return fmt.Errorf("unknown channel: %s", args[0])
			}

			h, err := connectHub(cmd)
			if err != nil {
				return cli.NewErrorHandler(false).Handle(err)
			}
			defer h.Close()

			sub := h.Subscribe(channel, func(n hub.Notification) {
				out := map[string]interface{}{
					"kind":    n.Kind,
					"channel": n.Key.String(),
					"version": n.Version,
					"items":   n.Items,
				}
				if n.Err != nil {
					out["error"] = n.Err.Error()
				}
				data, err := json.Marshal(out)
				if err != nil {
					return
				}
				fmt.Println(string(data))
			}, hub.SubscribeOptions{SessionID: sessionID})
			defer sub.Unsubscribe()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Session scope for per-session channels")
	return cmd
}
