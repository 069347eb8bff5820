package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/grovetools/statehub/cli"
	"github.com/grovetools/statehub/pkg/hub"
	"github.com/grovetools/statehub/pkg/models"
	"github.com/grovetools/statehub/pkg/protocol"
)

// NewSessionsCmd returns the sessions command with subcommands.
func NewSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage agent sessions",
	}

	cmd.AddCommand(newSessionsListCmd())
	cmd.AddCommand(newSessionsCreateCmd())
	cmd.AddCommand(newSessionsRenameCmd())
	cmd.AddCommand(newSessionsArchiveCmd())
	cmd.AddCommand(newSessionsDeleteCmd())

	return cmd
}

// connectHub dials the daemon and returns a connected hub.
func connectHub(cmd *cobra.Command) (*hub.Hub, error) {
	cfg, err := cli.LoadConfig(cmd)
	if err != nil {
		return nil, err
	}

	h := hub.New(hub.OptionsFromConfig(cfg), cli.GetLogger(cmd, "cli-hub"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.Connect(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

func newSessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := connectHub(cmd)
			if err != nil {
				return cli.NewErrorHandler(false).Handle(err)
			}
			defer h.Close()

			snap, err := h.GlobalSnapshot(context.Background())
			if err != nil {
				return cli.NewErrorHandler(false).Handle(err)
			}

			if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
				data, err := json.MarshalIndent(snap.Sessions, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tMODEL\tMESSAGES\tUPDATED")
			for _, s := range snap.Sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
					s.ID, s.Title, statusLabel(s.Status), s.Model, s.MessageCount,
					s.UpdatedAt.Local().Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func newSessionsCreateCmd() *cobra.Command {
	var workingDir, model string
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := connectHub(cmd)
			if err != nil {
				return cli.NewErrorHandler(false).Handle(err)
			}
			defer h.Close()

			sess, err := h.CreateSession(context.Background(), protocol.CreateSessionParams{
				Title:            args[0],
				WorkingDirectory: workingDir,
				Model:            model,
			})
			if err != nil {
				return cli.NewErrorHandler(false).Handle(err)
			}
			fmt.Println(sess.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&workingDir, "dir", "", "Working directory for the session")
	cmd.Flags().StringVar(&model, "model", "", "Model to use (defaults to daemon config)")
	return cmd
}

func newSessionsRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <session-id> <title>",
		Short: "Rename a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := connectHub(cmd)
			if err != nil {
				return cli.NewErrorHandler(false).Handle(err)
			}
			defer h.Close()

			if err := h.RenameSession(context.Background(), args[0], args[1]); err != nil {
				return cli.NewErrorHandler(false).Handle(err)
			}
			return nil
		},
	}
}

func newSessionsArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <session-id>",
		Short: "Archive a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := connectHub(cmd)
			if err != nil {
				return cli.NewErrorHandler(false).Handle(err)
			}
			defer h.Close()

			if err := h.ArchiveSession(context.Background(), args[0]); err != nil {
				return cli.NewErrorHandler(false).Handle(err)
			}
			return nil
		},
	}
}

func newSessionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := connectHub(cmd)
			if err != nil {
				return cli.NewErrorHandler(false).Handle(err)
			}
			defer h.Close()

			if err := h.DeleteSession(context.Background(), args[0]); err != nil {
				return cli.NewErrorHandler(false).Handle(err)
			}
			return nil
		},
	}
}

// statusLabel renders a session status for table output.
func statusLabel(s models.SessionStatus) string {
	if s == "" {
		return string(models.SessionActive)
	}
	return string(s)
}
