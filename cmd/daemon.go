package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/grovetools/statehub/cli"
	"github.com/grovetools/statehub/config"
	"github.com/grovetools/statehub/internal/daemon/agent"
	"github.com/grovetools/statehub/internal/daemon/collector"
	"github.com/grovetools/statehub/internal/daemon/engine"
	"github.com/grovetools/statehub/internal/daemon/pidfile"
	"github.com/grovetools/statehub/internal/daemon/server"
	"github.com/grovetools/statehub/internal/daemon/session"
	"github.com/grovetools/statehub/internal/daemon/store"
	"github.com/grovetools/statehub/pkg/models"
	"github.com/grovetools/statehub/pkg/paths"
	"github.com/grovetools/statehub/pkg/protocol"
)

// NewDaemonCmd returns the daemon command with subcommands.
func NewDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Statehub daemon",
		Long:  "State synchronization daemon serving channels over WebSocket.",
	}

	cmd.AddCommand(newDaemonStartCmd())
	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonStatusCmd())

	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the daemon",
		Long:  "Start the statehub daemon in foreground mode.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := cli.GetLogger(cmd, "daemon")
			pidPath := paths.PidFilePath()

			cfg, err := cli.LoadConfig(cmd)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if err := paths.EnsureDirs(); err != nil {
				return fmt.Errorf("failed to create statehub directories: %w", err)
			}

			// 1. Acquire lock
			if err := pidfile.Acquire(pidPath); err != nil {
				return fmt.Errorf("failed to start: %w", err)
			}
			defer func() {
				if err := pidfile.Release(pidPath); err != nil {
					logger.Errorf("Failed to release pidfile: %v", err)
				}
			}()

			// 2. Store, sessions and engine
			st := store.New(cfg.Daemon.DeltaHistory)
			sessions := session.New(st, cfg.Daemon.MaxSessions, cfg.Daemon.DefaultModel, logger)
			sessions.SetResponder(agent.EchoResponder(100*time.Millisecond, logger))

			seedAuth(st)

			eng := engine.New(st, logger)
			eng.Register(collector.NewHealth(cfg.Daemon.HealthInterval.Std(), sessions, logger))
			if configPath := paths.ConfigFilePath(); configPath != "" {
				eng.Register(collector.NewConfigWatcher(configPath, logger))
			}

			// 3. Server
			srv := server.New(eng, sessions, logger)

			// 4. Signals
			ctx, cancel := context.WithCancel(context.Background())
			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

			go func() {
				<-stop
				logger.Info("Received stop signal")
				cancel()

				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()

				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Errorf("Server shutdown error: %v", err)
				}

				_ = pidfile.Release(pidPath)
				os.Exit(0)
			}()

			// 5. Engine in background
			go eng.Start(ctx)

			// 6. Server (blocking)
			logger.WithField("pid", os.Getpid()).Info("Starting daemon")
			if err := srv.ListenAndServe(cfg.Daemon.Listen); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
}

// seedAuth publishes the initial auth state. A real deployment would derive
// this from stored credentials; the daemon treats an API key in the
// environment as authenticated.
func seedAuth(st *store.Store) {
	auth := &models.AuthState{}
	if os.Getenv("STATEHUB_API_KEY") != "" {
		auth.Authenticated = true
		auth.Method = "api_key"
	}
	st.Commit(protocol.NewKey(protocol.ChannelAuth, ""), store.Mutation{
		Added: []protocol.Item{protocol.MustItem("auth", auth)},
	})
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			pidPath := paths.PidFilePath()

			running, pid, err := pidfile.IsRunning(pidPath)
			if err != nil {
				return fmt.Errorf("error checking status: %w", err)
			}

			if !running {
				fmt.Println("Daemon is not running")
				return nil
			}

			process, err := os.FindProcess(pid)
			if err != nil {
				return fmt.Errorf("failed to find process %d: %w", pid, err)
			}

			if err := process.Signal(syscall.SIGTERM); err != nil {
				return fmt.Errorf("failed to send stop signal: %w", err)
			}

			fmt.Printf("Sent SIGTERM to process %d\n", pid)
			return nil
		},
	}
}

func newDaemonStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			pidPath := paths.PidFilePath()
			running, pid, err := pidfile.IsRunning(pidPath)

			if err != nil {
				return fmt.Errorf("error: %w", err)
			}

			if running {
				cfg, cfgErr := config.LoadDefault()
				addr := ""
				if cfgErr == nil {
					addr = cfg.Daemon.Listen
				}
				fmt.Printf("Running (PID: %d)\nListen: %s\n", pid, addr)
			} else {
				fmt.Println("Stopped")
				os.Exit(1) // Non-zero for stopped state, useful for scripts
			}
			return nil
		},
	}
}
