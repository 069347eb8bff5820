package main

import (
	"os"

	"github.com/grovetools/statehub/cli"
	"github.com/grovetools/statehub/cmd"
	"github.com/grovetools/statehub/version"
)

func main() {
	rootCmd := cli.NewStandardCommand(
		"statehub",
		"Delta-synchronized state hub for agent chat sessions",
	)

	info := version.GetInfo()
	rootCmd.Version = info.Version
	cli.SetVersionTemplate(rootCmd, cli.VersionInfo{
		Version:   info.Version,
		Commit:    info.Commit,
		BuildDate: info.BuildDate,
		BuildArch: info.Platform,
	})

	rootCmd.AddCommand(cmd.NewDaemonCmd())
	rootCmd.AddCommand(cmd.NewSessionsCmd())
	rootCmd.AddCommand(cmd.NewSendCmd())
	rootCmd.AddCommand(cmd.NewWatchCmd())
	rootCmd.AddCommand(cmd.NewCallCmd())
	rootCmd.AddCommand(cmd.NewPathsCmd())
	rootCmd.AddCommand(cmd.NewVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
