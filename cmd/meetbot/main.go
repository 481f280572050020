package main

import (
	"os"

	"github.com/grovetools/meetbot/cli"
	"github.com/grovetools/meetbot/cmd"
	"github.com/grovetools/meetbot/pkg/profiling"
)

func main() {
	rootCmd := cli.NewStandardCommand(
		"meetbot",
		"Join online meetings as a bot and record them",
	)

	profiler := profiling.NewCobraProfiler()
	profiler.AddFlags(rootCmd)
	rootCmd.PersistentPreRunE = profiler.PreRun

	rootCmd.AddCommand(cmd.NewJoinCmd())
	rootCmd.AddCommand(cmd.NewStopCmd())
	rootCmd.AddCommand(cmd.NewStatusCmd())
	rootCmd.AddCommand(cmd.NewConfigCmd())
	rootCmd.AddCommand(cmd.NewLogsCmd())
	rootCmd.AddCommand(cmd.NewPathsCmd())
	rootCmd.AddCommand(cli.NewVersionCommand("meetbot"))
	cli.ApplyStyledHelpRecursive(rootCmd)

	err := rootCmd.Execute()
	profiler.Finish(rootCmd)
	if err != nil {
		verbose, _ := rootCmd.PersistentFlags().GetBool("verbose")
		_ = cli.NewErrorHandler(verbose).Handle(err)
		os.Exit(1)
	}
}
