// Command hbrun runs Hayabusa subcommands and captures their output.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func main() {
	os.Exit(runCLI(os.Args[1:], os.Stdout, os.Stderr))
}

func runCLI(args []string, stdout, stderr io.Writer) int {
	root := newRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "hbrun",
		Short: "Run Hayabusa subcommands and capture their output",
		Long: `hbrun dispatches Hayabusa subcommands as supervised child processes,
stores their output in timestamped run directories and records every run.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file (default: $HBRUN_CONFIG, ~/.config/hbrun/config.yaml, ./hbrun.yaml)")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "path to the run history database (overrides history.path)")

	root.AddCommand(
		runCommand(opts),
		batchCommand(opts),
		menuCommand(opts),
		serveCommand(opts),
		historyCommand(opts),
		verifyCommand(opts),
		inspectCommand(opts),
		pruneCommand(opts),
		subcommandsCommand(),
		configCommand(opts),
		doctorCommand(opts),
		versionCommand(),
	)
	return root
}
