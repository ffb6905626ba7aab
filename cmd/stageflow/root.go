package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aretw0/stageflow"
	"github.com/aretw0/stageflow/internal/cli"
	"github.com/spf13/cobra"
)

// app holds state shared by every command of one invocation.
type app struct {
	opts    cli.Options
	eng     *stageflow.Engine
	printer *cli.Printer
}

// engine opens the engine on first use.
func (a *app) engine(cmd *cobra.Command) (*stageflow.Engine, error) {
	if a.eng != nil {
		return a.eng, nil
	}
	eng, err := cli.OpenEngine(cmd.Context(), a.opts)
	if err != nil {
		return nil, err
	}
	a.eng = eng
	return eng, nil
}

func (a *app) close() error {
	if a.eng == nil {
		return nil
	}
	err := a.eng.Close()
	a.eng = nil
	return err
}

// newRootCmd builds the command tree. The caller closes a once the
// command returns.
func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "stageflow",
		Short:         "stageflow drives sessions through multi-stage workflows",
		Long:          `stageflow tracks long-running sessions as they move through the stages of a workflow, with checklists, deliverables and conditional transitions.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.printer = cli.NewPrinter(cmd.OutOrStdout(), a.opts.JSON)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.opts.ConfigPath, "config", "c", "", "Config file (default ./stageflow.yaml)")
	flags.StringVar(&a.opts.Backend, "backend", "", "Storage backend: memory, sqlite or redis (default "+cli.DefaultBackend+")")
	flags.StringVarP(&a.opts.DefinitionsDir, "definitions", "d", "", "Directory containing workflow definitions")
	flags.StringVar(&a.opts.SQLitePath, "sqlite-path", "", "SQLite database file")
	flags.StringVar(&a.opts.RedisAddr, "redis-addr", "", "Redis address (host:port)")
	flags.BoolVar(&a.opts.JSON, "json", false, "Print results as JSON")
	flags.BoolVar(&a.opts.Debug, "debug", false, "Log lifecycle events to stderr")

	rootCmd.AddCommand(
		newVersionCmd(),
		newWorkflowCmd(a),
		newSessionCmd(a),
		newStageCmd(a),
		newNextCmd(a),
	)
	return rootCmd
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	err := newRootCmd(a).ExecuteContext(ctx)
	if closeErr := a.close(); err == nil {
		err = closeErr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return cli.ExitCode(err)
	}
	return cli.ExitOK
}
