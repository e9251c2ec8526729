package commands

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"gastos/internal/cli"
	"gastos/internal/log"
)

// Options lets callers replace the process environment.
type Options struct {
	Stdin  io.Reader
	Stdout io.Writer
	// Bootstrap builds the application. Defaults to loading .env, the
	// configuration and the configured store.
	Bootstrap func(ctx context.Context) (*cli.App, error)
	// IsTerminal reports whether r is an interactive terminal.
	IsTerminal func(r io.Reader) bool
}

func (o *Options) defaults() {
	if o.Stdin == nil {
		o.Stdin = os.Stdin
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Bootstrap == nil {
		o.Bootstrap = bootstrapFromEnv
	}
	if o.IsTerminal == nil {
		o.IsTerminal = isTerminal
	}
}

func bootstrapFromEnv(ctx context.Context) (*cli.App, error) {
	cli.LoadEnvFile()
	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		return nil, err
	}
	logger := cli.SetupLogger(cfg.LogLevel)
	return cli.Bootstrap(ctx, cfg, logger)
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand(opts Options) *cobra.Command {
	opts.defaults()

	rootCmd := &cobra.Command{
		Use:   "gastos",
		Short: "Expense tracking with backup, import and conflict resolution",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	rootCmd.SetIn(opts.Stdin)
	rootCmd.SetOut(opts.Stdout)

	rootCmd.AddCommand(
		newServeCommand(opts),
		newExportCommand(opts),
		newImportCommand(opts),
		newSummaryCommand(opts),
	)

	return rootCmd
}

// withApp boots the application for one command run and closes it after.
func withApp(cmd *cobra.Command, opts Options, fn func(ctx context.Context, app *cli.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := opts.Bootstrap(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	app.Logger.WithComponent(log.ComponentCLI).Debug("Running command", "command", cmd.Name())
	return fn(ctx, app)
}
