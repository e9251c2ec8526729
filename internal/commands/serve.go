package commands

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"gastos/internal/cli"
	apphttp "gastos/internal/http"
	"gastos/internal/log"
	"gastos/internal/middleware/ratelimit"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(opts Options) *cobra.Command {
	var addr string
	var rpm int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *cli.App) error {
				if addr == "" {
					addr = ":" + app.Config.Port
				}
				rl := ratelimit.DefaultConfig()
				if rpm > 0 {
					rl.RequestsPerMinute = rpm
				}
				return runServe(ctx, app, addr, rl)
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default \":$PORT\")")
	cmd.Flags().IntVar(&rpm, "rate-limit", 0, "mutating requests per minute per client")

	return cmd
}

func runServe(ctx context.Context, app *cli.App, addr string, rl ratelimit.Config) error {
	logger := app.Logger
	srv := apphttp.NewServer(addr, apphttp.Deps{
		Expenses:  app.Expenses,
		Backups:   app.Backups,
		Logger:    logger,
		Ready:     app.Ping,
		UploadDir: filepath.Join(app.Config.CacheDir, "uploads"),
		RateLimit: rl,
	})

	ctx, cancel := cli.SignalContext(ctx, logger)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting gastos server",
			"addr", addr,
			"backend", app.Config.DataBackend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		logger.Error("Server error", log.FieldError, err.Error(), "addr", addr)
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", log.FieldError, err.Error(), log.FieldOperation, log.OpShutdown)
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}
