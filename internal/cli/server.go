package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"trivia-duel-service/internal/config"
	transport "trivia-duel-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the duel server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			return err
		}
	}

	b, err := buildBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.WithError(err).Warn("closing backends")
		}
	}()

	stopSweep, err := b.service.StartExpirySweep(config.TTLDuration(cfg.Duel.SweepInterval, 5*time.Minute))
	if err != nil {
		return err
	}
	defer func() {
		if err := stopSweep(); err != nil {
			log.WithError(err).Warn("stopping expiry sweep")
		}
	}()

	finalPort := listenPort(portFlag, cfg)
	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     transport.NewRouter(b.service, log, cfg.Duel.DefaultQuestionCount),
		ReadTimeout: 15 * time.Second,
		// no WriteTimeout: it would cut long-lived websocket connections
	}

	go func() {
		log.WithField("port", finalPort).Info("starting duel service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server...")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
