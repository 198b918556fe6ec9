package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yegors/interview-coach/internal/api"
	"github.com/yegors/interview-coach/internal/events"
	"github.com/yegors/interview-coach/internal/metrics"
	"github.com/yegors/interview-coach/internal/session"
	"github.com/yegors/interview-coach/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and browser interview bridge",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, renderer, err := newCoach(ctx, cfg, log)
		if err != nil {
			return err
		}

		publisher := events.New(cfg.Events, metrics.DefaultMetrics, log)
		defer publisher.Close()

		interviews := api.NewInterviews(api.InterviewOptions{
			Model:          cfg.Gemini.LiveModel,
			Dialer:         session.LiveDialer{Client: newLiveClient(cfg, log)},
			Instructions:   renderer,
			Events:         publisher,
			Metrics:        metrics.DefaultMetrics,
			Audio:          cfg.Audio,
			ConnectTimeout: cfg.Gemini.ConnectTimeout(),
			AllowedOrigins: cfg.Server.CORSAllowedOrigins,
			Logger:         log,
		})
		defer interviews.Close()

		router := api.NewRouter(svc, interviews, cfg, nil, log)
		srv := &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           router.Routes(),
			ReadHeaderTimeout: time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info("HTTP server listening", logger.String("addr", srv.Addr))
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		log.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
		defer cancel()
		// Hijacked interview sockets are not tracked by Shutdown; closing
		// the monitor ends any audio streams first.
		interviews.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("HTTP server shutdown incomplete", logger.Error(err))
			return err
		}
		return nil
	},
}
