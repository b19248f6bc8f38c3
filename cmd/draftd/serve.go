package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/koinonia/draftsafe/conf"
	"github.com/koinonia/draftsafe/draft"
	dotel "github.com/koinonia/draftsafe/pkg/otel"
	"github.com/spf13/cobra"
)

var (
	listenAddr      string
	cleanupInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the draft server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "address to listen on, overrides the config")
	serveCmd.Flags().DurationVar(&cleanupInterval, "cleanup-interval", time.Hour, "how often stale drafts are removed; 0 disables")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	shutdownTracing, err := dotel.Init(ctx, dotel.Config{ServiceName: "draftd", UseStdout: cfg.TraceStdout})
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	conn, srv, err := openServer()
	if err != nil {
		return err
	}
	defer conn.Close()

	if cfg.SessionSecret == conf.Default().SessionSecret {
		log.Warn().Msg("using the default session secret; set SessionSecret in the config")
	}
	addr := cfg.ListenAddr
	if len(listenAddr) > 0 {
		addr = listenAddr
	}

	if cleanupInterval > 0 && cfg.DraftRetention > 0 {
		go cleanupLoop(ctx, srv.Drafts.Service, cleanupInterval, cfg.DraftRetention.Std())
	}

	hs := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("listening")
		errc <- hs.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return hs.Shutdown(sctx)
}

func cleanupLoop(ctx context.Context, svc *draft.Service, every, maxAge time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := svc.Cleanup(ctx, maxAge); err != nil {
				log.Error().Err(err).Msg("draft cleanup")
			}
		}
	}
}
