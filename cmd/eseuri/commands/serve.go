package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/FiveIT/eseuri/internal/app"
	"github.com/FiveIT/eseuri/internal/auth"
	"github.com/FiveIT/eseuri/internal/gateway"
	"github.com/FiveIT/eseuri/internal/search"
	"github.com/FiveIT/eseuri/internal/session"
	"github.com/FiveIT/eseuri/internal/subject"
	"github.com/FiveIT/eseuri/internal/submission"
	"github.com/google/go-tika/tika"
	"github.com/spf13/cobra"
)

func NewServeCommand(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the reader HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := load()
			if err != nil {
				return err
			}
			return serve(rt)
		},
	}
}

func serve(rt *runtime) error {
	cfg, logger := rt.cfg, rt.logger

	client, err := rt.gateway(gateway.ContextToken{})
	if err != nil {
		return err
	}

	var verifier *auth.Verifier
	if strings.TrimSpace(cfg.HasuraJWTSecret) != "" {
		verifier, err = auth.ParseSecret(cfg.HasuraJWTSecret)
		if err != nil {
			return err
		}
	} else {
		logger.Warn("HASURA_GRAPHQL_JWT_SECRET not set, bearer tokens are forwarded unverified")
	}

	var (
		store  session.Store
		pinger func(context.Context) error
	)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		logger.Info("using redis for reading sessions")
		redisStore, err := session.NewRedisStore(cfg.RedisURL, cfg.SessionTTL)
		if err != nil {
			return err
		}
		defer redisStore.Close()
		store, pinger = redisStore, redisStore.Ping
	} else {
		logger.Info("using in-memory reading sessions")
		store = session.NewMemoryStore(cfg.SessionTTL)
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliKey, logger)
	}
	searchService := search.NewService(meiliClient, subject.NewResolver(client), logger)
	defer searchService.Close()

	var extractor submission.Extractor
	if cfg.TikaURL != "" {
		extractor = tika.NewClient(nil, cfg.TikaURL)
	} else {
		logger.Warn("TIKA_URL not set, work uploads are disabled")
	}

	service := app.New(app.Options{
		Executor:   client,
		Subscriber: client,
		Store:      store,
		Search:     searchService,
		Verifier:   verifier,
		Extractor:  extractor,
		Logger:     logger,
		Pinger:     pinger,
	})

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("eseuri API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown error")
	}
	return nil
}
