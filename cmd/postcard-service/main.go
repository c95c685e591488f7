package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/xlpostcards/postcard-service/internal/api"
	"github.com/xlpostcards/postcard-service/internal/compose"
	"github.com/xlpostcards/postcard-service/internal/config"
	"github.com/xlpostcards/postcard-service/internal/ledger"
	"github.com/xlpostcards/postcard-service/internal/render"
	"github.com/xlpostcards/postcard-service/internal/repository"
	"github.com/xlpostcards/postcard-service/internal/service"
	"github.com/xlpostcards/postcard-service/internal/storage/artifact"
	"github.com/xlpostcards/postcard-service/internal/telemetry"
	"github.com/xlpostcards/postcard-service/pkg/db"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("load config")
	}
	log := newLogger(cfg)

	shutdownTracing, err := telemetry.Setup(context.Background(), cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		log.Fatal().Err(err).Msg("telemetry setup")
	}

	conn, err := db.Open(cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Str("driver", string(cfg.DB.Driver)).Msg("db connect")
	}
	defer conn.Close()

	store, err := artifact.New(cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Storage.Backend).Msg("artifact storage")
	}

	fonts := render.LoadFonts(cfg.Render.FontPaths, log)
	log.Info().Strs("fonts", fonts.Names()).Msg("font chain loaded")
	composer := compose.New(render.NewRenderer(fonts, cfg.Render.MaxCanvasPixels), compose.Options{
		JPEGQuality:      cfg.Render.JPEGQuality,
		MaxArtifactBytes: cfg.Render.MaxArtifactBytes,
		LogoPath:         cfg.Render.LogoPath,
		PromoURL:         cfg.Promo.AppURL,
	}, log)

	l := ledger.New(conn)
	svc := service.NewPostcardService(composer, l, repository.NewSubmissionRepo(conn), store, service.Options{
		PromoEnabled:   cfg.Promo.Enabled,
		PromoPrefix:    cfg.Promo.CodePrefix,
		FreeValueCents: cfg.Promo.FreeValueCents,
		FetchTimeout:   cfg.Render.FetchTimeout,
		FetchHosts:     cfg.Render.FetchHosts,
	})

	deps := api.Deps{
		Postcards: svc,
		Coupons:   l,
		DB:        conn,
		Monthly: ledger.MonthlyTerms{
			Prefix:          cfg.Promo.CodePrefix,
			MaxRedemptions:  cfg.Promo.MaxRedemptions,
			DiscountPercent: cfg.Promo.DiscountPercent,
			FirstTimeOnly:   cfg.Promo.FirstTimeOnly,
		},
		AdminToken:   cfg.HTTP.AdminToken,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		Logger:       log,
	}
	if local, ok := store.(*artifact.LocalStore); ok {
		deps.Artifacts = local.Handler()
	}

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      api.NewRouter(deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	// graceful shutdown
	idleConnsClosed := make(chan struct{})
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		sig := <-c
		log.Info().Str("signal", sig.String()).Msg("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown")
		}
		if err := shutdownTracing(ctx); err != nil {
			log.Error().Err(err).Msg("flush traces")
		}
		close(idleConnsClosed)
	}()

	log.Info().Str("addr", srv.Addr).Str("storage", cfg.Storage.Backend).Str("db", string(cfg.DB.Driver)).Msg("starting postcard-service")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("listen")
	}

	<-idleConnsClosed
	log.Info().Msg("server stopped")
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if cfg.Development() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Str("service", cfg.Telemetry.ServiceName).Logger()
}
