package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"hydrowave/api/internal/app"
	"hydrowave/api/internal/auth"
	"hydrowave/api/internal/config"
	"hydrowave/api/internal/export"
	"hydrowave/api/internal/geocode"
	"hydrowave/api/internal/insight"
	"hydrowave/api/internal/logging"
	"hydrowave/api/internal/media"
	"hydrowave/api/internal/search"
	"hydrowave/api/internal/session"
	"hydrowave/api/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.Database.URL)
	if err != nil {
		logging.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if _, err := store.ApplyMigrations(ctx, db, cfg.Database.MigrationsDir); err != nil {
		logging.Fatal().Err(err).Msg("migrations failed")
	}
	dataStore := store.NewPostgresStore(db)

	tokens, err := auth.NewCodec(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		logging.Fatal().Err(err).Msg("token codec")
	}

	var revoked app.RevocationList
	if strings.TrimSpace(cfg.Redis.URL) != "" {
		logging.Info().Msg("using Redis for token revocation")
		redisStore, err := session.NewRedisStore(cfg.Redis.URL)
		if err != nil {
			logging.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		revoked = redisStore
	} else {
		logging.Info().Msg("using PostgreSQL for token revocation")
		sqlStore := session.NewSQLStore(dataStore)
		go purgeRevocations(ctx, sqlStore)
		revoked = sqlStore
	}

	var images *media.Uploader
	if strings.TrimSpace(cfg.Storage.Endpoint) != "" {
		images, err = media.NewMinio(ctx, media.Config{
			Endpoint:      cfg.Storage.Endpoint,
			AccessKey:     cfg.Storage.AccessKey,
			SecretKey:     cfg.Storage.SecretKey,
			Bucket:        cfg.Storage.Bucket,
			PublicBaseURL: cfg.Storage.PublicBaseURL,
			UseSSL:        cfg.Storage.UseSSL,
			MaxBytes:      cfg.Storage.MaxUploadBytes,
		})
		if err != nil {
			logging.Fatal().Err(err).Msg("object storage setup failed")
		}
	} else {
		logging.Warn().Msg("storage.endpoint not set, image uploads disabled")
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.Search.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.Search.MeiliURL, cfg.Search.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewPgFTS(dataStore))
	go searchService.ReindexAllFromPG(ctx)

	insightClient := insight.New(insight.Config{
		APIKey:  cfg.Insight.APIKey,
		Model:   cfg.Insight.Model,
		BaseURL: cfg.Insight.BaseURL,
		Timeout: cfg.Insight.Timeout,
	})
	if !insightClient.Enabled() {
		logging.Warn().Msg("GEMINI_API_KEY not set, AI insight disabled")
	}

	service := app.New(*cfg, app.Dependencies{
		Store:   dataStore,
		Tokens:  tokens,
		Revoked: revoked,
		Images:  images,
		Geocoder: geocode.New(geocode.Config{
			BaseURL:   cfg.Geocoding.BaseURL,
			UserAgent: cfg.Geocoding.UserAgent,
			Timeout:   cfg.Geocoding.Timeout,
		}),
		Insight: insightClient,
		Search:  searchService,
		Export:  export.NewService(dataStore),
	})

	httpServer := app.NewHTTPServer(service, cfg.Server.CORSOrigins, cfg.Server.AuthRateLimit)
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	go func() {
		logging.Info().Str("addr", cfg.Server.Addr).Str("environment", cfg.Environment).Msg("HydroWave API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logging.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("shutdown error")
	}
}

// purgeRevocations drops expired rows from the Postgres revocation table.
func purgeRevocations(ctx context.Context, s *session.SQLStore) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Purge(ctx)
			if err != nil {
				logging.Warn().Err(err).Msg("purge revoked tokens")
				continue
			}
			if n > 0 {
				logging.Debug().Int64("count", n).Msg("purged revoked tokens")
			}
		}
	}
}
