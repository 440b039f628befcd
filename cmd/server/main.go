package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quranhub/access-gate/internal/config"
	"github.com/quranhub/access-gate/internal/handler"
	"github.com/quranhub/access-gate/internal/handler/admin"
	"github.com/quranhub/access-gate/internal/middleware"
	"github.com/quranhub/access-gate/internal/model"
	"github.com/quranhub/access-gate/internal/ratelimit"
	"github.com/quranhub/access-gate/internal/service"
	"github.com/quranhub/access-gate/internal/store"
	"github.com/quranhub/access-gate/internal/usage"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	upstream, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return fmt.Errorf("parse CONTENT_UPSTREAM_URL: %w", err)
	}

	if err := runMigrations(cfg.DatabaseURL); err != nil {
		return err
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}

	pg := store.NewPostgres(pool)

	limiter, err := buildLimiter(cfg, pg)
	if err != nil {
		return err
	}

	recorderOpts := []usage.RecorderOption{}
	if cfg.KafkaEnabled() {
		mirror, err := usage.NewKafkaMirror(cfg.KafkaBrokers, cfg.KafkaUsageTopic)
		if err != nil {
			return err
		}
		defer mirror.Close()
		recorderOpts = append(recorderOpts, usage.WithMirror(mirror))
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaUsageTopic).Msg("usage mirror enabled")
	}
	recorder := usage.NewRecorder(pg, recorderOpts...)
	recorder.Start()
	defer recorder.Close()

	credentials := service.NewCredentialService(pg, cfg.Environment)
	requests := service.NewRequestService(pg, pg, credentials)
	gateway := service.NewGatewayService(credentials, pg, pg, limiter, recorder)
	sweeper := service.NewSweeper(pg, pg, pg, cfg.SweepPendingSLA)

	go sweeper.Run(ctx, cfg.SweepInterval)

	principalAuth, err := middleware.NewPrincipalAuth(cfg.OIDCIssuer, cfg.OIDCClientID)
	if err != nil {
		return err
	}

	router := buildRouter(cfg, pool, principalAuth, credentials, requests, gateway, sweeper, pg, limiter, upstream)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Str("environment", cfg.Environment).Msg("access gate listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runMigrations(databaseURL string) error {
	m, err := migrate.New("file://migrations", databaseURL)
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func buildLimiter(cfg *config.Config, pg *store.Postgres) (*ratelimit.Limiter, error) {
	switch cfg.RateLimitBackend {
	case "memory":
		return ratelimit.NewLimiter(ratelimit.NewMemoryCounters()), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return ratelimit.NewLimiter(ratelimit.NewRedisCounters(client)), nil
	default:
		return ratelimit.NewLimiter(pg), nil
	}
}

func buildRouter(
	cfg *config.Config,
	pool *pgxpool.Pool,
	principalAuth *middleware.PrincipalAuth,
	credentials *service.CredentialService,
	requests *service.RequestService,
	gateway *service.GatewayService,
	sweeper *service.Sweeper,
	pg *store.Postgres,
	limiter *ratelimit.Limiter,
	upstream *url.URL,
) chi.Router {
	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.RequestLogger)
	router.Use(middleware.SecurityHeaders)

	if len(cfg.CORSOrigins) > 0 {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	router.Method(http.MethodGet, "/healthz", handler.NewHealthHandler(pool, cfg.Environment))
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	portalLimiter := middleware.NewAuthAttemptLimiter(5, 5*time.Minute, 15*time.Minute)
	keyLimiter := middleware.NewAuthAttemptLimiter(10, 5*time.Minute, 15*time.Minute)

	router.Route("/v1", func(r chi.Router) {
		// Developer and reviewer portal, OIDC-authenticated.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireJSON)
			r.Use(principalAuth.Middleware(portalLimiter))

			r.Method(http.MethodPost, "/access-requests", handler.NewSubmitRequestHandler(requests))
			r.Method(http.MethodGet, "/access-requests", handler.NewListRequestsHandler(requests))
			r.Method(http.MethodGet, "/access-requests/{id}", handler.NewGetRequestHandler(requests))

			r.Method(http.MethodGet, "/api-keys", handler.NewListKeysHandler(credentials))
			r.Method(http.MethodPost, "/api-keys/{id}/regenerate", handler.NewRegenerateKeyHandler(credentials))
			r.Method(http.MethodDelete, "/api-keys/{id}", handler.NewRevokeKeyHandler(credentials))

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireRole(model.RoleReviewer))

				r.Method(http.MethodGet, "/access-requests", admin.NewListRequestsHandler(requests))
				r.Method(http.MethodPatch, "/access-requests/{id}", admin.NewReviewRequestHandler(requests))
				r.Method(http.MethodGet, "/usage/daily", admin.NewDailyUsageHandler(pg))

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireRole(model.RoleAdmin))

					r.Method(http.MethodGet, "/api-keys", admin.NewListAPIKeysHandler(credentials))
					r.Method(http.MethodPost, "/api-keys/{id}/revoke", admin.NewRevokeAPIKeyHandler(credentials))
					r.Method(http.MethodPost, "/sweep", admin.NewSweepHandler(sweeper))
				})
			})
		})

		// Key-authenticated surfaces.
		r.Group(func(r chi.Router) {
			r.Use(middleware.APIKeyAuth(credentials, keyLimiter))
			r.Method(http.MethodGet, "/usage", handler.NewUsageHandler(pg, limiter))
		})

		// The gateway authenticates inside the handler; rejected calls are
		// still rate-limit audited there.
		r.Handle("/distributions/{id}/*", handler.NewGatewayHandler(gateway, upstream))
	})

	return router
}
