// Command server runs the ExamTrack registration service: the multi-step
// school sign-up funnel, plan catalog, availability probes, and tenant
// provisioning behind one HTTP API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"examtrack/internal/catalog"
	"examtrack/internal/email"
	jwttoken "examtrack/internal/jwt_token"
	"examtrack/internal/platform/config"
	"examtrack/internal/platform/httpserver"
	"examtrack/internal/platform/kafka"
	"examtrack/internal/platform/logger"
	platformmetrics "examtrack/internal/platform/metrics"
	"examtrack/internal/platform/middleware"
	platformredis "examtrack/internal/platform/redis"
	"examtrack/internal/registration/autosave"
	"examtrack/internal/registration/availability"
	"examtrack/internal/registration/handler"
	regmetrics "examtrack/internal/registration/metrics"
	regservice "examtrack/internal/registration/service"
	regstore "examtrack/internal/registration/store"
	"examtrack/internal/registration/verification"
	tenantservice "examtrack/internal/tenant/service"
	tenantstore "examtrack/internal/tenant/store"
	"examtrack/pkg/platform/audit"
	auditmemory "examtrack/pkg/platform/audit/store/memory"
	auditworker "examtrack/pkg/platform/audit/worker"
	"examtrack/pkg/platform/circuit"
	"examtrack/pkg/platform/httputil"
	"examtrack/pkg/platform/tx"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	// Durable stores: Postgres when a DSN is configured, memory otherwise.
	var (
		sessions regstore.SessionStore
		tenants  tenantstore.Store
		plans    catalog.Store
		runner   tx.Runner = tx.Noop{}
	)
	if cfg.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer pool.Close()

		sessionStore := regstore.NewPostgres(pool)
		tenantStore := tenantstore.NewPostgres(pool)
		planStore := catalog.NewPostgres(pool)
		for _, ensure := range []func(context.Context) error{
			sessionStore.EnsureSchema, tenantStore.EnsureSchema, planStore.EnsureSchema,
		} {
			if err := ensure(ctx); err != nil {
				return err
			}
		}
		if err := planStore.Seed(ctx, catalog.DefaultPlans()); err != nil {
			return err
		}
		sessions, tenants, plans = sessionStore, tenantStore, planStore
		runner = tx.NewPgx(pool)
		log.Info("using postgres stores")
	} else {
		sessions = regstore.NewInMemory()
		tenants = tenantstore.NewMemory()
		plans = catalog.NewInMemory(catalog.DefaultPlans()...)
		log.Warn("no postgres dsn configured, using in-memory stores")
	}

	// Volatile verification-code store: Redis when configured.
	var codes verification.CodeStore = verification.NewMemoryCodeStore()
	if cfg.RedisURL != "" {
		redisClient, err := platformredis.New(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		codes = verification.NewRedisCodeStore(redisClient)
		log.Info("using redis verification code store")
	}

	var sender email.Sender = email.NewConsoleSender(log)
	if cfg.SendGridKey != "" {
		sendgrid := email.NewSendGridSender(cfg.SendGridKey, "ExamTrack", cfg.EmailFrom)
		breaker := circuit.New("sendgrid", circuit.WithFailureThreshold(5), circuit.WithCooldown(time.Minute))
		sender = email.NewFailoverSender(sendgrid, email.NewConsoleSender(log), breaker, log)
		log.Info("using sendgrid mailer", "from", cfg.EmailFrom)
	}

	// Audit pipeline: channel publisher, worker, optional Kafka sink.
	publisher := audit.NewPublisher(1024)
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "examtrack_audit_events_dropped",
		Help: "Audit events discarded because the publisher buffer was full",
	}, func() float64 { return float64(publisher.Dropped()) })
	auditStore := auditmemory.New()
	worker := auditworker.NewWorker(auditStore, publisher.Inbox(), log)
	if len(cfg.KafkaBrokers) > 0 {
		sink, err := kafka.NewAuditSink(ctx, cfg.KafkaBrokers, cfg.AuditTopic)
		if err != nil {
			return err
		}
		defer sink.Close()
		worker = worker.WithSink(sink)
		log.Info("audit events flowing to kafka", "topic", cfg.AuditTopic)
	}
	go func() {
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("audit worker stopped", "error", err)
		}
	}()

	verifier := verification.NewService(codes, sender,
		verification.WithPolicy(verification.Policy{
			CodeTTL:        cfg.CodeTTL,
			ResendCooldown: cfg.CodeResendCooldown,
			MaxAttempts:    cfg.CodeMaxAttempts,
		}),
		verification.WithLogger(log),
	)
	checker := availability.NewChecker(sessions,
		availability.WithCacheTTL(cfg.AvailabilityCacheTTL),
		availability.WithDirectory(tenants),
	)
	saver := autosave.New(sessions,
		autosave.WithDelay(cfg.AutosaveDelay),
		autosave.WithLogger(log),
	)

	provisioner := tenantservice.New(tenants,
		tenantservice.WithLogger(log),
		tenantservice.WithAuditPublisher(publisher),
		tenantservice.WithTxRunner(runner),
	)
	tokens := jwttoken.NewService(cfg.JWTSigningKey, "examtrack", "examtrack-onboarding", cfg.OnboardingTokenTTL)

	registration := regservice.New(sessions, plans, verifier, checker, saver,
		regservice.WithLogger(log),
		regservice.WithAuditPublisher(publisher),
		regservice.WithMetrics(regmetrics.New()),
		regservice.WithProvisioner(provisioner),
		regservice.WithTenantDirectory(tenants),
		regservice.WithTokenIssuer(tokens),
	)

	httpMetrics := platformmetrics.New()
	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RequestTime,
		middleware.ClientMetadata,
		middleware.Logger(log),
		middleware.Recovery(log),
		middleware.Latency(httpMetrics),
	)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	router.Route("/v1/registration", func(r chi.Router) {
		handler.New(registration, log).Register(r)
	})

	srv := httpserver.New(cfg.Addr, router)
	errCh := make(chan error, 1)
	go func() {
		log.Info("registration server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	// Flush unsaved session edits before the stores go away.
	if err := saver.Close(shutdownCtx); err != nil {
		log.Error("autosave flush on shutdown failed", "error", err)
	}
	return nil
}
