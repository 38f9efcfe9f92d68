package service

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/taskboard/pkg/audit"
	"github.com/platinummonkey/taskboard/pkg/auth"
	"github.com/platinummonkey/taskboard/pkg/authn"
	"github.com/platinummonkey/taskboard/pkg/config"
	"github.com/platinummonkey/taskboard/pkg/credentials"
	"github.com/platinummonkey/taskboard/pkg/httputil"
	"github.com/platinummonkey/taskboard/pkg/keylock"
	"github.com/platinummonkey/taskboard/pkg/mail"
	"github.com/platinummonkey/taskboard/pkg/membership"
	"github.com/platinummonkey/taskboard/pkg/observability"
	"github.com/platinummonkey/taskboard/pkg/sweeper"
	"github.com/platinummonkey/taskboard/pkg/throttle"
	"github.com/platinummonkey/taskboard/pkg/users"
)

const lockPrefix = "taskboard:lock:"

// Deps are the connections the service is built on. Redis may be nil when
// the configuration keeps throttling in process. Mailer defaults to a
// logging mailer.
type Deps struct {
	DB       *sql.DB
	Redis    *redis.Client
	Mailer   mail.Mailer
	Logger   *observability.Logger
	Registry *prometheus.Registry
	Version  string
	Clock    func() time.Time
}

// Service is the assembled access and credential core
type Service struct {
	Users         users.Directory
	Authenticator *authn.Authenticator
	Membership    *membership.SQLStore
	RefreshTokens *credentials.RefreshTokens
	ResetTokens   *credentials.ResetTokens
	Sweeper       *sweeper.Sweeper
	Health        *observability.HealthChecker
	Metrics       *observability.Metrics
	Audit         audit.Logger

	registry *prometheus.Registry
	logger   *observability.Logger
}

// New wires every component from cfg
func New(cfg *config.Config, deps Deps) (*Service, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("service requires a database")
	}
	logger := deps.Logger
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	now := deps.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	dbAudit, err := audit.NewDBLogger(deps.DB)
	if err != nil {
		return nil, err
	}
	auditLog := audit.NewMultiLogger(dbAudit, audit.NewSlogLogger(logger))

	hasher, err := auth.NewHasher(auth.HashAlgorithm(cfg.Auth.HashAlgorithm))
	if err != nil {
		return nil, err
	}
	tokens := auth.NewTokenGenerator(hasher)
	access, err := auth.NewAccessTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.AccessTTL)
	if err != nil {
		return nil, err
	}
	access.WithClock(now)

	locker, err := newLocker(cfg, deps.Redis, logger)
	if err != nil {
		return nil, err
	}
	loginThrottle, resetThrottle, err := newThrottles(cfg, deps.Redis, now)
	if err != nil {
		return nil, err
	}

	directory := users.NewSQLDirectory(deps.DB)
	credOpts := []credentials.Option{
		credentials.WithClock(now),
		credentials.WithLogger(logger),
		credentials.WithMetrics(metrics),
		credentials.WithAudit(auditLog),
	}
	refresh := credentials.NewRefreshTokens(deps.DB, directory, tokens, locker,
		append(credOpts, credentials.WithTTL(cfg.Auth.RefreshTTL))...)
	reset := credentials.NewResetTokens(deps.DB, directory, tokens, locker,
		append(credOpts, credentials.WithTTL(cfg.Auth.ResetTTL))...)

	mailer := deps.Mailer
	if mailer == nil {
		mailer = mail.NewLogMailer(logger)
	}

	authenticator, err := authn.New(authn.Config{
		Users:         directory,
		Hasher:        hasher,
		LoginThrottle: loginThrottle,
		ResetThrottle: resetThrottle,
		RefreshTokens: refresh,
		ResetTokens:   reset,
		AccessTokens:  access,
		Mailer:        mailer,
		Logger:        logger,
		Metrics:       metrics,
		Audit:         auditLog,
		Clock:         now,
	})
	if err != nil {
		return nil, err
	}

	store := membership.NewSQLStore(deps.DB, locker,
		membership.WithLogger(logger),
		membership.WithAudit(auditLog),
		membership.WithMetrics(metrics),
		membership.WithClock(now),
	)

	sweep, err := sweeper.New(deps.DB, refresh, reset,
		sweeper.WithSchedule(cfg.Sweeper.Schedule),
		sweeper.WithRetention(cfg.Sweeper.Retention),
		sweeper.WithStepTimeout(cfg.Sweeper.StepTimeout),
		sweeper.WithClock(now),
		sweeper.WithLogger(logger),
		sweeper.WithMetrics(metrics),
		sweeper.WithAudit(auditLog),
	)
	if err != nil {
		return nil, err
	}

	return &Service{
		Users:         directory,
		Authenticator: authenticator,
		Membership:    store,
		RefreshTokens: refresh,
		ResetTokens:   reset,
		Sweeper:       sweep,
		Health:        observability.NewHealthChecker(deps.DB, deps.Redis, deps.Version).WithMetrics(metrics),
		Metrics:       metrics,
		Audit:         auditLog,
		registry:      registry,
		logger:        logger,
	}, nil
}

func newLocker(cfg *config.Config, client *redis.Client, logger *observability.Logger) (keylock.Locker, error) {
	if cfg.Auth.ThrottleBackend != config.ThrottleRedis {
		return keylock.NewLocal(keylock.DefaultShards), nil
	}
	if client == nil {
		return nil, fmt.Errorf("redis backend selected but no redis client given")
	}
	return keylock.NewRedis(client, lockPrefix, cfg.Redis.LockLease).WithLogger(logger), nil
}

func newThrottles(cfg *config.Config, client *redis.Client, now func() time.Time) (*throttle.Throttle, *throttle.Throttle, error) {
	policy := throttle.Policy{
		Threshold: cfg.Auth.LockoutThreshold,
		Lockout:   cfg.Auth.LockoutDuration,
		Probation: cfg.Auth.ProbationDuration,
	}

	var store throttle.Store
	switch cfg.Auth.ThrottleBackend {
	case config.ThrottleRedis:
		if client == nil {
			return nil, nil, fmt.Errorf("redis backend selected but no redis client given")
		}
		store = throttle.NewRedisStore(client)
	default:
		maxTTL := policy.Lockout
		if policy.Probation > maxTTL {
			maxTTL = policy.Probation
		}
		store = throttle.NewMemoryStore(cfg.Auth.ThrottleCacheSize, maxTTL)
	}

	login, err := throttle.New(store, throttle.NamespaceLogin, policy)
	if err != nil {
		return nil, nil, err
	}
	reset, err := throttle.New(store, throttle.NamespaceResetEmail, policy)
	if err != nil {
		return nil, nil, err
	}
	return login.WithClock(now), reset.WithClock(now), nil
}

// AdminRouter serves /healthz, /readyz, POST /sweep and, when metrics are
// enabled, /metrics
func (s *Service) AdminRouter() http.Handler {
	r := mux.NewRouter()
	r.Use(observability.RecoveryMiddleware(s.logger))
	r.Use(httputil.RequestIDMiddleware)
	r.Use(httputil.LoggingMiddleware(s.logger))
	r.Use(observability.HTTPMetricsMiddleware(s.Metrics))

	observability.RegisterHealthRoutes(r, s.Health)
	if s.Metrics != nil {
		r.Handle("/metrics", observability.MetricsHandler(s.registry)).Methods(http.MethodGet)
	}
	r.HandleFunc("/sweep", s.handleSweep).Methods(http.MethodPost)

	return otelhttp.NewHandler(r, "admin")
}

// handleSweep runs a maintenance sweep now, joining one already in flight
func (s *Service) handleSweep(w http.ResponseWriter, r *http.Request) {
	report, err := s.Sweeper.RunOnce(r.Context())
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Manual sweep failed")
		if ctxErr := r.Context().Err(); ctxErr != nil {
			httputil.WriteError(w, http.StatusServiceUnavailable, ctxErr)
			return
		}
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, report)
}

// Start begins the sweeper schedule
func (s *Service) Start(ctx context.Context) error {
	return s.Sweeper.Start(ctx)
}

// Stop halts the sweeper and waits for a running sweep
func (s *Service) Stop(ctx context.Context) error {
	select {
	case <-s.Sweeper.Stop().Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sweeper did not stop: %w", ctx.Err())
	}
}
