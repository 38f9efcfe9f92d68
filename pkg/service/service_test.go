package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/taskboard/pkg/authn"
	"github.com/platinummonkey/taskboard/pkg/config"
	"github.com/platinummonkey/taskboard/pkg/mail"
	"github.com/platinummonkey/taskboard/pkg/rbac"
	"github.com/platinummonkey/taskboard/pkg/storage/sqltest"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Database.URL = "postgres://unused"
	cfg.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
	return cfg
}

func TestNew_RequiresDB(t *testing.T) {
	_, err := New(testConfig(), Deps{})
	assert.Error(t, err)
}

func TestNew_RedisBackendRequiresClient(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.ThrottleBackend = config.ThrottleRedis

	_, err := New(cfg, Deps{DB: sqltest.Open(t)})
	assert.Error(t, err)
}

func TestService_EndToEnd(t *testing.T) {
	backends := map[string]func(t *testing.T) (*config.Config, *redis.Client){
		"memory": func(t *testing.T) (*config.Config, *redis.Client) {
			return testConfig(), nil
		},
		"redis": func(t *testing.T) (*config.Config, *redis.Client) {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { client.Close() })
			cfg := testConfig()
			cfg.Redis.URL = "redis://" + mr.Addr()
			cfg.Auth.ThrottleBackend = config.ThrottleRedis
			return cfg, client
		},
	}

	for name, setup := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			cfg, client := setup(t)
			db := sqltest.Open(t)
			clock := sqltest.NewClock()
			outbox := &mail.Outbox{}

			svc, err := New(cfg, Deps{DB: db, Redis: client, Mailer: outbox, Clock: clock.Now, Version: "test"})
			require.NoError(t, err)

			reg, err := svc.Authenticator.Register(ctx, "ada@example.com", "Ada", "pw")
			require.NoError(t, err)
			require.Equal(t, authn.OutcomeSuccess, reg.Outcome)

			for i := 0; i < cfg.Auth.LockoutThreshold; i++ {
				_, err := svc.Authenticator.Login(ctx, "ada@example.com", "wrong")
				require.NoError(t, err)
			}
			login, err := svc.Authenticator.Login(ctx, "ada@example.com", "pw")
			require.NoError(t, err)
			assert.Equal(t, authn.OutcomeLocked, login.Outcome)

			clock.Advance(cfg.Auth.LockoutDuration)
			login, err = svc.Authenticator.Login(ctx, "ada@example.com", "pw")
			require.NoError(t, err)
			require.Equal(t, authn.OutcomeSuccess, login.Outcome)

			session, err := svc.Authenticator.StartSession(ctx, login.User)
			require.NoError(t, err)
			assert.NotEmpty(t, session.RefreshToken)

			ws := sqltest.SeedWorkspace(t, db, "acme")
			owner, err := svc.Membership.AddOwner(ctx, ws, login.User.ID)
			require.NoError(t, err)
			require.NotNil(t, owner)
			assert.Equal(t, rbac.RoleOwner, owner.Role)

			_, err = svc.Sweeper.RunOnce(ctx)
			require.NoError(t, err)

			// Events reach the database audit trail
			assert.Positive(t, sqltest.Count(t, db, `SELECT COUNT(*) FROM audit_events`))
		})
	}
}

func TestService_AdminRouter(t *testing.T) {
	svc, err := New(testConfig(), Deps{DB: sqltest.Open(t), Version: "test"})
	require.NoError(t, err)
	router := svc.AdminRouter()

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "taskboard_http_requests_total")
}

func TestService_ManualSweep(t *testing.T) {
	db := sqltest.Open(t)
	svc, err := New(testConfig(), Deps{DB: db, Clock: sqltest.NewClock().Now})
	require.NoError(t, err)

	ws := sqltest.SeedWorkspace(t, db, "acme")
	board := sqltest.SeedBoard(t, db, ws, "old")
	_, err = db.Exec(`UPDATE boards SET archived_at = $1 WHERE id = $2`, sqltest.Epoch.AddDate(0, 0, -40), board)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	svc.AdminRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sweep", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"boards":1`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestService_ManualSweepInterrupted(t *testing.T) {
	db := sqltest.Open(t)
	svc, err := New(testConfig(), Deps{DB: db, Clock: sqltest.NewClock().Now})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/sweep", nil).WithContext(ctx)

	rec := httptest.NewRecorder()
	svc.AdminRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), context.Canceled.Error())
}

func TestService_MetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Observability.MetricsEnabled = false
	svc, err := New(cfg, Deps{DB: sqltest.Open(t)})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	svc.AdminRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestService_StartStop(t *testing.T) {
	svc, err := New(testConfig(), Deps{DB: sqltest.Open(t)})
	require.NoError(t, err)

	require.NoError(t, svc.Start(context.Background()))
	assert.NoError(t, svc.Stop(context.Background()))
}
