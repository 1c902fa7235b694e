// Package app wires the Comminq server runtime: config, logging, storage,
// account workflows and HTTP routes.
package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/walid-hamdi/Comminq-backend/cmd/identity"
	"github.com/walid-hamdi/Comminq-backend/cmd/internal/account"
	authapi "github.com/walid-hamdi/Comminq-backend/cmd/internal/auth/api"
	"github.com/walid-hamdi/Comminq-backend/cmd/internal/auth/session"
	"github.com/walid-hamdi/Comminq-backend/cmd/internal/metrics"
	"github.com/walid-hamdi/Comminq-backend/cmd/internal/notify"
	"github.com/walid-hamdi/Comminq-backend/cmd/internal/oauth"
	"github.com/walid-hamdi/Comminq-backend/cmd/internal/ratelimit"
	"github.com/walid-hamdi/Comminq-backend/cmd/security/password"
)

// App is the Comminq server runtime. It owns the pool, the Redis client and
// the notification worker and releases them on shutdown.
type App struct {
	cfg Config
	log Logger

	dbPool *pgxpool.Pool
	redis  *redis.Client
	notify *notify.Dispatcher

	metrics *metrics.Metrics
	handler http.Handler
}

// New constructs a fully wired App from cfg. Component settings are read from
// the environment by their own packages.
func New(ctx context.Context, cfg Config, log Logger) (_ *App, err error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	a := &App{cfg: cfg, log: log, metrics: metrics.New(true)}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	secrets, err := newSecretHasher(cfg)
	if err != nil {
		return nil, err
	}
	if !secrets.HMACEnabled() {
		log.Warn("security.secret_hash.unkeyed", "hint", "set COMMINQ_TOKEN_HMAC_KEY")
	}

	store, err := a.newStore(ctx)
	if err != nil {
		return nil, err
	}
	limiter, err := a.newLimiter(ctx)
	if err != nil {
		return nil, err
	}

	pcfg, err := password.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	creds, err := password.New(pcfg, password.WithObserver(a.metrics.ObserveHash))
	if err != nil {
		return nil, err
	}

	scfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	issuer, err := session.NewIssuer(scfg)
	if err != nil {
		return nil, err
	}

	dcfg, err := notify.LoadDispatcherConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if cfg.NotifyLogSecrets && cfg.Production() {
		return nil, errors.New("security policy: COMMINQ_NOTIFY_LOG_SECRETS is not allowed in production")
	}
	a.notify = notify.NewDispatcher(
		notify.LogNotifier{Log: log, LogSecrets: cfg.NotifyLogSecrets},
		dcfg,
		notify.WithLogger(log),
		notify.WithDropHook(a.metrics.NotificationDropped),
	)

	acfg, err := account.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	svc, err := account.New(acfg, account.Deps{
		Store:       store,
		Credentials: creds,
		Secrets:     secrets,
		Tokens:      issuer,
		Notifier:    a.notify,
		Limiter:     limiter,
		Provider:    oauth.NewGoogleProvider(oauth.WithEndpoint(cfg.GooglePeopleURL)),
		Metrics:     a.metrics,
		Log:         log,
	})
	if err != nil {
		return nil, err
	}

	apiCfg, err := authapi.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if cfg.Production() {
		apiCfg.CookieSecure = true
	}
	auth, err := authapi.NewHandler(svc, apiCfg, authapi.WithLogger(log))
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	registerHTTP(mux, log, cfg, a.dbPool, a.metrics, auth)
	a.handler = WithRequestLogging(WithSecurityHeaders(WithCORS(mux, cfg, log)), log)

	return a, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "env", a.cfg.Env,
		"db_enabled", a.dbPool != nil, "redis_enabled", a.redis != nil)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		a.close()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
	}

	// In-flight requests are done; drain queued notifications before the pool goes away.
	a.close()
	a.log.Info("server.stopped")
	return err
}

func (a *App) close() {
	if a.notify != nil {
		a.notify.Close()
		if n := a.notify.Dropped(); n > 0 {
			a.log.Warn("notify.dropped.total", "count", n)
		}
		a.notify = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Error("redis.close.fail", "err", err)
		}
		a.redis = nil
	}
	if a.dbPool != nil {
		a.dbPool.Close()
		a.dbPool = nil
	}
}

// newStore decides between Postgres-backed persistence and the in-memory dev store.
func (a *App) newStore(ctx context.Context) (identity.Store, error) {
	if strings.TrimSpace(a.cfg.DatabaseURL) == "" {
		if a.cfg.Production() {
			a.log.Warn("db.disabled.inmemory_store", "env", a.cfg.Env)
		} else {
			a.log.Info("db.disabled.inmemory_store")
		}
		return identity.NewMemoryStore(), nil
	}

	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return nil, err
	}
	a.dbPool = pool

	if a.cfg.DBAutoMigrate {
		if err := identity.Migrate(ctx, pool); err != nil {
			return nil, err
		}
		a.log.Info("db.migrate.done")
	}

	st, err := identity.NewPostgresStore(pool)
	if err != nil {
		return nil, err
	}
	a.log.Info("db.enabled.postgres_store")
	return st, nil
}

// newLimiter uses Redis when configured so windows are shared across replicas.
func (a *App) newLimiter(ctx context.Context) (ratelimit.Limiter, error) {
	if strings.TrimSpace(a.cfg.RedisURL) == "" {
		a.log.Info("ratelimit.memory")
		return ratelimit.NewMemoryLimiter(nil), nil
	}

	client, err := NewRedisClient(ctx, a.cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	a.redis = client
	a.log.Info("ratelimit.redis")
	return ratelimit.NewRedisLimiter(client, a.cfg.RedisPrefix), nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
