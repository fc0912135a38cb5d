package main

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/opsdash/authgate/internal/core/auth"
	"github.com/opsdash/authgate/internal/core/ports"
	"github.com/opsdash/authgate/internal/core/service"
	amqpsink "github.com/opsdash/authgate/internal/infrastructure/amqp"
	"github.com/opsdash/authgate/internal/infrastructure/config"
	"github.com/opsdash/authgate/internal/infrastructure/db/memory"
	mongostore "github.com/opsdash/authgate/internal/infrastructure/db/mongo"
	"github.com/opsdash/authgate/internal/infrastructure/db/postgres"
	redisstore "github.com/opsdash/authgate/internal/infrastructure/db/redis"
	"github.com/opsdash/authgate/internal/infrastructure/queue"
	"github.com/opsdash/authgate/internal/pkg/metrics"
)

const (
	sweepTaskWindows  = "rate_limit_windows"
	sweepTaskSessions = "sessions"
)

// deps holds every long-lived collaborator built from Config. close releases
// them in reverse order of construction.
type deps struct {
	store      ports.CredentialStore
	health     map[string]ports.Pinger
	authority  auth.TokenAuthority
	limiter    *auth.RateLimiter
	sweepTasks []auth.SweepTask
	sinks      []ports.AuditSink
	closers    []func() error
}

func (d *deps) onClose(fn func() error) {
	d.closers = append(d.closers, fn)
}

func (d *deps) close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i]())
	}
	return errors.Join(errs...)
}

func buildDeps(ctx context.Context, cfg *config.Config, log zerolog.Logger) (_ *deps, err error) {
	d := &deps{health: make(map[string]ports.Pinger)}
	defer func() {
		if err != nil {
			_ = d.close()
		}
	}()

	if err := d.buildStore(ctx, cfg, log); err != nil {
		return nil, err
	}
	if err := d.buildLimiter(ctx, cfg); err != nil {
		return nil, err
	}
	if err := d.buildAuthority(cfg); err != nil {
		return nil, err
	}
	if err := d.buildAuditSinks(ctx, cfg, log); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *deps) buildStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		m, err := postgres.NewMigrator(cfg.Store.DatabaseURL)
		if err != nil {
			return err
		}
		err = m.Up()
		_ = m.Close()
		if err != nil {
			return err
		}

		pool, err := postgres.Connect(ctx, cfg.Store.DatabaseURL, cfg.Store.Timeout)
		if err != nil {
			return err
		}
		d.onClose(func() error { pool.Close(); return nil })

		store := postgres.NewCredentialStore(pool)
		d.store = store
		d.health["postgres"] = store

	case config.BackendMongo:
		if err := d.connectMongo(ctx, cfg); err != nil {
			return err
		}

	default:
		log.Warn().Msg("using in-memory credential store; accounts are lost on restart")
		store := memory.NewCredentialStore()
		d.store = store
		d.health["store"] = store
	}
	return nil
}

// connectMongo is shared by the credential store and the audit sink.
func (d *deps) connectMongo(ctx context.Context, cfg *config.Config) error {
	client, db, err := mongostore.Connect(ctx, mongostore.Config{
		URI:      cfg.Mongo.URI,
		Database: cfg.Mongo.Database,
		Timeout:  cfg.Store.Timeout,
	})
	if err != nil {
		return err
	}
	d.onClose(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return client.Disconnect(ctx)
	})
	d.health["mongo"] = mongostore.NewPinger(client)

	if cfg.Store.Backend == config.BackendMongo {
		store := mongostore.NewCredentialStore(db)
		if err := store.EnsureIndexes(ctx); err != nil {
			return err
		}
		d.store = store
	}
	if cfg.Audit.Mongo {
		d.sinks = append(d.sinks, mongostore.NewAuditRepository(db))
	}
	return nil
}

func (d *deps) buildLimiter(ctx context.Context, cfg *config.Config) error {
	if cfg.RateLimit.Backend == config.BackendRedis {
		client, err := redisstore.Connect(ctx, redisstore.Config{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		if err != nil {
			return err
		}
		d.onClose(client.Close)
		d.health["redis"] = redisstore.NewPinger(client)
		d.limiter = auth.NewRateLimiter(redisstore.NewRateLimitStore(client))
		return nil
	}

	store := auth.NewMemoryStore()
	d.limiter = auth.NewRateLimiter(store)
	d.sweepTasks = append(d.sweepTasks, auth.SweepTask{Name: sweepTaskWindows, Sweep: store.Sweep, Size: store.Len})
	return nil
}

func (d *deps) buildAuthority(cfg *config.Config) error {
	if cfg.Auth.Mode == config.ModeSession {
		registry := auth.NewSessionRegistry(cfg.Auth.TokenTTL)
		d.authority = auth.NewSessionAuthority(registry)
		d.sweepTasks = append(d.sweepTasks, auth.SweepTask{Name: sweepTaskSessions, Sweep: registry.Sweep, Size: registry.Len})
		return nil
	}

	codec, err := auth.NewTokenCodec([]byte(cfg.Auth.TokenSecret), cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}
	d.authority = auth.NewStatelessAuthority(codec)
	return nil
}

// buildAuditSinks adds the Mongo sink (when the store did not already
// connect) and the AMQP sink. The log sink is always present.
func (d *deps) buildAuditSinks(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	if cfg.UsesMongo() && cfg.Store.Backend != config.BackendMongo {
		if err := d.connectMongo(ctx, cfg); err != nil {
			return err
		}
	}
	if cfg.Audit.AMQPURL != "" {
		pub, err := amqpsink.Dial(cfg.Audit.AMQPURL, cfg.Audit.AMQPQueue)
		if err != nil {
			return err
		}
		d.onClose(pub.Close)
		d.sinks = append(d.sinks, pub)
	}
	d.sinks = append(d.sinks, service.NewLogSink(log))
	return nil
}

func newAuthService(cfg *config.Config, d *deps, audit ports.AuditRecorder, log zerolog.Logger) (*service.AuthService, error) {
	return service.NewAuthService(
		d.store,
		auth.NewPasswordHasher(cfg.Auth.PBKDF2Iterations, cfg.Auth.PasswordMinLength),
		d.authority,
		d.limiter,
		audit,
		service.AuthConfig{
			LoginPolicy:     auth.Policy{MaxAttempts: cfg.RateLimit.LoginMax, Window: cfg.RateLimit.LoginWindow},
			SignupPolicy:    auth.Policy{MaxAttempts: cfg.RateLimit.SignupMax, Window: cfg.RateLimit.SignupWindow},
			StoreTimeout:    cfg.Store.Timeout,
			LimiterFailOpen: cfg.RateLimit.FailOpen,
		},
		log,
	)
}

func newJanitor(cfg *config.Config, d *deps, log zerolog.Logger) *auth.Janitor {
	return auth.NewJanitor(cfg.RateLimit.SweepInterval, log, func(task string, remaining int) {
		metrics.TrackedEntries.WithLabelValues(task).Set(float64(remaining))
	}, d.sweepTasks...)
}

func newDispatcher(cfg *config.Config, d *deps, log zerolog.Logger) *queue.Dispatcher {
	return queue.NewDispatcher(cfg.Audit.Workers, service.NewAuditService(log, d.sinks...), log)
}
