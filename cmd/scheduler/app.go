package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/agentfi/agentfi-bot-scheduler/internal/actions"
	"github.com/agentfi/agentfi-bot-scheduler/internal/agent"
	"github.com/agentfi/agentfi-bot-scheduler/internal/auth"
	"github.com/agentfi/agentfi-bot-scheduler/internal/engine"
	"github.com/agentfi/agentfi-bot-scheduler/internal/executor"
	"github.com/agentfi/agentfi-bot-scheduler/internal/pool"
	"github.com/agentfi/agentfi-bot-scheduler/internal/schedule"
	"github.com/agentfi/agentfi-bot-scheduler/internal/store"
	"github.com/agentfi/agentfi-bot-scheduler/internal/window"
	"github.com/agentfi/agentfi-bot-scheduler/pkg/config"
)

const metricsNamespace = "botsched"

// app holds the connections and services shared by every command.
type app struct {
	cfg    *config.Config
	loc    *time.Location
	keys   schedule.Keys
	db     *pgxpool.Pool
	rdb    *redis.Client
	store  *store.Store
	sched  schedule.Store
	agents *agent.Registry
	window *window.Manager
}

func newApp(ctx context.Context) (*app, error) {
	// --- Config ---
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	initLogger(cfg.Log.Level)

	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	// --- Database ---
	db, err := pgxpool.New(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("create db pool: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	slog.Info("database connected")

	// --- Schedule store ---
	var (
		rdb   *redis.Client
		sched schedule.Store
	)
	if useMemoryStore {
		sched = schedule.NewMemoryStore(nil)
		slog.Warn("schedule state kept in memory, run a single instance only")
	} else {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb = redis.NewClient(redisOpts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			db.Close()
			rdb.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		slog.Info("redis connected")
		sched = schedule.NewRedisStore(rdb)
	}

	keys := schedule.Keys{Prefix: cfg.Scheduler.KeyPrefix}
	st := store.NewStore(db)
	return &app{
		cfg:    cfg,
		loc:    loc,
		keys:   keys,
		db:     db,
		rdb:    rdb,
		store:  st,
		sched:  sched,
		agents: agent.NewRegistry(st),
		window: window.NewManager(sched, window.ManagerConfig{
			Keys:     keys,
			Location: loc,
			GuardTTL: cfg.Scheduler.ResetGuardTTL,
			Logger:   slog.Default(),
		}),
	}, nil
}

func (a *app) Close() {
	if a.rdb != nil {
		a.rdb.Close()
	}
	a.db.Close()
}

func (a *app) actions() ([]engine.Action, error) {
	return actions.Build(actions.Deps{
		Config:    a.cfg.Actions,
		Location:  a.loc,
		DevWindow: a.cfg.Scheduler.DevWindow,
		Registry:  a.agents,
		Window:    a.window,
		Stakes:    pool.NewStakeSource(a.store, a.agents, a.cfg.Pool, nil, slog.Default()),
		Logger:    slog.Default(),
	})
}

// executor builds the backend client behind its circuit breaker.
func (a *app) executor() executor.Executor {
	return executor.NewBreaker(
		executor.NewHTTPClient(a.cfg.Executor),
		a.cfg.Executor.BreakerThreshold,
		a.cfg.Executor.BreakerCooldown,
	)
}

// distributor builds the pool settlement task. A nil metrics discards the
// instruments, which suits one-shot commands.
func (a *app) distributor(metrics *pool.Metrics, exec executor.Executor) *pool.Distributor {
	return pool.NewDistributor(a.store, a.sched, pool.DistributorConfig{
		Keys:        a.keys,
		EpochLength: a.cfg.Pool.EpochLength,
		Interval:    a.cfg.Pool.DistributeInterval,
		Metrics:     metrics,
		Unstaker:    exec,
		Logger:      slog.Default(),
	})
}

// buildEngine registers one scheduler per enabled action plus the pool
// distributor.
func (a *app) buildEngine(reg prometheus.Registerer) (*engine.Engine, error) {
	metrics := engine.NewMetrics(metricsNamespace, reg)
	eng := engine.New(metrics, slog.Default())

	acts, err := a.actions()
	if err != nil {
		return nil, err
	}
	exec := a.executor()
	for _, act := range acts {
		s := engine.NewScheduler(act, engine.Deps{
			Store:       a.sched,
			Keys:        a.keys,
			Agents:      a.agents,
			Executor:    exec,
			Location:    a.loc,
			MinDelay:    a.cfg.Scheduler.MinDelay,
			Concurrency: a.cfg.Scheduler.Concurrency,
			Metrics:     metrics,
			Logger:      slog.Default(),
		})
		if err := eng.Register(s); err != nil {
			return nil, err
		}
	}
	if err := eng.Register(a.distributor(pool.NewMetrics(metricsNamespace, reg), exec)); err != nil {
		return nil, err
	}
	return eng, nil
}

func newMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func newRouter(eng *engine.Engine, agents *agent.Registry, reg *prometheus.Registry, authSvc *auth.Service) *chi.Mux {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	r.Route("/api", func(r chi.Router) {
		if authSvc != nil && authSvc.Enabled() {
			r.Use(authSvc.Middleware)
		}
		r.Mount("/schedulers", engine.NewHandler(eng).Routes())
		r.Mount("/agents", agent.NewHandler(agents).Routes())
	})

	return r
}

func initLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}
