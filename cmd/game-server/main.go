package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"staked-arena/internal/arena"
	"staked-arena/internal/clock"
	"staked-arena/internal/clockcache"
	"staked-arena/internal/config"
	"staked-arena/internal/events"
	"staked-arena/internal/finalize"
	"staked-arena/internal/grace"
	"staked-arena/internal/ledger"
	"staked-arena/internal/logging"
	"staked-arena/internal/matchmaking"
	"staked-arena/internal/notify"
	"staked-arena/internal/rating"
	"staked-arena/internal/recovery"
	"staked-arena/internal/session"
	"staked-arena/internal/store"
	httptransport "staked-arena/internal/transport/http"
	"staked-arena/internal/ws"

	"github.com/rs/zerolog/log"
)

const (
	eventBufferSize    = 500
	topicSweepInterval = time.Minute
	shutdownTimeout    = 15 * time.Second
)

func main() {
	app, err := config.LoadApp()
	if err != nil {
		panic(err)
	}
	logging.Init(app.Log)
	cfg, ratingCfg := app.Server, app.Rating

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(cfg.PostgresDSN, store.WithMaxConns(cfg.DBMaxConns), store.WithAppName(app.Log.Service))
	if err != nil {
		log.Fatal().Err(err).Msg("store init failed")
	}
	defer st.Close()
	if err := st.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("db ping failed")
	}

	// The cache is optional; interfaces stay nil without it.
	var (
		clockOpts   []clock.Option
		finalCache  finalize.ClockCache
		clockLoader recovery.ClockLoader
		cachePinger httptransport.Pinger
	)
	if cfg.RedisURL != "" {
		cache, err := clockcache.New(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("clock cache init failed")
		}
		defer cache.Close()
		clockOpts = append(clockOpts, clock.WithSnapshotter(cache))
		finalCache, clockLoader, cachePinger = cache, cache, cache
	} else {
		log.Warn().Msg("REDIS_URL not set, clock snapshots go to postgres only")
	}

	hub := events.NewHub(eventBufferSize)
	go hub.RunSweeper(ctx, topicSweepInterval)

	var adapter notify.Adapter = notify.NewLogAdapter(log.Logger)
	if len(cfg.KafkaBrokers) > 0 {
		kafka := notify.NewKafkaAdapter(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kafka.Close()
		adapter = kafka
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("match notifications to kafka")
	}
	notifier := notify.NewManager(notify.Config{
		Enabled:   true,
		Workers:   cfg.NotifyWorkers,
		RetryMax:  cfg.NotifyRetryMax,
		RetryBase: time.Duration(cfg.NotifyRetryBaseMS) * time.Millisecond,
	}, adapter)
	if err := notifier.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("notify start failed")
	}
	defer notifier.Close()

	tcs, err := session.LoadTimeControls(cfg.TimeControlsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load time controls failed")
	}

	engine := clock.NewEngine(hub, clockOpts...)
	led := ledger.New(st)
	coord := finalize.New(finalize.Deps{
		Store:    st,
		Clock:    engine,
		Settler:  led,
		Rater:    rating.NewService(st),
		Notifier: notifier,
		Events:   hub,
		Cache:    finalCache,
	})
	tracker := grace.New(st, coord, hub, grace.WithWindow(time.Duration(cfg.ReconnectGraceSeconds)*time.Second))
	defer tracker.Close()
	coord.SetGrace(tracker)
	engine.OnExpire(coord.OnClockExpired)

	factory := &matchFactory{}
	queue := matchmaking.New(factory, hub, tcs, cfg.StakeTiers)
	arenaSvc := arena.New(arena.Deps{
		Store:    st,
		Audience: st,
		Clocks:   engine,
		Final:    coord,
		Escrow:   led,
		Grace:    tracker,
		Queue:    queue,
		Events:   hub,
		TCs:      tcs,
	})
	factory.arena = arenaSvc

	rec := recovery.Manager{Store: st, Cache: clockLoader, Clocks: engine, Final: coord, TCs: tcs}
	report, err := rec.Recover(ctx, time.Now())
	if err != nil {
		log.Fatal().Err(err).Msg("recovery failed")
	}
	log.Info().
		Int("scanned", report.Scanned).
		Int("resumed", report.Resumed).
		Int("finalized", report.Finalized).
		Int("failed", report.Failed).
		Msg("recovery done")

	batch := rating.NewBatchUpdater(st, ratingCfg)
	if ratingCfg.Enabled {
		sched, err := rating.NewScheduler(ratingCfg.Cron, batch)
		if err != nil {
			log.Fatal().Err(err).Msg("rating scheduler init failed")
		}
		sched.Start()
		defer func() {
			if err := sched.Shutdown(); err != nil {
				log.Error().Err(err).Msg("rating scheduler shutdown failed")
			}
		}()
	}

	r := httptransport.NewRouter(httptransport.RouterDeps{
		Store:    st,
		Cache:    cachePinger,
		Sessions: arenaSvc,
		Events:   hub,
		Queues:   queue,
		Final:    coord,
		Ratings:  batch,
		WS:       ws.NewServer(arenaSvc, queue, hub),
	}, cfg)
	httptransport.LogRoutes(r)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
}

// matchFactory lets the queue reach the arena service, which itself needs
// the queue to drop entries on disconnect.
type matchFactory struct {
	arena *arena.Service
}

func (f *matchFactory) CreateMatch(ctx context.Context, first, second matchmaking.Entry, stake int64) (matchmaking.Match, error) {
	return f.arena.CreateMatch(ctx, first, second, stake)
}
