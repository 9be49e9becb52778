package bootstrap

import (
	"context"
	"time"

	chclient "codepulse/internal/adapters/clickhouse"
	"codepulse/internal/adapters/config"
	"codepulse/internal/adapters/kafka"
	pgclient "codepulse/internal/adapters/postgres"
	redisclient "codepulse/internal/adapters/redis"
	"codepulse/internal/api"
	"codepulse/internal/api/health"
	"codepulse/internal/consumers"
	"codepulse/internal/domain/session"
	"codepulse/internal/events"
	"codepulse/internal/fanout"
	"codepulse/internal/gateway"
	"codepulse/internal/persistence"
	"codepulse/internal/reconciler"
	chrepo "codepulse/internal/repository/clickhouse"
	pgrepo "codepulse/internal/repository/postgres"
	redisrepo "codepulse/internal/repository/redis"
	"codepulse/pkg/auth"
	"codepulse/pkg/errors"
	"codepulse/pkg/logger"
)

// Container holds all application dependencies and their lifecycle
// Components are organized in initialization order
type Container struct {
	Config       *config.Config
	Log          *logger.Logger
	ErrorTracker errors.Tracker

	// Infrastructure Layer (Data stores)
	PG    *pgclient.Client
	CH    *chclient.Client
	Redis *redisclient.Client

	// Messaging
	Producer          *kafka.Producer
	FinalizedConsumer *kafka.Consumer

	// Repositories
	Sessions    *pgrepo.SessionRepository
	Repairs     *pgrepo.RepairLogRepository
	Analytics   *chrepo.StatsRepository
	Leaderboard *redisrepo.Leaderboard
	Presence    *redisrepo.Presence

	// Pipeline
	Auth         *auth.JWTService
	Coordinator  *persistence.Coordinator
	RepairWorker *persistence.RepairWorker
	Hub          *fanout.Hub
	Publisher    *events.Publisher
	Dispatcher   *events.Dispatcher
	Reconciler   *reconciler.Reconciler
	Gateway      *gateway.Gateway

	// Consumers
	LeaderboardConsumer *consumers.LeaderboardConsumer

	// HTTP
	Server *api.Server
}

// Build wires the full pipeline: stores, coordinator, fan-out, reconciler,
// gateway and the HTTP surface. Components come up in dependency order so a
// failed connection aborts before anything starts consuming.
func Build(cfg *config.Config, tracker errors.Tracker) (*Container, error) {
	log := logger.Get().With("component", "bootstrap")

	c := &Container{
		Config:       cfg,
		Log:          log,
		ErrorTracker: tracker,
	}

	// Data stores
	pg, err := pgclient.NewClient(cfg.Postgres)
	if err != nil {
		return nil, errors.Wrap(err, "postgres connection failed")
	}
	c.PG = pg
	log.Info("✓ PostgreSQL connected")

	ch, err := chclient.NewClient(cfg.ClickHouse)
	if err != nil {
		return nil, errors.Wrap(err, "clickhouse connection failed")
	}
	c.CH = ch
	log.Info("✓ ClickHouse connected")

	rd, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		return nil, errors.Wrap(err, "redis connection failed")
	}
	c.Redis = rd
	log.Info("✓ Redis connected")

	// Messaging
	c.Producer = kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers})
	c.FinalizedConsumer = kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		GroupID: cfg.Kafka.GroupID + "-leaderboard",
		Topic:   kafka.TopicSessionsFinalized,
	})

	// Repositories
	c.Sessions = pgrepo.NewSessionRepository(pg.DB())
	c.Repairs = pgrepo.NewRepairLogRepository(pg.DB())
	c.Analytics = chrepo.NewStatsRepository(ch.Conn())
	c.Leaderboard = redisrepo.NewLeaderboard(rd.Client(), 0)
	c.Presence = redisrepo.NewPresence(rd.Client(), cfg.Fanout.PresenceTTL)

	// Persistence
	stores := []session.Store{c.Sessions, chrepo.NewSessionStore(ch.Conn())}
	c.Coordinator = persistence.NewCoordinator(stores, c.Repairs, persistence.Config{
		MaxAttempts:    cfg.Persistence.MaxAttempts,
		InitialBackoff: cfg.Persistence.InitialBackoff,
		MaxBackoff:     cfg.Persistence.MaxBackoff,
	}, tracker)
	c.RepairWorker = persistence.NewRepairWorker(c.Repairs, stores, cfg.Persistence.RepairInterval)

	// Fan-out and events
	c.Hub = fanout.NewHub(cfg.Fanout.SubscriberBuffer)
	c.Publisher = events.NewPublisher(c.Producer)
	c.Dispatcher = events.NewDispatcher(c.Coordinator, c.Hub, c.Publisher)

	// Reconciler and gateway
	c.Auth = auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	c.Reconciler = reconciler.New(reconciler.Config{
		QueueBound:        cfg.Ingest.QueueBound,
		InactivityTimeout: cfg.Ingest.InactivityTimeout,
	}, c.Dispatcher)
	c.Gateway = gateway.New(gateway.Config{DedupWindow: cfg.Ingest.DedupWindow}, c.Auth, c.Reconciler)

	// Consumers
	c.LeaderboardConsumer = consumers.NewLeaderboardConsumer(c.FinalizedConsumer, c.Leaderboard)

	// HTTP surface
	healthHandler := health.New(logger.Get(), pg.DB(), ch.Conn(), rd.Client(),
		cfg.App.Name, cfg.App.Version)
	c.Server = api.NewServer(
		api.ServerConfig{
			Port:        cfg.Server.Port,
			ServiceName: cfg.App.Name,
			Version:     cfg.App.Version,
		},
		healthHandler,
		gateway.NewHTTPHandler(c.Gateway),
		gateway.NewStreamHandler(c.Gateway),
		fanout.NewLiveHandler(c.Hub, c.Auth, c.Presence, cfg.Fanout.PresenceTTL),
		api.NewStatsHandler(c.Auth, c.Analytics, c.Sessions, c.Leaderboard, c.Presence),
	)

	log.Info("✓ Container built")
	return c, nil
}

// Start launches the background components and blocks in the HTTP server
func (c *Container) Start(ctx context.Context) error {
	c.RepairWorker.Start()

	go func() {
		if err := c.LeaderboardConsumer.Start(ctx); err != nil {
			c.Log.Errorw("leaderboard consumer exited", "error", err)
		}
	}()

	return c.Server.Start()
}

// HealthCheck pings every store once, used at startup
func (c *Container) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := c.PG.Health(ctx); err != nil {
		return errors.Wrap(err, "postgres unhealthy")
	}
	if err := c.CH.Health(ctx); err != nil {
		return errors.Wrap(err, "clickhouse unhealthy")
	}
	if err := c.Redis.Health(ctx); err != nil {
		return errors.Wrap(err, "redis unhealthy")
	}
	return nil
}
