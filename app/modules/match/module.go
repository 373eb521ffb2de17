package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel/trace"

	matchservice "github.com/Black-And-White-Club/race-league/app/modules/match/application"
	"github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/liveupdates"
	matchmetrics "github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/metrics"
	"github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/notifications"
	matchqueue "github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/queue"
	matchdb "github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/repositories"
	matchrecovery "github.com/Black-And-White-Club/race-league/app/modules/match/recovery"
	"github.com/Black-And-White-Club/race-league/app/shared/attr"
	"github.com/Black-And-White-Club/race-league/app/shared/natsconn"
	"github.com/Black-And-White-Club/race-league/config"
)

// Module represents the match module.
type Module struct {
	Service  matchservice.Service
	Repo     matchdb.Repository
	Queue    *matchqueue.Service
	Recovery *matchrecovery.Service

	task      *matchrecovery.Task
	publisher message.Publisher
	logger    *slog.Logger
	cancel    context.CancelFunc
}

// Deps are the shared connections the module is built on.
type Deps struct {
	DB       *bun.DB
	NATS     *nats.Conn
	Registry prometheus.Registerer
	Tracer   trace.Tracer
	Logger   *slog.Logger
}

// NewMatchModule creates the match module: repository, River queue, chat
// sink, live update bus, orchestrator and background recovery.
func NewMatchModule(ctx context.Context, cfg *config.Config, deps Deps) (*Module, error) {
	logger := deps.Logger.With(attr.String("module", "match"))
	logger.Info("match.NewMatchModule called")

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	repo := matchdb.NewRepository(deps.DB)
	metrics := matchmetrics.NewPrometheus(deps.Registry)

	queue, err := matchqueue.NewService(ctx, deps.DB, logger, cfg.Postgres.DSN, metrics, matchqueue.Options{
		Workers: cfg.League.QueueWorkers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create match queue: %w", err)
	}

	sink := notifications.NewNATSSink(deps.NATS, notifications.Config{
		SubjectPrefix:  cfg.NATS.SubjectPrefix,
		RequestTimeout: cfg.NATS.RequestTimeout,
		RatePerSecond:  cfg.Notifications.RatePerSecond,
		Burst:          cfg.Notifications.Burst,
	}, logger)

	var natsOpts []nats.Option
	if cfg.NATS.NKeySeed != "" {
		opt, err := natsconn.NKeyOption(cfg.NATS.NKeySeed)
		if err != nil {
			return nil, err
		}
		natsOpts = append(natsOpts, opt)
	}
	publisher, err := liveupdates.NewNATSPublisher(cfg.NATS.URL, logger, natsOpts...)
	if err != nil {
		return nil, err
	}
	bus := liveupdates.NewWatermillBus(publisher, "", logger)

	orchestrator := matchservice.NewOrchestrator(repo, queue, sink, bus, logger, metrics, deps.Tracer, deps.DB, matchservice.Config{
		PasscodeRevealDelay: cfg.League.PasscodeRevealDelay,
		ChannelCleanupDelay: cfg.League.ChannelCleanupDelay,
		ReminderLead:        cfg.League.ReminderLead,
		ReminderMinLead:     cfg.League.ReminderMinLead,
		DefaultTimezone:     loc,
	})
	queue.SetHandler(orchestrator)

	recovery := matchrecovery.NewService(repo, queue, logger, metrics, nil)
	task := matchrecovery.NewTask(recovery, orchestrator, logger, matchrecovery.TaskConfig{
		RecoveryInterval: cfg.League.RecoveryInterval,
		DeadlineInterval: cfg.League.DeadlineSweepInterval,
	})

	return &Module{
		Service:   orchestrator,
		Repo:      repo,
		Queue:     queue,
		Recovery:  recovery,
		task:      task,
		publisher: publisher,
		logger:    logger,
	}, nil
}

// Run starts the workers and background tasks, then blocks until ctx ends.
func (m *Module) Run(ctx context.Context, wg *sync.WaitGroup) error {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	if err := m.Queue.Start(ctx); err != nil {
		cancel()
		return err
	}
	if err := m.task.Start(ctx); err != nil {
		cancel()
		return err
	}

	m.logger.Info("Starting match module")
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		m.logger.Info("Match module goroutine stopped")
	}()
	return nil
}

// Close stops background work first so no job fires against a closing queue.
func (m *Module) Close(ctx context.Context) error {
	m.logger.Info("Stopping match module")

	var errs []error
	if err := m.task.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop background tasks: %w", err))
	}
	if err := m.Queue.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	// the River client hard-stops when its start context ends, so cancel last
	if m.cancel != nil {
		m.cancel()
	}
	if err := m.publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close live update publisher: %w", err))
	}
	m.logger.Info("Match module stopped")
	return errors.Join(errs...)
}
