package main

import (
	"context"
	"errors"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel"

	"github.com/Black-And-White-Club/race-league/app/modules/match"
	"github.com/Black-And-White-Club/race-league/app/ops"
	"github.com/Black-And-White-Club/race-league/app/shared/attr"
	"github.com/Black-And-White-Club/race-league/app/shared/natsconn"
)

const shutdownTimeout = 30 * time.Second

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the orchestrator, job workers, background tasks and ops server",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			sigCtx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			db, err := openDB(sigCtx, cfg.Postgres.DSN)
			if err != nil {
				return err
			}
			defer db.Close()

			nc, err := natsconn.Connect(natsconn.Config{URL: cfg.NATS.URL, NKeySeed: cfg.NATS.NKeySeed}, logger)
			if err != nil {
				return err
			}
			defer nc.Close()

			registry := prometheus.NewRegistry()
			registry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			// the module runs on its own context so River can drain on shutdown
			runCtx := context.WithoutCancel(c.Context)
			mod, err := match.NewMatchModule(runCtx, cfg, match.Deps{
				DB:       db,
				NATS:     nc,
				Registry: registry,
				Tracer:   otel.Tracer("race-league/match"),
				Logger:   logger,
			})
			if err != nil {
				return err
			}

			var opsServer *ops.Server
			if cfg.Observability.MetricsAddress != "" {
				opsServer = ops.NewServer(cfg.Observability.MetricsAddress, registry, map[string]ops.CheckFunc{
					"postgres": db.PingContext,
					"queue":    mod.Queue.HealthCheck,
					"nats": func(context.Context) error {
						if !nc.IsConnected() {
							return errors.New("not connected")
						}
						return nil
					},
				}, logger)
				opsServer.Start()
			}

			var wg sync.WaitGroup
			if err := mod.Run(runCtx, &wg); err != nil {
				return err
			}
			logger.Info("League service running")

			<-sigCtx.Done()
			logger.Info("Shutting down")

			shutdownCtx, cancel := context.WithTimeout(runCtx, shutdownTimeout)
			defer cancel()

			var errs []error
			if opsServer != nil {
				errs = append(errs, opsServer.Shutdown(shutdownCtx))
			}
			if err := mod.Close(shutdownCtx); err != nil {
				logger.Error("Match module did not stop cleanly", attr.Error(err))
				errs = append(errs, err)
			}
			wg.Wait()
			logger.Info("League service stopped")
			return errors.Join(errs...)
		},
	}
}
