package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/driftwatch/driftwatch/internal/api"
	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/detect"
	"github.com/driftwatch/driftwatch/internal/events"
	"github.com/driftwatch/driftwatch/internal/lifecycle"
	"github.com/driftwatch/driftwatch/internal/logger"
	"github.com/driftwatch/driftwatch/internal/metrics"
	"github.com/driftwatch/driftwatch/internal/model"
	"github.com/driftwatch/driftwatch/internal/quality"
	"github.com/driftwatch/driftwatch/internal/scheduler"
	"github.com/driftwatch/driftwatch/internal/source"
	"github.com/driftwatch/driftwatch/internal/store"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

// diffObserver counts recorded diffs and forwards them to Kafka when
// publishing is enabled.
type diffObserver struct {
	next *events.Publisher
	prov *metrics.Provider
}

func (o *diffObserver) PublishDiff(ctx context.Context, ds *model.Dataset, d *model.Diff) {
	o.prov.DiffsTotal.WithLabelValues(string(d.Type)).Inc()
	if o.next != nil {
		o.next.PublishDiff(ctx, ds, d)
	}
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		Component: "driftwatch",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	if err := cfg.Validate(); err != nil {
		appLog.Error("invalid configuration", "err", err)
		return 1
	}

	appLog.Info("starting driftwatch",
		"addr", cfg.Addr,
		"version", Version,
		"tick", cfg.ChangeLoopTick.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		appLog.Error("database unavailable", "err", err)
		return 1
	}
	defer st.Close()

	lc := &lifecycle.Manager{
		Store:               st,
		PreserveConnections: cfg.PreserveConnectionsOnRestart,
		Log:                 appLog,
	}
	if err := lc.Boot(ctx); err != nil {
		appLog.Error("database preparation failed", "err", err)
		return 1
	}

	prov := metrics.NewProvider()

	var publisher *events.Publisher
	if cfg.Events.Enabled {
		publisher, err = events.New(cfg.Events, appLog)
		if err != nil {
			appLog.Error("kafka producer setup failed", "err", err)
			return 1
		}
		defer publisher.Close()
		publisher.OnPublish = func(outcome string) {
			prov.EventsPublished.WithLabelValues(outcome).Inc()
		}
	}

	reader := source.NewReader()
	detector := &detect.Detector{
		Reader: reader,
		Scorer: quality.NewScorer(cfg.Limits),
		SRID:   cfg.DefaultSRID,
		Log:    appLog,
	}

	loop := &scheduler.ChangeLoop{
		Store:           st,
		Detector:        detector,
		Events:          &diffObserver{next: publisher, prov: prov},
		Tick:            cfg.ChangeLoopTick,
		DefaultInterval: cfg.DefaultCheckInterval,
		Log:             appLog,
		OnRun: func(stats model.RunStats, err error) {
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			prov.RunsTotal.WithLabelValues(outcome).Inc()
			prov.RunDuration.Observe(stats.Duration.Seconds())
			prov.FeaturesRead.Add(float64(stats.FeaturesRead))
			prov.SnapshotsTotal.Add(float64(stats.SnapshotsCreated))
		},
	}

	dispatcher := &scheduler.QualityDispatcher{
		Store: st,
		Runner: &quality.Runner{
			Checks: cfg.Checks,
			Limits: cfg.Limits,
			Log:    appLog,
		},
		Registry: scheduler.NewStatusRegistry(cfg.QualityStatusTTL, nil),
		Log:      appLog,
		BaseCtx:  ctx,
		OnFinish: func(summary model.CheckSummary, err error) {
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			prov.QualityRuns.WithLabelValues(outcome).Inc()
			for cat, byResult := range summary.Counts {
				for res, n := range byResult {
					prov.FindingsTotal.WithLabelValues(string(cat), string(res)).Add(float64(n))
				}
			}
		},
	}

	srv, err := api.NewServer(&api.Server{
		Store:     st,
		Reader:    reader,
		Quality:   dispatcher,
		Lifecycle: lc,
		Scorer:    detector.Scorer,
		Metrics:   prov,
		Cfg:       cfg,
		Log:       appLog,
	})
	if err != nil {
		appLog.Error("server setup failed", "err", err)
		return 1
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		loop.Run(ctx)
	}()

	if err := api.Run(ctx, cfg.Addr, appLog, srv.Router()); err != nil {
		appLog.Error("server exited with error", "err", err)
		stop()
		wg.Wait()
		return 1
	}
	wg.Wait()
	appLog.Info("server stopped")
	return 0
}
