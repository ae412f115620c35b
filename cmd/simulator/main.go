package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/starlight/core"
	"github.com/signalsfoundry/starlight/internal/logging"
	"github.com/signalsfoundry/starlight/internal/observability"
	"github.com/signalsfoundry/starlight/internal/persistence"
	"github.com/signalsfoundry/starlight/timectrl"
)

type options struct {
	systemPath  string
	duration    time.Duration
	tick        time.Duration
	warp        float64
	realTime    bool
	metricsAddr string
	dbPath      string
	autosave    time.Duration
	report      time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.systemPath, "system", "configs/system.yaml", "path to a YAML or JSON system file")
	flag.DurationVar(&opts.duration, "duration", 10*time.Minute, "total simulated duration (0 runs until interrupted)")
	flag.DurationVar(&opts.tick, "tick", 20*time.Millisecond, "simulated duration of one tick at 1x warp")
	flag.Float64Var(&opts.warp, "warp", 1, "time-warp factor")
	flag.BoolVar(&opts.realTime, "realtime", false, "pace ticks to wall-clock time")
	flag.StringVar(&opts.metricsAddr, "metrics-addr", "", "HTTP address for Prometheus /metrics (empty disables)")
	flag.StringVar(&opts.dbPath, "db", "", "SQLite file for vehicle state (empty disables persistence)")
	flag.DurationVar(&opts.autosave, "autosave", 5*time.Minute, "simulated interval between state saves")
	flag.DurationVar(&opts.report, "report", time.Minute, "simulated interval between flux reports")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, opts, log, os.Stdout); err != nil {
		log.Error(ctx, "simulator failed", logging.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, log logging.Logger, out io.Writer) error {
	sys, err := core.LoadSystemFile(opts.systemPath)
	if err != nil {
		return err
	}
	log.Info(ctx, "loaded system",
		logging.String("path", opts.systemPath),
		logging.Int("bodies", len(sys.Bodies)),
		logging.Int("vehicles", len(sys.Vehicles)),
	)

	tracingCfg := observability.TracingConfigFromEnv()
	tracingCfg.System = systemResource(opts.systemPath, sys)
	shutdownTracing, err := observability.InitTracing(ctx, tracingCfg, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	envMetrics, err := observability.NewEnvironmentCollector(reg)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	schedMetrics, err := observability.NewSchedulerCollector(reg)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	if opts.metricsAddr != "" {
		srv := serveMetrics(opts.metricsAddr, envMetrics, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	var db *persistence.DB
	if opts.dbPath != "" {
		db, err = persistence.Open(opts.dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
		if prev, err := db.GetMeta(persistence.MetaSystem); err == nil && prev != opts.systemPath {
			log.Warn(ctx, "resuming state saved for another system",
				logging.String("saved_system", prev),
				logging.String("system", opts.systemPath),
			)
		}
		if err := db.SaveMeta(persistence.MetaSystem, opts.systemPath); err != nil {
			return err
		}
	}

	sim, err := newSimulation(ctx, sys, simulationConfig{
		Log:              log,
		EnvMetrics:       envMetrics,
		SchedulerMetrics: schedMetrics,
		DB:               db,
		Output:           out,
	})
	if err != nil {
		return err
	}

	mode := timectrl.Accelerated
	if opts.realTime {
		mode = timectrl.RealTime
	}
	tc := timectrl.NewTimeController(sim.StartTime(), opts.tick, mode)
	tc.SetWarp(opts.warp)
	sim.Attach(ctx, tc)
	if err := sim.Schedule(opts.autosave, opts.report); err != nil {
		return err
	}

	log.Info(ctx, "starting simulation",
		logging.String("start", sim.StartTime().Format(time.RFC3339)),
		logging.Duration("duration", opts.duration),
		logging.Duration("tick", opts.tick),
		logging.Float("warp", tc.Warp()),
	)
	select {
	case <-tc.Start(opts.duration):
	case <-ctx.Done():
		log.Info(ctx, "interrupted")
	}
	sim.Stop()

	sim.Report()
	if err := sim.Save(); err != nil {
		return err
	}
	log.Info(ctx, "simulation complete", logging.String("sim_time", sim.SimTime().Format(time.RFC3339)))
	return nil
}

func serveMetrics(addr string, collector *observability.EnvironmentCollector, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func systemResource(path string, sys *core.System) observability.SystemResource {
	res := observability.SystemResource{
		Name:     strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Epoch:    sys.Epoch,
		Bodies:   len(sys.Bodies),
		Vehicles: len(sys.Vehicles),
	}
	for _, b := range sys.Bodies {
		if b.Luminous {
			res.Lights++
		}
	}
	return res
}
