// Command tripletfinder runs the triplet construction pipeline on a
// synthetic event and prints a per-iteration summary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/otyagi/GNNTrackFinder-gpu-sub019/internal/config"
	"github.com/otyagi/GNNTrackFinder-gpu-sub019/internal/db"
	"github.com/otyagi/GNNTrackFinder-gpu-sub019/internal/monitoring"
	"github.com/otyagi/GNNTrackFinder-gpu-sub019/internal/tracking/hits"
	"github.com/otyagi/GNNTrackFinder-gpu-sub019/internal/tracking/pipeline"
	"github.com/otyagi/GNNTrackFinder-gpu-sub019/internal/tracking/storage/sqlite"
	"github.com/otyagi/GNNTrackFinder-gpu-sub019/internal/version"
)

var (
	configPath    = flag.String("config", "", "Path to tuning JSON (default: config/tuning.defaults.json)")
	dbPath        = flag.String("db", "", "Store results in this sqlite database (empty to skip)")
	metricsListen = flag.String("metrics-listen", "", "Serve Prometheus metrics on this address and wait for a signal after the run")
	verbosity     = flag.Int("v", 0, "Log verbosity: 0 ops, 1 diag, 2 trace")
	showVersion   = flag.Bool("version", false, "Print version and exit")

	nStations = flag.Int("stations", 6, "Number of detector stations")
	spacing   = flag.Float64("spacing", 10, "Station spacing in cm")
	radThick  = flag.Float64("radthick", 0.005, "Radiation thickness per station (X/X0)")
	fieldY    = flag.Float64("field", 0, "Uniform By in kGauss")
	nTracks   = flag.Int("tracks", 50, "Number of tracks in the event")
	nNoise    = flag.Int("noise", 20, "Noise hits per station")
	smear     = flag.Float64("smear", 0.01, "Hit position resolution in cm")
	seed      = flag.Int64("seed", 1, "Random seed for the event")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	ops, diag, trace := monitoring.Streams(os.Stderr, monitoring.Verbosity(*verbosity))
	pipeline.SetLogWriters(ops, diag, trace)
	sqlite.SetLogWriters(ops, diag)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var srv *http.Server
	if *metricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv = &http.Server{Addr: *metricsListen, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("metrics server error: %v", err)
			}
		}()
		monitoring.Logf("serving metrics on %s/metrics", *metricsListen)
	}

	ev := eventConfig{
		Stations: *nStations,
		Spacing:  *spacing,
		RadThick: *radThick,
		FieldY:   *fieldY,
		Tracks:   *nTracks,
		Noise:    *nNoise,
		Smear:    *smear,
		Seed:     *seed,
	}
	if err := run(ctx, os.Stdout, ev, *configPath, *dbPath); err != nil {
		log.Fatalf("tripletfinder: %v", err)
	}

	if srv != nil {
		monitoring.Logf("run complete, waiting for signal")
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("metrics server shutdown error: %v", err)
		}
	}
}

func loadConfig(path string) (*config.TuningConfig, error) {
	if path != "" {
		return config.LoadTuningConfig(path)
	}
	cfg, err := config.LoadTuningConfig(config.DefaultConfigPath)
	if err != nil {
		monitoring.Logf("no default tuning at %s (%v), using built-in defaults", config.DefaultConfigPath, err)
		return config.EmptyTuningConfig(), nil
	}
	return cfg, nil
}

// run builds the setup, generates the event, runs every configured
// iteration and writes one summary line per iteration to out.
func run(ctx context.Context, out io.Writer, ev eventConfig, cfgPath, storePath string) error {
	if err := ev.validate(); err != nil {
		return err
	}
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	setup, err := buildSetup(ev)
	if err != nil {
		return fmt.Errorf("failed to build setup: %w", err)
	}
	iters, err := cfg.BuildIterations(setup)
	if err != nil {
		return err
	}
	orch, err := pipeline.NewOrchestrator(setup, cfg.PipelineConfig())
	if err != nil {
		return err
	}

	hs := generateEvent(ev, setup)
	monitoring.Logf("event: %d hits on %d stations (%d rejected)", hs.Len(), hs.NumStations(), hs.Rejected)

	started := time.Now()
	results, err := orch.RunIterations(ctx, hs, iters)
	if err != nil {
		return err
	}

	for _, res := range results {
		fmt.Fprintf(out, "%-10s doublets=%d triplets=%d %s\n", res.Iteration, res.NDoublets, res.NTriplets, pipeline.Summarize(res.Triplets))
		fmt.Fprintf(out, "%-10s %s\n", "", res.Timings)
	}

	if storePath == "" {
		return nil
	}
	return storeResults(ctx, out, storePath, results, hs, started)
}

func storeResults(ctx context.Context, out io.Writer, path string, results []*pipeline.Result, hs *hits.HitSet, started time.Time) error {
	database, err := db.NewDB(path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	store := sqlite.NewRunStore(database.DB)
	for _, res := range results {
		r, err := store.SaveResult(ctx, res, hs, started)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "stored %s as run %s\n", res.Iteration, r.RunID)
	}
	return nil
}
