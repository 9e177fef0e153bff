package main

import (
	"context"
	"flag"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"plegma/internal/config"
	"plegma/internal/logging"
	"plegma/internal/stats"
	"plegma/pkg/plegma"
)

// runScan samples the configured system at a range of temperatures and
// aggregates the per-temperature summaries into one scan experiment.
func runScan(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	configPath := fs.String("config", "", "system configuration YAML path")
	tmin := fs.Float64("tmin", 0, "lowest temperature in K")
	tmax := fs.Float64("tmax", 0, "highest temperature in K")
	tstep := fs.Float64("tstep", 0, "temperature increment in K")
	workers := fs.Int("workers", 4, "parallel temperature points")
	notes := fs.String("notes", "", "free-form experiment notes")
	overrides := bindRunOverrides(fs)
	storeOpts := bindStoreFlags(fs)
	logLevel := fs.String("log-level", "warn", "log level: debug|info|warn|error")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *configPath == "" {
		return fmt.Errorf("scan requires -config")
	}
	if *tmin <= 0 || *tmax < *tmin || *tstep <= 0 {
		return fmt.Errorf("scan requires 0 < tmin <= tmax and tstep > 0, got tmin=%g tmax=%g tstep=%g", *tmin, *tmax, *tstep)
	}
	if *workers <= 0 {
		return fmt.Errorf("workers must be > 0, got %d", *workers)
	}
	logging.Setup(*logLevel, "text")

	base, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	overrides.apply(fs, base)
	// The scan supplies the temperatures; validate against the first point.
	base.Run.Temperature = *tmin
	if err := base.Validate(); err != nil {
		return err
	}

	var temperatures []float64
	for t := *tmin; t <= *tmax+1e-9; t += *tstep {
		temperatures = append(temperatures, t)
	}

	client, err := plegma.New(storeOpts.options())
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	started := time.Now().UTC()
	points := make([]stats.ScanPoint, len(temperatures))
	summaries := make([]plegma.RunSummary, len(temperatures))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*workers)
	for i, temperature := range temperatures {
		i, temperature := i, temperature
		g.Go(func() error {
			// Re-parse so each point owns an independent config.
			cfg, err := config.Parse(base.Raw)
			if err != nil {
				return err
			}
			overrides.apply(fs, cfg)
			cfg.Run.Temperature = temperature

			summary, err := client.Run(gctx, plegma.RunRequest{Config: cfg})
			if err != nil {
				return fmt.Errorf("T=%g: %w", temperature, err)
			}

			stat, err := client.Stats(gctx, plegma.StatsRequest{RunID: summary.RunID, Thin: 1})
			if err != nil {
				return fmt.Errorf("T=%g: %w", temperature, err)
			}

			mu.Lock()
			summaries[i] = summary
			points[i] = stats.ScanPointFromSummary(stat)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	experiment := stats.ScanExperiment{
		ID:             uuid.NewString(),
		SystemName:     base.Name,
		Notes:          *notes,
		Ensemble:       base.Run.Ensemble,
		Kernel:         base.Run.Kernel,
		StepType:       base.Run.Step,
		Sweeps:         base.Run.Sweeps,
		Walkers:        base.Run.Walkers,
		Seed:           base.Run.Seed,
		StartedAtUTC:   started.Format(time.RFC3339Nano),
		CompletedAtUTC: time.Now().UTC().Format(time.RFC3339Nano),
		Points:         points,
	}
	if err := stats.WriteScanExperiment(client.ArtifactsDir(), experiment); err != nil {
		return err
	}

	fmt.Printf("scan %s: %d temperatures, %s sweeps each, in %s\n",
		experiment.ID, len(temperatures),
		humanize.Comma(int64(base.Run.Sweeps)), time.Since(started).Round(time.Millisecond))
	fmt.Println("  T         run                                   <E>           std           accept")
	for i, point := range points {
		fmt.Printf("  %-9g %-36s  %-13.6f %-13.6f %.4f\n",
			point.Temperature, summaries[i].RunID,
			point.MeanPotential, point.StdPotential, point.AcceptanceRate)
	}
	return nil
}
