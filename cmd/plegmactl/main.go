package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"plegma/internal/config"
	"plegma/internal/logging"
	"plegma/internal/stats"
	"plegma/pkg/plegma"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "validate":
		return runValidate(ctx, args[1:])
	case "run":
		return runRun(ctx, args[1:])
	case "resume":
		return runResume(ctx, args[1:])
	case "scan":
		return runScan(ctx, args[1:])
	case "stats":
		return runStats(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	case "inspect":
		return runInspect(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: plegmactl <validate|run|resume|scan|stats|export|inspect> [flags]", msg)
}

func runValidate(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	configPath := fs.String("config", "", "system configuration YAML path")
	logLevel := fs.String("log-level", "warn", "log level: debug|info|warn|error")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *configPath == "" {
		return fmt.Errorf("validate requires -config")
	}
	logging.Setup(*logLevel, "text")

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	sys, err := cfg.Build(logging.WithComponent("build"))
	if err != nil {
		return err
	}

	proc := sys.Processor
	fmt.Printf("system %s: valid\n", sys.Name)
	fmt.Printf("  basis         %s\n", sys.Basis)
	fmt.Printf("  supercell     %v (%s primitive cells)\n",
		cfg.Supercell, humanize.Comma(int64(proc.Size())))
	fmt.Printf("  sites         %s\n", humanize.Comma(int64(proc.NumSites())))
	fmt.Printf("  sublattices   %d\n", len(sys.Sublattices))
	fmt.Printf("  orbits        %d (%s correlation functions)\n",
		len(sys.Orbits), humanize.Comma(int64(proc.NumFunctions())))
	fmt.Printf("  run defaults  ensemble=%s kernel=%s step=%s T=%g sweeps=%s\n",
		cfg.Run.Ensemble, cfg.Run.Kernel, cfg.Run.Step, cfg.Run.Temperature,
		humanize.Comma(int64(cfg.Run.Sweeps)))
	return nil
}

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "system configuration YAML path")
	runID := fs.String("run-id", "", "explicit run id (optional)")
	overrides := bindRunOverrides(fs)
	storeOpts := bindStoreFlags(fs)
	logLevel := fs.String("log-level", "info", "log level: debug|info|warn|error")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *configPath == "" {
		return fmt.Errorf("run requires -config")
	}
	logging.Setup(*logLevel, "text")

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	overrides.apply(fs, cfg)

	client, err := plegma.New(storeOpts.options())
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	started := time.Now()
	summary, err := client.Run(ctx, plegma.RunRequest{Config: cfg, RunID: *runID})
	if err != nil {
		return err
	}
	printRunSummary(summary, time.Since(started))
	return nil
}

func runResume(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("resume", flag.ContinueOnError)
	runID := fs.String("run", "", "run id to continue")
	steps := fs.Int("steps", 0, "additional sweeps (0 keeps the run's sweep count)")
	storeOpts := bindStoreFlags(fs)
	logLevel := fs.String("log-level", "info", "log level: debug|info|warn|error")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return fmt.Errorf("resume requires -run")
	}
	logging.Setup(*logLevel, "text")

	client, err := plegma.New(storeOpts.options())
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	started := time.Now()
	summary, err := client.Resume(ctx, plegma.ResumeRequest{RunID: *runID, Sweeps: *steps})
	if err != nil {
		return err
	}
	fmt.Printf("resumed %s as %s\n", *runID, summary.RunID)
	printRunSummary(summary, time.Since(started))
	return nil
}

func runStats(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	runID := fs.String("run", "", "run id")
	discard := fs.Int("discard", 0, "burn-in saves to discard per walker")
	thin := fs.Int("thin", 1, "keep every thin-th remaining save")
	storeOpts := bindStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return fmt.Errorf("stats requires -run")
	}
	logging.Setup("warn", "text")

	client, err := plegma.New(storeOpts.options())
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Stats(ctx, plegma.StatsRequest{RunID: *runID, Discard: *discard, Thin: *thin})
	if err != nil {
		return err
	}

	fmt.Printf("run %s (%s, %s/%s, T=%g)\n",
		summary.RunID, summary.SystemName, summary.Ensemble, summary.Kernel, summary.Temperature)
	fmt.Printf("  samples     %s (discard=%d thin=%d)\n",
		humanize.Comma(int64(summary.Samples)), *discard, *thin)
	fmt.Printf("  potential   mean=%.6f std=%.6f\n", summary.MeanPotential, summary.StdPotential)
	fmt.Printf("  acceptance  %.4f\n", summary.MeanAcceptance)
	for _, w := range summary.WalkerSummaries {
		fmt.Printf("  walker %d: n=%d mean=%.6f std=%.6f min=%.6f max=%.6f tau=%.2f accept=%.4f\n",
			w.Walker, w.Samples, w.MeanPotential, w.StdPotential,
			w.MinPotential, w.MaxPotential, w.AutocorrTime, w.AcceptanceRate)
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	runID := fs.String("run", "", "run id to export")
	latest := fs.Bool("latest", false, "export the most recent run")
	outDir := fs.String("out", "", "destination directory (default exports/)")
	artifactsDir := fs.String("artifacts", "", "artifacts directory (default artifacts/)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	logging.Setup("warn", "text")

	client, err := plegma.New(plegma.Options{ArtifactsDir: *artifactsDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Export(ctx, plegma.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Printf("exported %s to %s\n", summary.RunID, summary.Directory)
	return nil
}

func runInspect(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	runID := fs.String("run", "", "show one run in detail")
	limit := fs.Int("limit", 20, "maximum runs to list")
	artifactsDir := fs.String("artifacts", "", "artifacts directory (default artifacts/)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	logging.Setup("warn", "text")

	client, err := plegma.New(plegma.Options{ArtifactsDir: *artifactsDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if *runID != "" {
		return inspectRun(client.ArtifactsDir(), *runID)
	}

	items, err := client.Runs(ctx, plegma.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}
	for _, item := range items {
		age := item.CreatedAtUTC
		if created, err := time.Parse(time.RFC3339Nano, item.CreatedAtUTC); err == nil {
			age = humanize.Time(created)
		}
		fmt.Printf("%s  %s  %s/%s/%s  T=%g  walkers=%d  sweeps=%s  <E>=%.6f  %s\n",
			item.RunID, item.SystemName, item.Ensemble, item.Kernel, item.StepType,
			item.Temperature, item.Walkers, humanize.Comma(int64(item.Sweeps)),
			item.MeanPotential, age)
	}
	return nil
}

func inspectRun(artifactsDir, runID string) error {
	record, ok, err := stats.ReadRunConfig(artifactsDir, runID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("run not found in artifacts: %s", runID)
	}
	fmt.Printf("run %s\n", record.ID)
	if record.ParentID != "" {
		fmt.Printf("  continues   %s\n", record.ParentID)
	}
	fmt.Printf("  system      %s\n", record.SystemName)
	fmt.Printf("  ensemble    %s kernel=%s step=%s bias=%s\n",
		record.Ensemble, record.Kernel, record.StepType, record.Bias)
	fmt.Printf("  temperature %g\n", record.Temperature)
	fmt.Printf("  seed        %d walkers=%d sweeps=%s thin=%d\n",
		record.Seed, record.Walkers, humanize.Comma(int64(record.Sweeps)), record.ThinBy)
	fmt.Printf("  sites       %s\n", humanize.Comma(int64(record.NumSites)))
	fmt.Printf("  created     %s\n", record.CreatedAtUTC)

	summary, ok, err := stats.ReadRunSummary(artifactsDir, runID)
	if err != nil {
		return err
	}
	if ok {
		fmt.Printf("  potential   mean=%.6f std=%.6f\n", summary.MeanPotential, summary.StdPotential)
		fmt.Printf("  acceptance  %.4f\n", summary.MeanAcceptance)
	}
	return nil
}

func printRunSummary(summary plegma.RunSummary, elapsed time.Duration) {
	fmt.Printf("run %s done\n", summary.RunID)
	fmt.Printf("  sweeps      %s in %s\n",
		humanize.Comma(int64(summary.Sweeps)), elapsed.Round(time.Millisecond))
	fmt.Printf("  samples     %s\n", humanize.Comma(int64(summary.Samples)))
	fmt.Printf("  potential   mean=%.6f std=%.6f\n", summary.MeanPotential, summary.StdPotential)
	fmt.Printf("  acceptance  %.4f\n", summary.Acceptance)
	fmt.Printf("  artifacts   %s\n", summary.ArtifactsDir)
}
