package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/tmarlin/clipharvest/config"
	"github.com/tmarlin/clipharvest/internal/adapter/checkpoint/jsonfile"
	"github.com/tmarlin/clipharvest/internal/adapter/checkpoint/sqlite"
	dirsource "github.com/tmarlin/clipharvest/internal/adapter/source/dir"
	"github.com/tmarlin/clipharvest/internal/adapter/source/pexels"
	"github.com/tmarlin/clipharvest/internal/adapter/storage/local"
	"github.com/tmarlin/clipharvest/internal/adapter/storage/s3"
	"github.com/tmarlin/clipharvest/internal/adapter/transcoder/ffmpeg"
	"github.com/tmarlin/clipharvest/internal/domain"
	"github.com/tmarlin/clipharvest/internal/infrastructure/logger"
	"github.com/tmarlin/clipharvest/internal/port"
	"github.com/tmarlin/clipharvest/internal/resource"
	"github.com/tmarlin/clipharvest/internal/service"
	"github.com/tmarlin/clipharvest/internal/validate"
)

func main() {
	var (
		sourcesFlag = flag.String("source", "", `sources as "name:query;name:query", e.g. "pexels:nature;dir:/srv/clips"`)
		maxVideos   = flag.Int("max-videos", 0, "stop after this many accepted clips")
		targetHours = flag.Float64("target-hours", 0, "stop after this many accepted hours")
		batchID     = flag.String("batch-id", "", "batch to resume; a new ID is generated when empty")
		output      = flag.String("output", "", "local output directory (default <data-dir>/processed)")
		maxWorkers  = flag.Int("max-workers", 0, "override MAX_WORKERS")
		maxScrapers = flag.Int("max-scrapers", 0, "override MAX_SCRAPERS")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Error.Printf("failed to load config: %v", err)
		os.Exit(1)
	}
	if *maxWorkers > 0 {
		cfg.MaxWorkers = *maxWorkers
	}
	if *maxScrapers > 0 {
		cfg.MaxScrapers = *maxScrapers
	}

	target, err := buildTarget(*maxVideos, *targetHours)
	if err != nil {
		logger.Error.Printf("%v", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		logger.Error.Printf("failed to create data directory: %v", err)
		os.Exit(1)
	}

	sources, err := buildSources(*sourcesFlag, cfg)
	if err != nil {
		logger.Error.Printf("%v", err)
		os.Exit(1)
	}

	checkpoints, closeStore, err := buildCheckpointStore(cfg)
	if err != nil {
		logger.Error.Printf("failed to create checkpoint store: %v", err)
		os.Exit(1)
	}
	defer closeStore()

	sink, err := buildSink(cfg, *output)
	if err != nil {
		logger.Error.Printf("failed to create storage sink: %v", err)
		os.Exit(1)
	}

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	monitor := resource.NewMonitor(resource.SystemSampler(cfg.DataDir), resource.Thresholds{
		MemoryPausePercent:  cfg.MemoryPausePercent,
		MemoryResumePercent: cfg.MemoryResumePercent,
		DiskPauseFreeGB:     cfg.DiskPauseFreeGB,
		DiskResumeFreeGB:    cfg.DiskResumeFreeGB,
	}, cfg.SampleInterval, 0)
	monitor.Start(monitorCtx)
	defer monitor.Stop()

	transcoder := ffmpeg.New()
	pipeline := buildPipeline(cfg)
	eventBus := service.NewEventBus()

	scheduler := service.NewScheduler(sources, checkpoints, transcoder, transcoder, pipeline, sink, monitor, eventBus, service.Options{
		MaxWorkers:          cfg.MaxWorkers,
		MaxScrapers:         cfg.MaxScrapers,
		PageSize:            cfg.PageSize,
		MaxAttempts:         cfg.MaxAttempts,
		RetryBaseDelay:      cfg.RetryBaseDelay,
		TaskTimeout:         cfg.TaskTimeout,
		AdmissionWaitBudget: cfg.AdmissionWaitBudget,
		TargetSpec: domain.TargetSpec{
			Container:  cfg.TargetContainer,
			VideoCodec: cfg.TargetCodec,
			Width:      cfg.MinWidth,
			Height:     cfg.MinHeight,
			FPS:        cfg.TargetFPS,
		},
		Analyze: port.AnalyzeOptions{
			SampleFPS: cfg.SampleFPS,
			MaxFrames: cfg.MaxSampleFrames,
		},
		WorkDir: cfg.DataDir,
	})

	id := *batchID
	if id == "" {
		id = uuid.New().String()
		logger.Info.Printf("generated batch id %s", id)
	}

	progress := eventBus.Subscribe(id)
	defer eventBus.Unsubscribe(id, progress)
	go reportProgress(progress)

	// Graceful shutdown: a signal cancels the run and lets in-flight
	// clips reach a terminal state before the final checkpoint save.
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info.Printf("received %s, finishing in-flight clips", sig)
		cancel()
	}()

	result, err := scheduler.Run(runCtx, id, target)
	if result != nil {
		printSummary(result)
	}
	if err != nil {
		if result != nil {
			logger.Warn.Printf("batch %s interrupted: %v (resume with --batch-id %s)", id, err, id)
			os.Exit(2)
		}
		logger.Error.Printf("batch failed: %v", err)
		os.Exit(1)
	}
}

func buildTarget(maxVideos int, targetHours float64) (domain.Target, error) {
	switch {
	case maxVideos > 0 && targetHours > 0:
		return domain.Target{}, fmt.Errorf("--max-videos and --target-hours are mutually exclusive")
	case maxVideos > 0:
		return domain.CountTarget(maxVideos), nil
	case targetHours > 0:
		return domain.DurationTarget(targetHours), nil
	default:
		return domain.Target{}, fmt.Errorf("one of --max-videos or --target-hours is required")
	}
}

// buildSources parses "name:query" pairs separated by semicolons. The dir
// source takes a path in place of a query.
func buildSources(spec string, cfg *config.Config) ([]service.SourceSpec, error) {
	if spec == "" {
		return nil, fmt.Errorf("--source is required")
	}

	var sources []service.SourceSpec
	for _, entry := range strings.Split(spec, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, query, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("bad source entry %q, want name:query", entry)
		}

		switch name {
		case "pexels":
			if cfg.PexelsAPIKey == "" {
				return nil, fmt.Errorf("pexels source requires PEXELS_API_KEY")
			}
			sources = append(sources, service.SourceSpec{
				Adapter: pexels.NewSource(cfg.PexelsAPIKey),
				Query:   query,
			})
		case "dir":
			sources = append(sources, service.SourceSpec{
				Adapter: dirsource.NewSource("dir", query),
			})
		default:
			return nil, fmt.Errorf("unknown source %q", name)
		}
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("--source is required")
	}
	return sources, nil
}

func buildCheckpointStore(cfg *config.Config) (port.CheckpointStore, func(), error) {
	switch cfg.CheckpointBackend {
	case "jsonfile":
		store, err := jsonfile.NewStore(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	default:
		store, err := sqlite.NewStore(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}
}

func buildSink(cfg *config.Config, output string) (port.StorageSink, error) {
	if cfg.S3Endpoint != "" {
		sink, err := s3.NewSink(s3.Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Prefix:    cfg.S3Prefix,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			return nil, err
		}
		// An unreachable or missing bucket is a setup error; surface it
		// before any clip is fetched.
		if err := sink.EnsureBucket(context.Background()); err != nil {
			return nil, err
		}
		return sink, nil
	}
	if output == "" {
		output = cfg.DataDir + "/processed"
	}
	return local.NewSink(output)
}

func buildPipeline(cfg *config.Config) *validate.Pipeline {
	return validate.NewPipeline(validate.Config{
		Container:   cfg.TargetContainer,
		MinWidth:    cfg.MinWidth,
		MinHeight:   cfg.MinHeight,
		MinFPS:      cfg.MinFPS,
		MinDuration: cfg.MinDuration,
		FailFast:    cfg.FailFast,
	},
		validate.CutSceneCheck{Threshold: cfg.CutSceneThreshold, MinScenes: cfg.CutSceneMinScenes},
		validate.TextOverlayCheck{Detector: validate.EdgeDensityDetector{}, MinConfidence: cfg.TextMinConfidence},
		validate.PhysicsCheck{Classifier: validate.BlockMotionEstimator{}, FlowThreshold: cfg.PhysicsFlowThreshold, MinViolations: cfg.PhysicsMinViolations},
	)
}

// reportProgress tails batch events and logs a running tally so long runs
// show movement between the startup and summary lines.
func reportProgress(events <-chan service.Event) {
	var accepted, rejected, failed int
	for ev := range events {
		if ev.Type != "task" {
			continue
		}
		switch ev.State {
		case "accepted":
			accepted++
		case "rejected":
			rejected++
		case "failed":
			failed++
		default:
			continue
		}
		logger.Info.Printf("progress: accepted=%d rejected=%d failed=%d", accepted, rejected, failed)
	}
}

func printSummary(result *domain.BatchResult) {
	logger.Info.Printf("batch %s finished in %s: accepted=%d (%.2fh) rejected=%d failed=%d",
		result.BatchID, result.Elapsed.Round(time.Second), result.Accepted, result.AcceptedHours,
		result.Rejected, result.Failed)

	if len(result.RejectionReasons) == 0 {
		return
	}
	reasons := make([]string, 0, len(result.RejectionReasons))
	for r := range result.RejectionReasons {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		logger.Info.Printf("  rejected for %s: %d", r, result.RejectionReasons[r])
	}
}
