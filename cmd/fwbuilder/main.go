package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/fwbuilder/internal/board"
	"git.home.luguber.info/inful/fwbuilder/internal/builder"
	"git.home.luguber.info/inful/fwbuilder/internal/buildstore"
	"git.home.luguber.info/inful/fwbuilder/internal/cache"
	"git.home.luguber.info/inful/fwbuilder/internal/config"
	"git.home.luguber.info/inful/fwbuilder/internal/events"
	"git.home.luguber.info/inful/fwbuilder/internal/library"
	"git.home.luguber.info/inful/fwbuilder/internal/metrics"
	"git.home.luguber.info/inful/fwbuilder/internal/quota"
	"git.home.luguber.info/inful/fwbuilder/internal/retry"
	"git.home.luguber.info/inful/fwbuilder/internal/scheduler"
	"git.home.luguber.info/inful/fwbuilder/internal/server"
	"git.home.luguber.info/inful/fwbuilder/internal/toolchain"
	"git.home.luguber.info/inful/fwbuilder/internal/version"
	"git.home.luguber.info/inful/fwbuilder/internal/workspace"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"config.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Serve struct{} `cmd:"" help:"Run the firmware build service"`

	Compile struct {
		Sketch    string   `arg:"" help:"Sketch file to compile"`
		Board     string   `short:"b" help:"Board identifier (FQBN)" default:"arduino:avr:uno"`
		Output    string   `short:"o" help:"Write the artifact to this file instead of stdout"`
		Libraries []string `short:"l" help:"Library specs, e.g. Servo or Servo@1.2.1"`
	} `cmd:"" help:"Compile a single sketch and print the artifact"`

	Boards struct{} `cmd:"" help:"List configured board profiles"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`

	Version struct{} `cmd:"" help:"Print version information"`
}

func main() {
	ctx := kong.Parse(&CLI)

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	var err error
	switch ctx.Command() {
	case "serve":
		err = runServe(CLI.Config)
	case "compile <sketch>":
		err = runCompile(CLI.Config, CLI.Compile.Sketch, CLI.Compile.Board, CLI.Compile.Output, CLI.Compile.Libraries)
	case "boards":
		err = runBoards(CLI.Config)
	case "init":
		err = config.Init(CLI.Config, CLI.Init.Force)
	case "version":
		fmt.Printf("fwbuilder %s (built %s, commit %s)\n", version.Version, version.BuildTime, version.GitCommit)
	}
	if err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func loadRegistry(cfg *config.Config) (*board.Registry, error) {
	if cfg.Boards.File != "" {
		return board.Load(cfg.Boards.File)
	}
	return board.NewRegistry(board.DefaultProfiles())
}

func libraryPolicy(cfg config.LibraryConfig) retry.Policy {
	policy := retry.DefaultPolicy()
	if cfg.RetryBackoff != "" {
		policy.Mode = retry.BackoffMode(cfg.RetryBackoff)
	}
	if d, err := time.ParseDuration(cfg.RetryInitial); err == nil && d > 0 {
		policy.Initial = d
	}
	if d, err := time.ParseDuration(cfg.RetryMax); err == nil && d > 0 {
		policy.Max = d
	}
	if cfg.MaxRetries > 0 {
		policy.MaxRetries = cfg.MaxRetries
	}
	return policy
}

// newLibraryStore builds the library store from config. A missing index file
// is not fatal; the refresher fetches one on its first run.
func newLibraryStore(cfg *config.Config) *library.Store {
	var idx *library.Index
	if _, err := os.Stat(cfg.Library.IndexFile); err == nil {
		loaded, err := library.LoadIndex(cfg.Library.IndexFile)
		if err != nil {
			slog.Warn("Failed to load library index, continuing without it", "error", err)
		} else {
			idx = loaded
			slog.Info("Library index loaded", "libraries", loaded.Len())
		}
	}
	return library.NewStore(cfg.Library.Dir, idx, libraryPolicy(cfg.Library))
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	registry, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var recorder metrics.Recorder = metrics.NoopRecorder{}
	srvOpts := server.Options{
		Listen:       cfg.Server.Listen,
		CORSOrigins:  cfg.Server.CORSOrigins,
		MaxBodyBytes: cfg.Build.MaxSourceBytes * 2,
		WaitTimeout:  cfg.Build.ParsedTimeout() + time.Minute,
	}
	if cfg.Metrics.Enabled {
		reg := prom.NewRegistry()
		recorder = metrics.NewPrometheusRecorder(reg)
		srvOpts.MetricsHandler = metrics.HTTPHandler(reg)
	}

	libStore := newLibraryStore(cfg)
	libStore.SetRecorder(recorder)

	refresher, err := library.NewRefresher(libStore, cfg.Library.IndexURL, cfg.Library.IndexFile, cfg.Library.ParsedRefreshInterval())
	if err != nil {
		return err
	}
	refresher.Start()
	defer func() {
		if err := refresher.Stop(); err != nil {
			slog.Warn("Error stopping index refresher", "error", err)
		}
	}()

	watcher, err := library.NewIndexWatcher(cfg.Library.IndexFile, libStore)
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := watcher.Stop(); err != nil {
			slog.Warn("Error stopping index watcher", "error", err)
		}
	}()

	invoker := toolchain.NewInvoker(cfg.Build.Compiler, []string{"run"}, cfg.Build.MaxOutputBytes)
	bld := builder.New(registry, workspace.NewManager(cfg.Build.WorkspaceDir), invoker, cfg.Build.ParsedTimeout())
	bld.SetLibraryStore(libStore)

	sched := scheduler.New(registry, bld, scheduler.Options{
		Workers:        cfg.Build.Workers,
		QueueSize:      cfg.Build.QueueSize,
		MaxSourceBytes: cfg.Build.MaxSourceBytes,
	})
	sched.SetRecorder(recorder)

	var records *buildstore.Store
	if cfg.Store.Path != "" {
		records, err = buildstore.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer records.Close()
		sched.AddObserver(records)
	}

	if cfg.Events.Enabled {
		publisher, err := events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.Subject)
		if err != nil {
			return err
		}
		defer publisher.Close()
		sched.AddObserver(events.NewObserver(publisher))
	}

	sched.Start(ctx)
	defer sched.Stop(context.Background())

	srv := server.New(srvOpts, registry, sched)
	srv.SetRecorder(recorder)
	if records != nil {
		srv.SetRecords(records)
	}

	if cfg.Cache.Enabled {
		srv.SetCache(cache.New(cfg.Cache.MaxEntries, cfg.Cache.ParsedTTL()))
	}

	quotas := quota.NewManager(quota.Limits{
		MaxInFlight: int64(cfg.Quota.MaxInFlightPerSession),
		MaxPerHour:  int64(cfg.Quota.MaxBuildsPerHour),
		SessionTTL:  cfg.Quota.ParsedSessionTTL(),
	})
	srv.SetQuotas(quotas)
	go pruneLoop(ctx, quotas)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// pruneLoop drops idle quota sessions periodically.
func pruneLoop(ctx context.Context, quotas *quota.Manager) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := quotas.Prune(); removed > 0 {
				slog.Debug("Pruned idle quota sessions", "removed", removed)
			}
		}
	}
}

func runCompile(configPath, sketchPath, boardID, output string, libraries []string) error {
	cfg := config.Default()
	if loaded, err := config.Load(configPath); err == nil {
		cfg = loaded
	}

	registry, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	source, err := os.ReadFile(sketchPath)
	if err != nil {
		return err
	}

	invoker := toolchain.NewInvoker(cfg.Build.Compiler, []string{"run"}, cfg.Build.MaxOutputBytes)
	bld := builder.New(registry, workspace.NewManager(cfg.Build.WorkspaceDir), invoker, cfg.Build.ParsedTimeout())
	if len(libraries) > 0 {
		bld.SetLibraryStore(newLibraryStore(cfg))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result := bld.Build(ctx, &scheduler.Request{
		ID:        uuid.NewString(),
		Board:     boardID,
		Files:     map[string][]byte{filepath.Base(sketchPath): source},
		Libraries: libraries,
	})

	switch result.Outcome {
	case scheduler.OutcomeSuccess:
		for _, w := range result.Warnings {
			fmt.Fprintf(os.Stderr, "%s:%d: warning: %s\n", w.File, w.Line, w.Message)
		}
		if output != "" {
			return os.WriteFile(output, result.Artifact, 0o644)
		}
		_, err = os.Stdout.Write(result.Artifact)
		return err
	case scheduler.OutcomeCompileError:
		for _, d := range result.Diagnostics {
			fmt.Fprintf(os.Stderr, "%s:%d: %s: %s\n", d.File, d.Line, d.Severity, d.Message)
		}
		if result.RawLog != "" {
			fmt.Fprintln(os.Stderr, result.RawLog)
		}
		return fmt.Errorf("compilation failed with %d errors", len(result.Diagnostics))
	default:
		return fmt.Errorf("build failed (%s): %s", result.Outcome, result.Cause)
	}
}

func runBoards(configPath string) error {
	cfg := config.Default()
	if loaded, err := config.Load(configPath); err == nil {
		cfg = loaded
	}

	registry, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	for _, p := range registry.List() {
		fmt.Printf("%-28s platform=%-14s board=%s\n", p.FQBN, p.Platform, p.Board)
	}
	return nil
}
