package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/twistedbytes/genproj/pkg/config"
	"github.com/twistedbytes/genproj/pkg/engine"
	"github.com/twistedbytes/genproj/pkg/hostmodel"
	"github.com/twistedbytes/genproj/pkg/notify"
	"github.com/twistedbytes/genproj/pkg/runner"
	"github.com/twistedbytes/genproj/pkg/stores"
	"github.com/twistedbytes/genproj/pkg/telemetry"
)

// projectFlags are shared by every command that resolves a project.
type projectFlags struct {
	roots      []string
	engineDirs []string
	flavor     string
	launcher   []string
	timeout    time.Duration
	argsScript string
	noHistory  bool
}

func (f *projectFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&f.roots, "root", nil, "candidate content root (repeatable, bypasses the project scanner)")
	cmd.Flags().StringArrayVar(&f.engineDirs, "engine-dir", nil, "engine directory to try first (repeatable)")
	cmd.Flags().StringVar(&f.flavor, "engine-flavor", "", "engine flavor: installed (-rocket) or source (-engine)")
	cmd.Flags().StringArrayVar(&f.launcher, "launcher", nil, "command prepended to the build tool, e.g. mono (repeatable)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "abort the build tool after this long (0 disables)")
	cmd.Flags().StringVar(&f.argsScript, "args-script", "", "Starlark script defining extra_args")
	cmd.Flags().BoolVar(&f.noHistory, "no-history", false, "do not record the invocation")
}

// apply overrides configuration values with the flags that were set.
func (f *projectFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("engine-dir") {
		cfg.Engine.Dirs = append(append([]string(nil), f.engineDirs...), cfg.Engine.Dirs...)
	}
	if flags.Changed("engine-flavor") {
		cfg.Engine.Flavor = f.flavor
	}
	if flags.Changed("launcher") {
		cfg.Runner.Launcher = f.launcher
	}
	if flags.Changed("timeout") {
		cfg.Runner.Timeout = f.timeout
	}
	if flags.Changed("args-script") {
		cfg.Hooks.ArgsScript = f.argsScript
	}
	if f.noHistory {
		cfg.History.Enabled = false
	}
}

// app wires the generator and its collaborators for one command.
type app struct {
	cfg         *config.Config
	configFile  string
	projectDirs []string

	tel      *telemetry.Telemetry
	logger   *telemetry.Logger
	notifier *notify.Console
	provider engine.ProjectModelProvider
	runner   *runner.Exec
	argsHook engine.ArgsHook
	store    *stores.SQLiteStore
	busy     *engine.BusyState

	generator *engine.Generator
}

// newApp loads configuration for the first project directory and builds
// every collaborator. Project directories default to the working directory.
func newApp(cmd *cobra.Command, projectDirs []string, flags *projectFlags) (*app, error) {
	if len(projectDirs) == 0 {
		projectDirs = []string{"."}
	}

	cfg, used, err := config.NewLoader().LoadForProject(configPath, projectDirs[0])
	if err != nil {
		return nil, err
	}
	if flags != nil {
		flags.apply(cmd, cfg)
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if err := config.NewLoader().Validate(cfg); err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	a := &app{
		cfg:         cfg,
		configFile:  used,
		projectDirs: projectDirs,
		tel:         tel,
		logger:      tel.Logger,
		busy:        engine.NewBusyState(),
	}
	if used != "" {
		a.logger.WithField("config", used).Debug("Loaded configuration")
	}

	a.notifier = notify.NewConsole(a.logger, cmd.ErrOrStderr(), tel.Events)

	if flags != nil && len(flags.roots) > 0 {
		a.provider = hostmodel.FromRoots("cli", flags.roots)
	} else {
		a.provider = &hostmodel.Filesystem{
			ProjectDirs: projectDirs,
			EngineDirs:  cfg.Engine.Dirs,
			Engines:     cfg.Engine.Associations,
			InstallIni:  cfg.Engine.InstallIni,
			Logger:      a.logger,
		}
	}

	a.runner = &runner.Exec{
		Launcher:  cfg.Runner.Launcher,
		Dir:       cfg.Runner.WorkingDir,
		WaitDelay: cfg.Runner.WaitDelay,
		Logger:    a.logger,
	}

	if cfg.Hooks.ArgsScript != "" {
		script, err := config.LoadArgsScript(a.relativeToConfig(cfg.Hooks.ArgsScript), cfg.Hooks.Timeout, a.logger)
		if err != nil {
			a.Close(cmd.Context())
			return nil, err
		}
		a.argsHook = script.Hook()
	}

	if cfg.History.Enabled {
		store, err := openStore(cmd.Context(), cfg.History.Path)
		if err != nil {
			// History is optional; generation still works without it.
			a.logger.WithError(err).WithField("path", cfg.History.Path).Warn("Invocation history unavailable")
		} else {
			a.store = store
			tel.Events.Subscribe(store.EventSubscriber(a.logger), nil)
		}
	}

	opts := engine.Options{
		Flavor:   engine.EngineFlavor(cfg.Engine.Flavor),
		Timeout:  cfg.Runner.Timeout,
		ArgsHook: a.argsHook,
		Metrics:  tel.Metrics,
		Tracer:   tel.Tracer,
		Logger:   a.logger,
	}
	if a.store != nil {
		opts.Recorder = a.store
	}

	a.generator, err = engine.NewGenerator(a.provider, a.runner, a.notifier, a.busy, opts)
	if err != nil {
		a.Close(cmd.Context())
		return nil, err
	}

	return a, nil
}

// relativeToConfig resolves a path from the configuration file against the
// file's directory.
func (a *app) relativeToConfig(path string) string {
	if filepath.IsAbs(path) || a.configFile == "" {
		return path
	}
	return filepath.Join(filepath.Dir(a.configFile), path)
}

// Close releases the store and flushes traces.
func (a *app) Close(ctx context.Context) {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close history store")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.tel.Shutdown(shutdownCtx); err != nil {
		a.logger.WithError(err).Warn("Failed to flush traces")
	}
}

func openStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}
