package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/twistedbytes/genproj/pkg/hostmodel"
	"github.com/twistedbytes/genproj/pkg/telemetry"
)

// Config is the genproj configuration file.
type Config struct {
	// Engine controls engine discovery and the build tool flavor.
	Engine EngineConfig `yaml:"engine" json:"engine"`

	// Runner controls how the build tool process is started.
	Runner RunnerConfig `yaml:"runner" json:"runner"`

	// Hooks configures the extra-arguments script.
	Hooks HooksConfig `yaml:"hooks" json:"hooks"`

	// History configures the invocation history database.
	History HistoryConfig `yaml:"history" json:"history"`

	// Watch configures watch mode.
	Watch WatchConfig `yaml:"watch" json:"watch"`

	// Telemetry configures logging, tracing and metrics.
	Telemetry telemetry.Config `yaml:"telemetry" json:"telemetry"`
}

// EngineConfig configures engine discovery.
type EngineConfig struct {
	// Flavor is installed (-rocket) or source (-engine).
	Flavor string `yaml:"flavor" json:"flavor" validate:"omitempty,oneof=installed source"`

	// Dirs are engine directories tried before any other candidate.
	Dirs []string `yaml:"dirs,omitempty" json:"dirs,omitempty"`

	// Associations maps EngineAssociation values (e.g. "5.3") to engine directories.
	Associations map[string]string `yaml:"associations,omitempty" json:"associations,omitempty"`

	// InstallIni is the launcher registry. Empty disables the lookup.
	InstallIni string `yaml:"install_ini,omitempty" json:"install_ini,omitempty"`
}

// RunnerConfig configures process execution.
type RunnerConfig struct {
	// Launcher is prepended to the command, e.g. ["mono"].
	Launcher []string `yaml:"launcher,omitempty" json:"launcher,omitempty" validate:"omitempty,dive,required"`

	// Timeout bounds one invocation. Zero means no timeout.
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gte=0"`

	// WaitDelay bounds pipe draining after the process was killed.
	WaitDelay time.Duration `yaml:"wait_delay" json:"wait_delay" validate:"gte=0"`

	// WorkingDir is the working directory of the build tool.
	WorkingDir string `yaml:"working_dir,omitempty" json:"working_dir,omitempty"`
}

// HooksConfig configures the Starlark extra-arguments script.
type HooksConfig struct {
	// ArgsScript is a Starlark file defining extra_args.
	ArgsScript string `yaml:"args_script,omitempty" json:"args_script,omitempty"`

	// Timeout bounds script execution.
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gte=0"`
}

// HistoryConfig configures the invocation history.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path" validate:"required_if=Enabled true"`
}

// WatchConfig configures watch mode.
type WatchConfig struct {
	// Debounce collapses bursts of file events into one trigger.
	Debounce time.Duration `yaml:"debounce" json:"debounce" validate:"gte=0"`

	// Ignore lists additional directory names that are not watched.
	Ignore []string `yaml:"ignore,omitempty" json:"ignore,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Flavor:     "installed",
			InstallIni: defaultInstallIni(),
		},
		Runner: RunnerConfig{
			WaitDelay: 2 * time.Second,
		},
		Hooks: HooksConfig{
			Timeout: 10 * time.Second,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    defaultHistoryPath(),
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

func defaultHistoryPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(".genproj", "history.db")
	}
	return filepath.Join(dir, "genproj", "history.db")
}

func defaultInstallIni() string {
	p, err := hostmodel.DefaultInstallIniPath()
	if err != nil {
		return ""
	}
	return p
}

// ValidationError is a configuration problem with its location.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the field path (e.g., "runner.timeout").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	loc := e.File
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d:%d", e.File, e.Line, e.Column)
	}
	switch {
	case loc != "" && e.Path != "":
		return fmt.Sprintf("%s: %s: %s", loc, e.Path, e.Message)
	case loc != "":
		return fmt.Sprintf("%s: %s", loc, e.Message)
	case e.Path != "":
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// LoadError reports every problem found in a configuration file.
type LoadError struct {
	Source string
	Errors []ValidationError
}

func (e *LoadError) Error() string {
	switch len(e.Errors) {
	case 0:
		return fmt.Sprintf("invalid configuration %s", e.Source)
	case 1:
		return fmt.Sprintf("invalid configuration %s: %s", e.Source, e.Errors[0])
	}
	return fmt.Sprintf("invalid configuration %s: %d errors, first: %s", e.Source, len(e.Errors), e.Errors[0])
}
