package config

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/twistedbytes/genproj/pkg/engine"
	"github.com/twistedbytes/genproj/pkg/telemetry"
)

// DefaultHookTimeout bounds one script evaluation.
const DefaultHookTimeout = 10 * time.Second

// ArgsScript is a Starlark script that contributes extra build tool arguments.
//
// The script must define extra_args, either as a list of strings or as a
// function taking one argument and returning one. The argument is a struct
// with the fields engine_root, project, project_name, flavor and os:
//
//	def extra_args(ctx):
//	    if ctx.os == "linux":
//	        return ["-makefile"]
//	    return []
//
// getenv(name, default="") reads the process environment.
type ArgsScript struct {
	name    string
	source  string
	timeout time.Duration
	logger  *telemetry.Logger
}

// LoadArgsScript reads a script from disk.
func LoadArgsScript(path string, timeout time.Duration, logger *telemetry.Logger) (*ArgsScript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read args script: %w", err)
	}
	return NewArgsScript(path, string(data), timeout, logger), nil
}

// NewArgsScript creates a script from source. name is used in error positions.
func NewArgsScript(name, source string, timeout time.Duration, logger *telemetry.Logger) *ArgsScript {
	if timeout <= 0 {
		timeout = DefaultHookTimeout
	}
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &ArgsScript{
		name:    name,
		source:  source,
		timeout: timeout,
		logger:  logger.NewComponentLogger("args-script"),
	}
}

// Hook adapts the script to the generator's hook signature.
func (s *ArgsScript) Hook() engine.ArgsHook {
	return s.Evaluate
}

// Evaluate runs the script for one resolution. The script is re-executed on
// every call, so edits take effect without restarting watch mode.
func (s *ArgsScript) Evaluate(ctx context.Context, res engine.Resolution, flavor engine.EngineFlavor) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name: "genproj",
		Print: func(_ *starlark.Thread, msg string) {
			s.logger.Zerolog().Debug().Str("script", s.name).Msg(msg)
		},
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()

	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"getenv": starlark.NewBuiltin("getenv", builtinGetenv),
	}

	globals, err := starlark.ExecFile(thread, s.name, s.source, predeclared)
	if err != nil {
		return nil, s.wrap(ctx, err)
	}

	val, ok := globals["extra_args"]
	if !ok {
		return nil, fmt.Errorf("%s does not define extra_args", s.name)
	}

	if fn, ok := val.(starlark.Callable); ok {
		val, err = starlark.Call(thread, fn, starlark.Tuple{hookContext(res, flavor)}, nil)
		if err != nil {
			return nil, s.wrap(ctx, err)
		}
	}

	args, err := toStringList(val)
	if err != nil {
		return nil, fmt.Errorf("%s: extra_args: %w", s.name, err)
	}

	s.logger.Zerolog().Debug().Strs("args", args).Msg("Evaluated extra arguments")
	return args, nil
}

func (s *ArgsScript) wrap(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("starlark execution of %s interrupted: %w", s.name, ctxErr)
	}
	return fmt.Errorf("starlark execution failed: %w", err)
}

func hookContext(res engine.Resolution, flavor engine.EngineFlavor) *starlarkstruct.Struct {
	base := res.ProjectDescriptor
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}

	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"engine_root":  starlark.String(res.EngineRoot),
		"project":      starlark.String(res.ProjectDescriptor),
		"project_name": starlark.String(strings.TrimSuffix(base, ".uproject")),
		"flavor":       starlark.String(string(flavor)),
		"os":           starlark.String(runtime.GOOS),
	})
}

// toStringList converts a list or tuple of non-empty strings.
func toStringList(v starlark.Value) ([]string, error) {
	if _, ok := v.(starlark.String); ok {
		return nil, fmt.Errorf("expected a list of strings, got a single string")
	}
	iterable, ok := v.(starlark.Indexable)
	if !ok {
		return nil, fmt.Errorf("expected a list of strings, got %s", v.Type())
	}

	out := make([]string, 0, iterable.Len())
	for i := 0; i < iterable.Len(); i++ {
		item := iterable.Index(i)
		str, ok := item.(starlark.String)
		if !ok {
			return nil, fmt.Errorf("element %d: expected string, got %s", i, item.Type())
		}
		if str == "" {
			return nil, fmt.Errorf("element %d: empty argument", i)
		}
		out = append(out, string(str))
	}
	return out, nil
}

// builtinGetenv implements getenv(name, default="").
func builtinGetenv(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, def string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "default?", &def); err != nil {
		return nil, err
	}
	if v, ok := os.LookupEnv(name); ok {
		return starlark.String(v), nil
	}
	return starlark.String(def), nil
}
