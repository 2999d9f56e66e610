package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/twistedbytes/genproj/pkg/telemetry"
)

// DialogTitle is the title of the error dialog shown when the build tool fails.
const DialogTitle = "Generate project files ..."

// Options configures a Generator.
type Options struct {
	// Flavor selects -rocket (installed, default) or -engine (source).
	Flavor EngineFlavor

	// Timeout bounds one invocation, spawn to exit. Zero means no timeout.
	Timeout time.Duration

	// ArgsHook supplies extra build tool arguments. Optional.
	ArgsHook ArgsHook

	// Recorder receives every finished invocation. Optional.
	Recorder Recorder

	// Metrics and Tracer are optional.
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer

	// Logger receives diagnostics that are not part of the host log channels.
	Logger *telemetry.Logger
}

// Generator regenerates IDE project files for one project.
type Generator struct {
	provider ProjectModelProvider
	runner   ProcessRunner
	notifier Notifier
	busy     *BusyState
	opts     Options
}

// NewGenerator creates a generator. provider may be nil if only Generate is used.
// busy is owned by the caller and may be shared with the host trigger.
func NewGenerator(provider ProjectModelProvider, runner ProcessRunner, notifier Notifier, busy *BusyState, opts Options) (*Generator, error) {
	if runner == nil {
		return nil, fmt.Errorf("process runner is required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if busy == nil {
		return nil, fmt.Errorf("busy state is required")
	}
	if opts.Flavor == "" {
		opts.Flavor = FlavorInstalled
	}
	if !opts.Flavor.Valid() {
		return nil, fmt.Errorf("invalid engine flavor: %s", opts.Flavor)
	}
	if opts.Timeout < 0 {
		return nil, fmt.Errorf("timeout must not be negative, got: %v", opts.Timeout)
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NopLogger()
	}

	return &Generator{
		provider: provider,
		runner:   runner,
		notifier: notifier,
		busy:     busy,
		opts:     opts,
	}, nil
}

// Busy reports whether an invocation is in progress.
func (g *Generator) Busy() bool {
	return g.busy.Busy()
}

// Run is the host trigger: it asks the project model for modules, requires
// exactly one, and generates project files from that module's content roots.
func (g *Generator) Run(ctx context.Context) error {
	if g.provider == nil {
		return newError(KindInternal, "no project model provider configured", nil)
	}

	return g.invoke(ctx, func(ctx context.Context, o *Outcome) error {
		modules, err := g.provider.Modules(ctx)
		if err != nil {
			g.notifier.Error(ctx, fmt.Sprintf("Could not read project model: %v", err))
			return newError(KindModuleTopology, "failed to read project model", err)
		}

		if len(modules) != 1 {
			g.notifier.Error(ctx, describeModules(modules))
			return newError(KindModuleTopology, fmt.Sprintf("expected exactly one module, found %d", len(modules)), nil).
				WithDetail("modules", modules)
		}

		return g.generate(ctx, o, modules[0].ContentRoots)
	})
}

// Generate regenerates project files from an explicit list of candidate roots.
func (g *Generator) Generate(ctx context.Context, candidateRoots []string) error {
	return g.invoke(ctx, func(ctx context.Context, o *Outcome) error {
		return g.generate(ctx, o, candidateRoots)
	})
}

// invoke holds the busy state around fn and turns panics into internal errors.
// The busy state is released on every path.
func (g *Generator) invoke(ctx context.Context, fn func(context.Context, *Outcome) error) (err error) {
	if !g.busy.TryAcquire() {
		g.opts.Metrics.RecordTriggerRejected()
		return newError(KindBusy, "project file generation already running", nil)
	}
	defer g.busy.Release()

	timer := telemetry.NewTimer()
	outcome := &Outcome{
		ID:        uuid.New().String(),
		StartedAt: timer.Start(),
	}

	ctx, span := g.opts.Tracer.StartSpan(ctx, "genproj.generate",
		telemetry.AttrInvocationID.String(outcome.ID),
		telemetry.AttrEngineFlavor.String(string(g.opts.Flavor)),
	)
	defer span.End()

	log := g.opts.Logger.WithInvocationID(outcome.ID)
	if traceID := telemetry.TraceID(ctx); traceID != "" {
		log = log.WithField("trace_id", traceID)
	}
	ctx = log.WithContext(ctx)

	g.opts.Metrics.RecordGenerationStarted()

	defer func() {
		if r := recover(); r != nil {
			log.Zerolog().Error().
				Str("stack", string(debug.Stack())).
				Msgf("panic during project file generation: %v", r)
			g.notifier.Error(ctx, fmt.Sprintf("Failed to execute the command: %v", r))
			err = newError(KindInternal, "failed to execute the command", fmt.Errorf("panic: %v", r))
		}

		outcome.Duration = timer.Duration()
		label := "success"
		if err != nil {
			kind := KindOf(err)
			if kind == "" {
				kind = KindInternal
			}
			outcome.Kind = kind
			outcome.Error = err.Error()
			label = string(kind)
			span.SetAttributes(telemetry.AttrErrorKind.String(label))
			telemetry.RecordError(span, err)
		} else {
			telemetry.RecordSuccess(span)
		}
		g.opts.Metrics.RecordGenerationCompleted(label, outcome.Duration)
		log.Debugf("Generation finished: %s in %s", label, outcome.Duration)
		g.record(ctx, outcome)
	}()

	g.notifier.Info(ctx, "Generating project files for UE project ...")

	return fn(ctx, outcome)
}

// generate is the linear lookup-and-invoke procedure.
func (g *Generator) generate(ctx context.Context, o *Outcome, roots []string) error {
	res, err := Resolve(roots)
	if err != nil {
		switch KindOf(err) {
		case KindEngineRootNotFound:
			g.notifier.Error(ctx, "Could not determine engine root path.")
		case KindProjectDescriptorNotFound:
			g.notifier.Error(ctx, "Could not determine uproject.")
		}
		return err
	}
	o.EngineRoot = res.EngineRoot
	o.ProjectDescriptor = res.ProjectDescriptor
	g.notifier.Info(ctx, "Detected engine root path: "+res.EngineRoot)
	g.notifier.Info(ctx, "Detected uproject: "+res.ProjectDescriptor)

	var extra []string
	if g.opts.ArgsHook != nil {
		extra, err = g.opts.ArgsHook(ctx, res, g.opts.Flavor)
		if err != nil {
			g.notifier.Error(ctx, fmt.Sprintf("Extra arguments hook failed: %v", err))
			return newError(KindHookFailed, "extra arguments hook failed", err)
		}
	}

	cmd := BuildCommandFor(res, g.opts.Flavor, extra...)
	o.Command = cmd.Argv()
	trace.SpanFromContext(ctx).SetAttributes(spanAttrs(res, cmd)...)
	g.notifier.Info(ctx, "Running command: "+formatArgv(o.Command))

	return g.execute(ctx, o, cmd)
}

// execute spawns cmd, drains its output to the notifier and branches on the exit code.
func (g *Generator) execute(ctx context.Context, o *Outcome, cmd BuildCommand) error {
	runCtx := ctx
	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
	}

	span := trace.SpanFromContext(ctx)
	telemetry.AddEvent(span, "build_tool.spawn", attribute.String("executable", cmd.Executable))

	sink := &notifierSink{ctx: ctx, notifier: g.notifier, metrics: g.opts.Metrics}
	result, err := g.runner.Run(runCtx, cmd, sink)
	if result != nil {
		o.StdoutLines = len(result.Stdout)
		o.StderrLines = len(result.Stderr)
	}
	if err != nil {
		if ctxErr := runCtx.Err(); ctxErr != nil {
			g.notifier.Error(ctx, fmt.Sprintf("Project file generation canceled: %v", ctxErr))
			if !errors.Is(err, ctxErr) {
				err = fmt.Errorf("%w: %v", ctxErr, err)
			}
			return newError(KindCanceled, "project file generation canceled", err)
		}
		g.notifier.Error(ctx, fmt.Sprintf("Failed to start %s: %v", cmd.Executable, err))
		return newError(KindProcessSpawn, "failed to start build tool", err).
			WithDetail("executable", cmd.Executable)
	}

	code := result.ExitCode
	o.ExitCode = &code
	g.opts.Metrics.RecordExitCode(code)
	span.SetAttributes(telemetry.AttrExitCode.Int(code))
	telemetry.AddEvent(span, "build_tool.exit",
		telemetry.AttrExitCode.Int(code),
		attribute.Int("stdout_lines", o.StdoutLines),
		attribute.Int("stderr_lines", o.StderrLines),
	)

	if code == 0 {
		g.notifier.Info(ctx, "Project files successfully regenerated. Refreshing open project ...")
		g.notifier.Refresh(ctx)
		return nil
	}

	msg := fmt.Sprintf("Failed to regenerate project files (Code: %d). See the log for more details.", code)
	g.notifier.Error(ctx, msg)
	g.notifier.ShowError(ctx, DialogTitle, msg)

	e := newError(KindNonZeroExit, msg, nil)
	e.ExitCode = code
	return e
}

func (g *Generator) record(ctx context.Context, o *Outcome) {
	if g.opts.Recorder == nil {
		return
	}
	if err := g.opts.Recorder.Record(context.WithoutCancel(ctx), o); err != nil {
		telemetry.FromContext(ctx).WithError(err).Warn("Failed to record invocation")
	}
}

// notifierSink routes build tool output to the notifier log channels.
type notifierSink struct {
	ctx      context.Context
	notifier Notifier
	metrics  *telemetry.Metrics
}

func (s *notifierSink) Stdout(line string) {
	s.metrics.RecordOutputLine("stdout")
	s.notifier.Info(s.ctx, line)
}

func (s *notifierSink) Stderr(line string) {
	s.metrics.RecordOutputLine("stderr")
	s.notifier.Error(s.ctx, line)
}

func describeModules(modules []Module) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Expected exactly one module, found %d:", len(modules))
	for i, m := range modules {
		fmt.Fprintf(&sb, " Module[%d] name<%s> projectFilePath<%s> roots<%s>",
			i, m.Name, m.ProjectFilePath, strings.Join(m.ContentRoots, ", "))
	}
	return sb.String()
}

// formatArgv renders argv for logs, quoting tokens that contain spaces.
func formatArgv(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		if strings.ContainsAny(a, " \t") {
			quoted[i] = fmt.Sprintf("%q", a)
		} else {
			quoted[i] = a
		}
	}
	return strings.Join(quoted, " ")
}

// spanAttrs returns trace attributes describing a resolution.
func spanAttrs(res Resolution, cmd BuildCommand) []attribute.KeyValue {
	return []attribute.KeyValue{
		telemetry.AttrEngineRoot.String(res.EngineRoot),
		telemetry.AttrProjectDescriptor.String(res.ProjectDescriptor),
		telemetry.AttrExecutable.String(cmd.Executable),
	}
}
