package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/twistedbytes/genproj/pkg/telemetry"
)

// fakeNotifier records everything the generator reports.
type fakeNotifier struct {
	mu       sync.Mutex
	infos    []string
	errors   []string
	dialogs  []string
	refreshs int
}

func (n *fakeNotifier) Info(_ context.Context, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.infos = append(n.infos, msg)
}

func (n *fakeNotifier) Error(_ context.Context, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, msg)
}

func (n *fakeNotifier) ShowError(_ context.Context, title, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dialogs = append(n.dialogs, title+": "+msg)
}

func (n *fakeNotifier) Refresh(context.Context) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.refreshs++
}

// fakeRunner records spawned commands and replays a scripted result.
type fakeRunner struct {
	mu       sync.Mutex
	commands []BuildCommand
	stdout   []string
	stderr   []string
	exitCode int
	err      error
	onRun    func(ctx context.Context) error
}

func (r *fakeRunner) Run(ctx context.Context, cmd BuildCommand, sink LineSink) (*InvocationResult, error) {
	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	r.mu.Unlock()

	if r.onRun != nil {
		if err := r.onRun(ctx); err != nil {
			return nil, err
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	for _, l := range r.stdout {
		sink.Stdout(l)
	}
	for _, l := range r.stderr {
		sink.Stderr(l)
	}
	return &InvocationResult{ExitCode: r.exitCode, Stdout: r.stdout, Stderr: r.stderr}, nil
}

func (r *fakeRunner) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.commands)
}

type fakeProvider struct {
	modules []Module
	err     error
}

func (p *fakeProvider) Modules(context.Context) ([]Module, error) {
	return p.modules, p.err
}

type fakeRecorder struct {
	outcomes []*Outcome
}

func (r *fakeRecorder) Record(_ context.Context, o *Outcome) error {
	r.outcomes = append(r.outcomes, o)
	return nil
}

var exampleRoots = []string{"/x/Engine/Source/UE5Editor.Target.cs", "/x/MyGame/MyGame.uproject"}

func newTestGenerator(t *testing.T, provider ProjectModelProvider, runner *fakeRunner, opts Options) (*Generator, *fakeNotifier, *BusyState) {
	t.Helper()

	notifier := &fakeNotifier{}
	busy := NewBusyState()
	g, err := NewGenerator(provider, runner, notifier, busy, opts)
	if err != nil {
		t.Fatalf("NewGenerator() error: %v", err)
	}
	return g, notifier, busy
}

func TestGenerateSuccess(t *testing.T) {
	runner := &fakeRunner{stdout: []string{"Generating data for project indexing...", "Done"}, stderr: []string{"warning: x"}}
	g, notifier, busy := newTestGenerator(t, nil, runner, Options{})

	if err := g.Generate(context.Background(), exampleRoots); err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	if runner.calls() != 1 {
		t.Fatalf("expected 1 spawn, got %d", runner.calls())
	}
	cmd := runner.commands[0]
	wantExe := filepath.FromSlash("/x/Engine/Binaries/DotNET/UnrealBuildTool.exe")
	if cmd.Executable != wantExe {
		t.Errorf("Executable = %q, want %q", cmd.Executable, wantExe)
	}
	if project, _ := cmd.Arg("-project="); project != "/x/MyGame/MyGame.uproject" {
		t.Errorf("-project= = %q", project)
	}

	if notifier.refreshs != 1 {
		t.Errorf("expected 1 refresh, got %d", notifier.refreshs)
	}
	if len(notifier.dialogs) != 0 {
		t.Errorf("expected no dialogs, got %v", notifier.dialogs)
	}
	if !hasLine(notifier.infos, "Done") {
		t.Errorf("stdout line not routed to info channel: %v", notifier.infos)
	}
	if !hasLine(notifier.errors, "warning: x") {
		t.Errorf("stderr line not routed to error channel: %v", notifier.errors)
	}
	if busy.Busy() {
		t.Error("busy state not released after success")
	}
}

func TestGenerateNonZeroExit(t *testing.T) {
	runner := &fakeRunner{exitCode: 42}
	g, notifier, busy := newTestGenerator(t, nil, runner, Options{})

	err := g.Generate(context.Background(), exampleRoots)
	if !errors.Is(err, ErrNonZeroExit) {
		t.Fatalf("expected non-zero exit error, got %v", err)
	}

	var genErr *GenerationError
	if !errors.As(err, &genErr) || genErr.ExitCode != 42 {
		t.Errorf("expected exit code 42 on error, got %+v", genErr)
	}
	if notifier.refreshs != 0 {
		t.Errorf("expected no refresh, got %d", notifier.refreshs)
	}
	if len(notifier.dialogs) != 1 {
		t.Fatalf("expected exactly 1 dialog, got %d", len(notifier.dialogs))
	}
	if !strings.Contains(notifier.dialogs[0], "42") {
		t.Errorf("dialog does not contain the exit code: %q", notifier.dialogs[0])
	}
	if !hasLine(notifier.errors, "Failed to regenerate project files (Code: 42). See the log for more details.") {
		t.Errorf("missing error log entry: %v", notifier.errors)
	}
	if busy.Busy() {
		t.Error("busy state not released after failure")
	}
}

func TestGenerateResolutionFailures(t *testing.T) {
	tests := []struct {
		name    string
		roots   []string
		wantErr error
		wantLog string
	}{
		{
			name:    "engine root missing",
			roots:   []string{"/x/MyGame/MyGame.uproject"},
			wantErr: ErrEngineRootNotFound,
			wantLog: "Could not determine engine root path.",
		},
		{
			name:    "descriptor missing with engine found",
			roots:   []string{"/x/Engine/Source/UE5Editor.Target.cs"},
			wantErr: ErrProjectDescriptorNotFound,
			wantLog: "Could not determine uproject.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{}
			g, notifier, busy := newTestGenerator(t, nil, runner, Options{})

			err := g.Generate(context.Background(), tt.roots)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Generate() error = %v, want %v", err, tt.wantErr)
			}
			if runner.calls() != 0 {
				t.Errorf("expected no spawn, got %d", runner.calls())
			}
			if !hasLine(notifier.errors, tt.wantLog) {
				t.Errorf("missing error log %q in %v", tt.wantLog, notifier.errors)
			}
			if busy.Busy() {
				t.Error("busy state not released")
			}
		})
	}
}

func TestGenerateSpawnError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("exec: no such file or directory")}
	g, notifier, busy := newTestGenerator(t, nil, runner, Options{})

	err := g.Generate(context.Background(), exampleRoots)
	if !errors.Is(err, ErrProcessSpawn) {
		t.Fatalf("expected spawn error, got %v", err)
	}
	if len(notifier.errors) == 0 {
		t.Error("spawn error was not logged")
	}
	if len(notifier.dialogs) != 0 || notifier.refreshs != 0 {
		t.Errorf("unexpected dialogs=%d refreshs=%d", len(notifier.dialogs), notifier.refreshs)
	}
	if busy.Busy() {
		t.Error("busy state not released after spawn error")
	}
}

func TestGenerateInternalError(t *testing.T) {
	runner := &fakeRunner{onRun: func(context.Context) error {
		panic("boom")
	}}
	g, _, busy := newTestGenerator(t, nil, runner, Options{})

	err := g.Generate(context.Background(), exampleRoots)
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("internal error lost the panic value: %v", err)
	}
	if busy.Busy() {
		t.Error("busy state not released after panic")
	}
}

func TestGenerateRefusedWhileBusy(t *testing.T) {
	runner := &fakeRunner{}
	g, notifier, busy := newTestGenerator(t, nil, runner, Options{})

	if !busy.TryAcquire() {
		t.Fatal("fresh busy state should be acquirable")
	}
	err := g.Generate(context.Background(), exampleRoots)
	if !IsBusy(err) {
		t.Fatalf("expected busy error, got %v", err)
	}
	if runner.calls() != 0 {
		t.Errorf("expected no spawn while busy, got %d", runner.calls())
	}
	if len(notifier.infos)+len(notifier.errors) != 0 {
		t.Errorf("refused trigger must have no effect, got infos=%v errors=%v", notifier.infos, notifier.errors)
	}
	if !busy.Busy() {
		t.Error("refused trigger released a state it did not own")
	}
	busy.Release()
}

func TestGenerateConcurrentTriggerRefused(t *testing.T) {
	var g *Generator
	var nested error
	runner := &fakeRunner{}
	runner.onRun = func(ctx context.Context) error {
		if !g.Busy() {
			t.Error("generator not busy while the build tool runs")
		}
		nested = g.Generate(ctx, exampleRoots)
		return nil
	}
	g, _, busy := newTestGenerator(t, nil, runner, Options{})

	if err := g.Generate(context.Background(), exampleRoots); err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if !IsBusy(nested) {
		t.Errorf("nested trigger error = %v, want busy", nested)
	}
	if runner.calls() != 1 {
		t.Errorf("expected 1 spawn, got %d", runner.calls())
	}
	if busy.Busy() {
		t.Error("busy state not released")
	}
}

func TestGenerateManyParallelTriggers(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	runner := &fakeRunner{onRun: func(context.Context) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	}}
	g, _, _ := newTestGenerator(t, nil, runner, Options{})

	firstDone := make(chan error, 1)
	go func() { firstDone <- g.Generate(context.Background(), exampleRoots) }()
	<-started

	var wg sync.WaitGroup
	refused := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			refused <- g.Generate(context.Background(), exampleRoots)
		}()
	}
	wg.Wait()
	close(refused)
	close(release)

	for err := range refused {
		if !IsBusy(err) {
			t.Errorf("parallel trigger error = %v, want busy", err)
		}
	}
	if err := <-firstDone; err != nil {
		t.Errorf("first trigger error: %v", err)
	}
	if runner.calls() != 1 {
		t.Errorf("expected exactly 1 spawn, got %d", runner.calls())
	}
}

func TestRunModuleTopology(t *testing.T) {
	tests := []struct {
		name    string
		modules []Module
	}{
		{name: "no modules", modules: nil},
		{
			name: "two modules",
			modules: []Module{
				{Name: "A", ContentRoots: exampleRoots},
				{Name: "B", ContentRoots: exampleRoots},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{}
			g, notifier, busy := newTestGenerator(t, &fakeProvider{modules: tt.modules}, runner, Options{})

			err := g.Run(context.Background())
			if !errors.Is(err, ErrModuleTopology) {
				t.Fatalf("Run() error = %v, want module topology", err)
			}
			if runner.calls() != 0 {
				t.Errorf("expected no spawn, got %d", runner.calls())
			}
			if len(notifier.errors) != 1 || !strings.Contains(notifier.errors[0], fmt.Sprintf("found %d", len(tt.modules))) {
				t.Errorf("unexpected error log: %v", notifier.errors)
			}
			if busy.Busy() {
				t.Error("busy state not released")
			}
		})
	}
}

func TestRunSingleModule(t *testing.T) {
	runner := &fakeRunner{}
	provider := &fakeProvider{modules: []Module{{Name: "MyGame", ContentRoots: exampleRoots}}}
	g, notifier, _ := newTestGenerator(t, provider, runner, Options{Flavor: FlavorSource})

	if err := g.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	want := []string{"-waitmutex", "-projectfiles", "-project=/x/MyGame/MyGame.uproject", "-game", "-engine", "-progress"}
	if !reflect.DeepEqual(runner.commands[0].Args, want) {
		t.Errorf("Args = %v, want %v", runner.commands[0].Args, want)
	}
	if notifier.refreshs != 1 {
		t.Errorf("expected 1 refresh, got %d", notifier.refreshs)
	}
}

func TestRunProviderError(t *testing.T) {
	runner := &fakeRunner{}
	g, _, busy := newTestGenerator(t, &fakeProvider{err: errors.New("permission denied")}, runner, Options{})

	err := g.Run(context.Background())
	if !errors.Is(err, ErrModuleTopology) {
		t.Fatalf("Run() error = %v", err)
	}
	if busy.Busy() {
		t.Error("busy state not released")
	}
}

func TestGenerateArgsHook(t *testing.T) {
	t.Run("extra args appended", func(t *testing.T) {
		runner := &fakeRunner{}
		hook := func(_ context.Context, res Resolution, flavor EngineFlavor) ([]string, error) {
			if res.EngineRoot != "/x" || flavor != FlavorInstalled {
				t.Errorf("hook got res=%+v flavor=%s", res, flavor)
			}
			return []string{"-vscode"}, nil
		}
		g, _, _ := newTestGenerator(t, nil, runner, Options{ArgsHook: hook})

		if err := g.Generate(context.Background(), exampleRoots); err != nil {
			t.Fatalf("Generate() error: %v", err)
		}
		args := runner.commands[0].Args
		if args[len(args)-1] != "-vscode" {
			t.Errorf("expected -vscode last, got %v", args)
		}
	})

	t.Run("hook failure aborts", func(t *testing.T) {
		runner := &fakeRunner{}
		hook := func(context.Context, Resolution, EngineFlavor) ([]string, error) {
			return nil, errors.New("script error")
		}
		g, _, busy := newTestGenerator(t, nil, runner, Options{ArgsHook: hook})

		err := g.Generate(context.Background(), exampleRoots)
		if !errors.Is(err, ErrHookFailed) {
			t.Fatalf("Generate() error = %v, want hook failed", err)
		}
		if runner.calls() != 0 {
			t.Errorf("expected no spawn, got %d", runner.calls())
		}
		if busy.Busy() {
			t.Error("busy state not released")
		}
	})
}

func TestGenerateTimeout(t *testing.T) {
	runner := &fakeRunner{onRun: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	g, notifier, busy := newTestGenerator(t, nil, runner, Options{Timeout: 20 * time.Millisecond})

	err := g.Generate(context.Background(), exampleRoots)
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("Generate() error = %v, want canceled", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("canceled error should wrap the deadline: %v", err)
	}
	if notifier.refreshs != 0 || len(notifier.dialogs) != 0 {
		t.Errorf("unexpected refresh=%d dialogs=%d", notifier.refreshs, len(notifier.dialogs))
	}
	if busy.Busy() {
		t.Error("busy state not released after timeout")
	}
}

func TestGenerateCanceledWrapsOnce(t *testing.T) {
	runner := &fakeRunner{onRun: func(ctx context.Context) error {
		<-ctx.Done()
		return fmt.Errorf("build tool interrupted: %w", ctx.Err())
	}}
	g, _, _ := newTestGenerator(t, nil, runner, Options{Timeout: 20 * time.Millisecond})

	err := g.Generate(context.Background(), exampleRoots)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Generate() error = %v, want deadline exceeded", err)
	}
	if n := strings.Count(err.Error(), context.DeadlineExceeded.Error()); n != 1 {
		t.Errorf("cause appears %d times in %q", n, err.Error())
	}
}

type failingRecorder struct{}

func (failingRecorder) Record(context.Context, *Outcome) error {
	return errors.New("disk full")
}

func TestGenerateLogsWithInvocationID(t *testing.T) {
	var buf bytes.Buffer
	logger := telemetry.NewLoggerWithWriter(telemetry.LoggingConfig{Level: "debug", Format: "json"}, &buf)

	recorder := &fakeRecorder{}
	g, _, _ := newTestGenerator(t, nil, &fakeRunner{}, Options{Logger: logger, Recorder: recorder})
	if err := g.Generate(context.Background(), exampleRoots); err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	id := recorder.outcomes[0].ID
	if !strings.Contains(buf.String(), `"invocation_id":"`+id+`"`) || !strings.Contains(buf.String(), "Generation finished: success") {
		t.Errorf("debug log missing invocation id %s:\n%s", id, buf.String())
	}

	buf.Reset()
	g, _, _ = newTestGenerator(t, nil, &fakeRunner{}, Options{Logger: logger, Recorder: failingRecorder{}})
	if err := g.Generate(context.Background(), exampleRoots); err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Failed to record invocation") || !strings.Contains(out, "disk full") || !strings.Contains(out, `"invocation_id"`) {
		t.Errorf("record failure not logged with invocation id:\n%s", out)
	}
}

func TestGenerateRecordsOutcome(t *testing.T) {
	recorder := &fakeRecorder{}
	runner := &fakeRunner{exitCode: 3, stdout: []string{"a", "b"}, stderr: []string{"c"}}
	g, _, _ := newTestGenerator(t, nil, runner, Options{Recorder: recorder})

	_ = g.Generate(context.Background(), exampleRoots)
	_ = g.Generate(context.Background(), []string{"/nothing"})

	if len(recorder.outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(recorder.outcomes))
	}

	first := recorder.outcomes[0]
	if first.Kind != KindNonZeroExit || first.ExitCode == nil || *first.ExitCode != 3 {
		t.Errorf("first outcome = %+v", first)
	}
	if first.StdoutLines != 2 || first.StderrLines != 1 {
		t.Errorf("line counts = %d/%d, want 2/1", first.StdoutLines, first.StderrLines)
	}
	if first.ProjectDescriptor != "/x/MyGame/MyGame.uproject" || first.EngineRoot != "/x" {
		t.Errorf("resolution not recorded: %+v", first)
	}
	if first.ID == "" || first.ID == recorder.outcomes[1].ID {
		t.Errorf("outcome ids must be unique and non-empty")
	}

	second := recorder.outcomes[1]
	if second.Kind != KindEngineRootNotFound || second.ExitCode != nil || second.Command != nil {
		t.Errorf("second outcome = %+v", second)
	}
}

func TestNewGeneratorValidation(t *testing.T) {
	runner := &fakeRunner{}
	notifier := &fakeNotifier{}
	busy := NewBusyState()

	if _, err := NewGenerator(nil, nil, notifier, busy, Options{}); err == nil {
		t.Error("expected error for nil runner")
	}
	if _, err := NewGenerator(nil, runner, nil, busy, Options{}); err == nil {
		t.Error("expected error for nil notifier")
	}
	if _, err := NewGenerator(nil, runner, notifier, nil, Options{}); err == nil {
		t.Error("expected error for nil busy state")
	}
	if _, err := NewGenerator(nil, runner, notifier, busy, Options{Flavor: "nightly"}); err == nil {
		t.Error("expected error for unknown flavor")
	}
}

func hasLine(lines []string, want string) bool {
	for _, l := range lines {
		if l == want {
			return true
		}
	}
	return false
}
