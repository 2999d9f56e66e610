package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"testing"
	"time"

	"github.com/twistedbytes/genproj/pkg/engine"
)

var hookRes = engine.Resolution{EngineRoot: "/x", ProjectDescriptor: "/x/MyGame/MyGame.uproject"}

func TestArgsScriptEvaluate(t *testing.T) {
	t.Setenv("GENPROJ_HOOK_TEST", "from-env")

	tests := []struct {
		name    string
		script  string
		flavor  engine.EngineFlavor
		want    []string
		wantErr bool
	}{
		{
			name:   "static list",
			script: `extra_args = ["-vscode", "-makefile"]`,
			want:   []string{"-vscode", "-makefile"},
		},
		{
			name:   "tuple",
			script: `extra_args = ("-cmakefile",)`,
			want:   []string{"-cmakefile"},
		},
		{
			name: "function of context",
			script: `
def extra_args(ctx):
    args = ["-log=" + ctx.project_name + ".log"]
    if ctx.flavor == "source":
        args.append("-engineroot=" + ctx.engine_root)
    return args
`,
			flavor: engine.FlavorSource,
			want:   []string{"-log=MyGame.log", "-engineroot=/x"},
		},
		{
			name:   "os and project fields",
			script: `extra_args = lambda ctx: [ctx.os, ctx.project]`,
			want:   []string{runtime.GOOS, "/x/MyGame/MyGame.uproject"},
		},
		{
			name:   "getenv",
			script: `extra_args = [getenv("GENPROJ_HOOK_TEST"), getenv("GENPROJ_HOOK_UNSET", "-fallback")]`,
			want:   []string{"from-env", "-fallback"},
		},
		{
			name:   "empty list",
			script: `extra_args = []`,
			want:   []string{},
		},
		{name: "missing extra_args", script: `other = 1`, wantErr: true},
		{name: "single string", script: `extra_args = "-vscode"`, wantErr: true},
		{name: "non-string element", script: `extra_args = ["-a", 1]`, wantErr: true},
		{name: "empty element", script: `extra_args = [""]`, wantErr: true},
		{name: "syntax error", script: `extra_args = [`, wantErr: true},
		{name: "runtime error", script: `extra_args = lambda ctx: ctx.missing`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flavor := tt.flavor
			if flavor == "" {
				flavor = engine.FlavorInstalled
			}

			s := NewArgsScript("test.star", tt.script, time.Second, nil)
			got, err := s.Evaluate(context.Background(), hookRes, flavor)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Evaluate() = %v, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Evaluate() error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestArgsScriptTimeout(t *testing.T) {
	script := `
def spin():
    n = 0
    for i in range(1000000000):
        n += i
    return n

extra_args = [str(spin())]
`
	s := NewArgsScript("slow.star", script, 50*time.Millisecond, nil)

	start := time.Now()
	_, err := s.Evaluate(context.Background(), hookRes, engine.FlavorInstalled)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Evaluate() error = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("script was not cancelled promptly")
	}
}

func TestArgsScriptAsGeneratorHook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genproj.star")
	if err := os.WriteFile(path, []byte(`extra_args = ["-vscode"]`), 0644); err != nil {
		t.Fatalf("write script: %v", err)
	}

	s, err := LoadArgsScript(path, 0, nil)
	if err != nil {
		t.Fatalf("LoadArgsScript() error: %v", err)
	}

	var hook engine.ArgsHook = s.Hook()
	got, err := hook(context.Background(), hookRes, engine.FlavorInstalled)
	if err != nil || !reflect.DeepEqual(got, []string{"-vscode"}) {
		t.Errorf("hook() = %v, %v", got, err)
	}

	if _, err := LoadArgsScript(filepath.Join(t.TempDir(), "missing.star"), 0, nil); err == nil {
		t.Error("expected an error for a missing script")
	}
}
