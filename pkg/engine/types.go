package engine

import (
	"time"
)

// EngineFlavor selects how UnrealBuildTool treats the engine installation.
type EngineFlavor string

const (
	// FlavorInstalled targets a binary (launcher) engine build. UnrealBuildTool flag: -rocket.
	FlavorInstalled EngineFlavor = "installed"

	// FlavorSource targets an engine built from source. UnrealBuildTool flag: -engine.
	FlavorSource EngineFlavor = "source"
)

// Flag returns the UnrealBuildTool flag for the flavor.
// Unknown flavors fall back to the installed flag.
func (f EngineFlavor) Flag() string {
	if f == FlavorSource {
		return "-engine"
	}
	return "-rocket"
}

// Valid reports whether f is a known flavor.
func (f EngineFlavor) Valid() bool {
	return f == FlavorInstalled || f == FlavorSource
}

// Module is a unit of the host project model together with its content roots.
type Module struct {
	// Name identifies the module in diagnostics.
	Name string `json:"name"`

	// ProjectFilePath is the file the host opened for this module, if any.
	ProjectFilePath string `json:"project_file_path,omitempty"`

	// ContentRoots are candidate roots in host order. Order is significant:
	// resolution is first-match-wins.
	ContentRoots []string `json:"content_roots"`
}

// Resolution holds the two paths that must be known before a command can be built.
type Resolution struct {
	// EngineRoot is the prefix in front of Engine/Source/UE{4,5}Editor.Target.cs.
	EngineRoot string `json:"engine_root"`

	// ProjectDescriptor is the full path of the .uproject file.
	ProjectDescriptor string `json:"project_descriptor"`
}

// BuildCommand is the argument vector passed to the build tool.
// It is constructed once per invocation and must not be modified afterwards.
type BuildCommand struct {
	// Executable is the path of UnrealBuildTool.exe.
	Executable string `json:"executable"`

	// Args are the arguments following the executable, one token each.
	Args []string `json:"args"`
}

// Argv returns a copy of the full vector: the executable followed by the arguments.
func (c BuildCommand) Argv() []string {
	argv := make([]string, 0, len(c.Args)+1)
	argv = append(argv, c.Executable)
	return append(argv, c.Args...)
}

// Arg returns the first argument with the given prefix, without the prefix.
func (c BuildCommand) Arg(prefix string) (string, bool) {
	for _, a := range c.Args {
		if len(a) >= len(prefix) && a[:len(prefix)] == prefix {
			return a[len(prefix):], true
		}
	}
	return "", false
}

// InvocationResult is what a finished build tool process produced.
type InvocationResult struct {
	// ExitCode is the process exit status.
	ExitCode int `json:"exit_code"`

	// Stdout holds standard output lines in order.
	Stdout []string `json:"stdout"`

	// Stderr holds standard error lines in order.
	Stderr []string `json:"stderr"`

	// Duration is the wall time between spawn and exit.
	Duration time.Duration `json:"duration"`
}

// Success reports whether the process exited with code 0.
func (r *InvocationResult) Success() bool {
	return r != nil && r.ExitCode == 0
}

// Outcome describes one finished invocation for recording purposes.
type Outcome struct {
	ID                string        `json:"id"`
	StartedAt         time.Time     `json:"started_at"`
	Duration          time.Duration `json:"duration"`
	EngineRoot        string        `json:"engine_root,omitempty"`
	ProjectDescriptor string        `json:"project_descriptor,omitempty"`
	Command           []string      `json:"command,omitempty"`
	ExitCode          *int          `json:"exit_code,omitempty"`
	Kind              ErrorKind     `json:"kind,omitempty"` // empty on success
	Error             string        `json:"error,omitempty"`
	StdoutLines       int           `json:"stdout_lines"`
	StderrLines       int           `json:"stderr_lines"`
}

// Succeeded reports whether the invocation ended without error.
func (o *Outcome) Succeeded() bool {
	return o.Kind == ""
}
