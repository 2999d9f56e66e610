package engine

import (
	"context"
)

// ProjectModelProvider reports the modules of the project being inspected.
// This replaces the host IDE module manager.
type ProjectModelProvider interface {
	// Modules returns the modules with their content roots in host order.
	Modules(ctx context.Context) ([]Module, error)
}

// LineSink receives build tool output one line at a time.
// Calls for one stream arrive in order; the two streams may interleave.
type LineSink interface {
	Stdout(line string)
	Stderr(line string)
}

// ProcessRunner spawns a build command and streams its output.
type ProcessRunner interface {
	// Run starts cmd, delivers every output line to sink and waits for exit.
	// A returned error means the process could not be started or was cancelled.
	// A non-zero exit code is reported through the result, not as an error.
	Run(ctx context.Context, cmd BuildCommand, sink LineSink) (*InvocationResult, error)
}

// Notifier is the host environment's reporting surface.
type Notifier interface {
	// Info writes to the informational log channel.
	Info(ctx context.Context, msg string)

	// Error writes to the error log channel.
	Error(ctx context.Context, msg string)

	// ShowError surfaces a user-visible failure notification.
	ShowError(ctx context.Context, title, msg string)

	// Refresh asks the host to re-scan the project from disk.
	Refresh(ctx context.Context)
}

// Recorder persists finished invocations. Optional.
type Recorder interface {
	Record(ctx context.Context, outcome *Outcome) error
}

// ArgsHook returns additional build tool arguments for a resolution.
// They are appended after the fixed arguments.
type ArgsHook func(ctx context.Context, res Resolution, flavor EngineFlavor) ([]string, error)
