// Package runner spawns the build tool as a child process and streams its
// output line by line.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/twistedbytes/genproj/pkg/engine"
	"github.com/twistedbytes/genproj/pkg/telemetry"
)

const (
	// DefaultMaxLineSize bounds a single output line.
	DefaultMaxLineSize = 1 << 20

	// DefaultWaitDelay is how long Run waits for output pipes to close after
	// the process was killed.
	DefaultWaitDelay = 2 * time.Second
)

// Exec runs build commands with os/exec. The zero value is ready to use.
type Exec struct {
	// Launcher is prepended to the argument vector, e.g. ["mono"] or ["wine"]
	// when UnrealBuildTool.exe cannot be executed directly.
	Launcher []string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Env is added to the inherited environment.
	Env map[string]string

	// WaitDelay overrides DefaultWaitDelay.
	WaitDelay time.Duration

	// MaxLineSize overrides DefaultMaxLineSize. Longer lines are delivered
	// in pieces.
	MaxLineSize int

	Logger *telemetry.Logger
}

var _ engine.ProcessRunner = (*Exec)(nil)

// Run starts cmd and drains stdout and stderr concurrently, so neither
// stream can fill its pipe and stall the child.
func (e *Exec) Run(ctx context.Context, cmd engine.BuildCommand, sink engine.LineSink) (*engine.InvocationResult, error) {
	argv := append(append([]string{}, e.Launcher...), cmd.Argv()...)

	c := exec.CommandContext(ctx, argv[0], argv[1:]...)
	c.Dir = e.Dir
	if len(e.Env) > 0 {
		c.Env = os.Environ()
		for k, v := range e.Env {
			c.Env = append(c.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}
	c.WaitDelay = e.WaitDelay
	if c.WaitDelay <= 0 {
		c.WaitDelay = DefaultWaitDelay
	}

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	c.Stdout = stdoutW
	c.Stderr = stderrW

	logger := e.Logger
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	logger.Zerolog().Debug().Strs("argv", argv).Str("dir", c.Dir).Msg("Starting build tool")

	start := time.Now()
	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}

	result := &engine.InvocationResult{}
	maxLine := e.MaxLineSize
	if maxLine <= 0 {
		maxLine = DefaultMaxLineSize
	}

	var (
		g                        errgroup.Group
		stdoutSplit, stderrSplit int
	)
	g.Go(func() error {
		lines, split, err := drain(stdoutR, maxLine, sink.Stdout)
		result.Stdout, stdoutSplit = lines, split
		if err != nil {
			return fmt.Errorf("reading stdout: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		lines, split, err := drain(stderrR, maxLine, sink.Stderr)
		result.Stderr, stderrSplit = lines, split
		if err != nil {
			return fmt.Errorf("reading stderr: %w", err)
		}
		return nil
	})

	waitErr := c.Wait()
	stdoutW.Close()
	stderrW.Close()
	readErr := g.Wait()
	result.Duration = time.Since(start)

	if ctxErr := ctx.Err(); ctxErr != nil {
		logger.Zerolog().Debug().Err(ctxErr).Dur("duration", result.Duration).Msg("Build tool interrupted")
		return result, fmt.Errorf("build tool interrupted: %w", ctxErr)
	}

	// The child ran, so its exit code decides the outcome from here on.
	if waitErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(waitErr, &exitErr):
			result.ExitCode = exitErr.ExitCode()
		case c.ProcessState != nil:
			// exec.ErrWaitDelay: a grandchild kept the pipes open after exit.
			logger.WithError(waitErr).Warn("Build tool output pipes closed forcibly")
			result.ExitCode = c.ProcessState.ExitCode()
		default:
			return result, fmt.Errorf("failed to wait for %s: %w", argv[0], waitErr)
		}
	}

	if readErr != nil {
		logger.WithError(readErr).Warn("Build tool output truncated")
	}
	if n := stdoutSplit + stderrSplit; n > 0 {
		logger.Warnf("Split %d output lines longer than %d bytes", n, maxLine)
	}

	logger.Zerolog().Debug().
		Int("exit_code", result.ExitCode).
		Int("stdout_lines", len(result.Stdout)).
		Int("stderr_lines", len(result.Stderr)).
		Dur("duration", result.Duration).
		Msg("Build tool exited")

	return result, nil
}

// drain delivers every line of r to emit. A line longer than maxLine is
// delivered in maxLine-sized chunks; split counts those lines. On a read
// error the rest of r is discarded so the writer never blocks.
func drain(r io.Reader, maxLine int, emit func(string)) (lines []string, split int, err error) {
	br := bufio.NewReaderSize(r, maxLine)
	continued := false
	for {
		chunk, isPrefix, readErr := br.ReadLine()
		if readErr != nil {
			if readErr == io.EOF {
				return lines, split, nil
			}
			_, _ = io.Copy(io.Discard, r)
			return lines, split, readErr
		}

		line := string(chunk)
		lines = append(lines, line)
		emit(line)

		if isPrefix && !continued {
			split++
		}
		continued = isPrefix
	}
}
