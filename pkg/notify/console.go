// Package notify implements the reporting surface used by the generator when
// it runs outside an IDE.
package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/twistedbytes/genproj/pkg/engine"
	"github.com/twistedbytes/genproj/pkg/telemetry"
)

const eventSource = "genproj"

// RefreshHook is called after project files were regenerated.
type RefreshHook func(ctx context.Context) error

// Console reports through a logger, frames error dialogs on a writer and
// publishes host events.
type Console struct {
	logger *telemetry.Logger
	out    io.Writer
	events *telemetry.EventPublisher

	mu    sync.Mutex
	hooks []RefreshHook
}

var _ engine.Notifier = (*Console)(nil)

// NewConsole creates a console notifier. A nil out writes dialogs to stderr;
// events may be nil.
func NewConsole(logger *telemetry.Logger, out io.Writer, events *telemetry.EventPublisher) *Console {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	if out == nil {
		out = os.Stderr
	}
	return &Console{
		logger: logger.NewComponentLogger("notify"),
		out:    out,
		events: events,
	}
}

// OnRefresh registers a hook run by Refresh, in registration order.
func (c *Console) OnRefresh(hook RefreshHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, hook)
}

// Info writes to the informational channel.
func (c *Console) Info(_ context.Context, msg string) {
	c.logger.Zerolog().Info().Str("channel", "info").Msg(msg)
}

// Error writes to the error channel.
func (c *Console) Error(_ context.Context, msg string) {
	c.logger.Zerolog().Error().Str("channel", "error").Msg(msg)
}

// ShowError prints a framed message and publishes a dialog event.
func (c *Console) ShowError(_ context.Context, title, msg string) {
	c.mu.Lock()
	_, err := io.WriteString(c.out, frame(title, msg))
	c.mu.Unlock()
	if err != nil {
		c.logger.Zerolog().Warn().Err(err).Msg("Failed to write error dialog")
	}

	c.events.PublishErrorDialog(eventSource, title, msg)
}

// Refresh publishes a refresh event and runs the registered hooks.
// A failing hook is logged and does not stop the others.
func (c *Console) Refresh(ctx context.Context) {
	c.events.PublishRefresh(eventSource)

	c.mu.Lock()
	hooks := make([]RefreshHook, len(c.hooks))
	copy(hooks, c.hooks)
	c.mu.Unlock()

	for i, hook := range hooks {
		if err := hook(ctx); err != nil {
			c.logger.Zerolog().Warn().Err(err).Int("hook", i).Msg("Refresh hook failed")
		}
	}
}

func frame(title, msg string) string {
	width := len(title)
	lines := strings.Split(msg, "\n")
	for _, l := range lines {
		if len(l) > width {
			width = len(l)
		}
	}

	border := "+" + strings.Repeat("-", width+2) + "+\n"

	var sb strings.Builder
	sb.WriteString(border)
	fmt.Fprintf(&sb, "| %-*s |\n", width, title)
	sb.WriteString(border)
	for _, l := range lines {
		fmt.Fprintf(&sb, "| %-*s |\n", width, l)
	}
	sb.WriteString(border)
	return sb.String()
}
