package telemetry

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "missing service", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: "service name"},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "invalid log level"},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "invalid log format"},
		{
			name: "otlp without endpoint",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "otlp"
			},
			wantErr: "requires an endpoint",
		},
		{name: "sampling out of range", mutate: func(c *Config) { c.Tracing.SamplingRate = 1.5 }, wantErr: "sampling rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestEventPublisherOrderAndFilters(t *testing.T) {
	ep := NewEventPublisher()

	var all, errorsOnly, refreshes []Event
	ep.Subscribe(func(e Event) { all = append(all, e) }, nil)
	ep.Subscribe(func(e Event) { errorsOnly = append(errorsOnly, e) }, FilterByLevel(EventLevelWarning))
	ep.Subscribe(func(e Event) { refreshes = append(refreshes, e) }, FilterByType(EventTypeRefresh))

	ep.PublishRefresh("generator")
	ep.PublishErrorDialog("generator", "Generate project files", "exit code 6")

	if len(all) != 2 || all[0].Type != EventTypeRefresh || all[1].Type != EventTypeErrorDialog {
		t.Fatalf("all = %+v", all)
	}
	if all[0].ID == "" || all[0].Timestamp.IsZero() {
		t.Errorf("event defaults not filled: %+v", all[0])
	}
	if len(errorsOnly) != 1 || errorsOnly[0].Data["title"] != "Generate project files" {
		t.Errorf("errorsOnly = %+v", errorsOnly)
	}
	if len(refreshes) != 1 || refreshes[0].Source != "generator" {
		t.Errorf("refreshes = %+v", refreshes)
	}
}

func TestNilPublisherIsNoop(t *testing.T) {
	var ep *EventPublisher
	ep.PublishRefresh("nobody")
}

func TestMetrics(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatalf("NewMetrics() = %v", err)
	}

	m.RecordGenerationStarted()
	if got := testutil.ToFloat64(m.busy); got != 1 {
		t.Errorf("busy = %v, want 1", got)
	}
	m.RecordOutputLine("stdout")
	m.RecordOutputLine("stdout")
	m.RecordOutputLine("stderr")
	m.RecordExitCode(6)
	m.RecordGenerationCompleted("non_zero_exit", 2*time.Second)
	m.RecordTriggerRejected()

	if got := testutil.ToFloat64(m.outputLines.WithLabelValues("stdout")); got != 2 {
		t.Errorf("stdout lines = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.exitCodes.WithLabelValues("6")); got != 1 {
		t.Errorf("exit code 6 = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.generationsCompleted.WithLabelValues("non_zero_exit")); got != 1 {
		t.Errorf("completed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.busy); got != 0 {
		t.Errorf("busy = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.triggersRejected); got != 1 {
		t.Errorf("rejected = %v, want 1", got)
	}
}

func TestDisabledMetrics(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics() = %v", err)
	}
	m.RecordGenerationStarted()
	m.RecordWatchEvent("write")
	if m.Registry() != nil {
		t.Error("disabled metrics should have no registry")
	}

	var nilMetrics *Metrics
	nilMetrics.RecordExitCode(1)
}

func TestComponentLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig().Logging
	cfg.Format = "json"
	logger := NewLoggerWithWriter(cfg, &buf).NewComponentLogger("watch")

	logger.WithField("path", "MyGame.uproject").Info("Change detected")

	out := buf.String()
	for _, want := range []string{`"component":"watch"`, `"path":"MyGame.uproject"`, `"message":"Change detected"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s: %s", want, out)
		}
	}
}
