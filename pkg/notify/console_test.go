package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/twistedbytes/genproj/pkg/telemetry"
)

func newTestConsole(t *testing.T) (*Console, *bytes.Buffer, *bytes.Buffer, *[]telemetry.Event) {
	t.Helper()

	var logBuf, dialogBuf bytes.Buffer
	logger := telemetry.NewLoggerWithWriter(telemetry.LoggingConfig{Level: "debug", Format: "json"}, &logBuf)

	events := telemetry.NewEventPublisher()
	var received []telemetry.Event
	events.Subscribe(func(e telemetry.Event) {
		received = append(received, e)
	}, nil)

	return NewConsole(logger, &dialogBuf, events), &logBuf, &dialogBuf, &received
}

func TestConsoleChannels(t *testing.T) {
	c, logBuf, _, _ := newTestConsole(t)

	c.Info(context.Background(), "Detected uproject: /x/MyGame/MyGame.uproject")
	c.Error(context.Background(), "Could not determine engine root path.")

	lines := strings.Split(strings.TrimSpace(logBuf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %q", len(lines), logBuf.String())
	}

	tests := []struct {
		line        string
		wantLevel   string
		wantChannel string
		wantMessage string
	}{
		{lines[0], "info", "info", "Detected uproject: /x/MyGame/MyGame.uproject"},
		{lines[1], "error", "error", "Could not determine engine root path."},
	}
	for _, tt := range tests {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(tt.line), &entry); err != nil {
			t.Fatalf("log line is not JSON: %v", err)
		}
		if entry["level"] != tt.wantLevel || entry["channel"] != tt.wantChannel || entry["message"] != tt.wantMessage {
			t.Errorf("entry = %v", entry)
		}
		if entry["component"] != "notify" {
			t.Errorf("component = %v, want notify", entry["component"])
		}
	}
}

func TestConsoleShowError(t *testing.T) {
	c, _, dialogBuf, events := newTestConsole(t)

	msg := "Failed to regenerate project files (Code: 6). See the log for more details."
	c.ShowError(context.Background(), "Generate project files ...", msg)

	out := dialogBuf.String()
	if !strings.Contains(out, "Generate project files ...") || !strings.Contains(out, msg) {
		t.Errorf("dialog missing title or message:\n%s", out)
	}
	if strings.Count(out, "\n") != 5 {
		t.Errorf("expected a 5 line frame, got:\n%s", out)
	}

	if len(*events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(*events))
	}
	e := (*events)[0]
	if e.Type != telemetry.EventTypeErrorDialog || e.Level != telemetry.EventLevelError {
		t.Errorf("event = %+v", e)
	}
	if e.Data["message"] != msg {
		t.Errorf("event message = %v", e.Data["message"])
	}
}

func TestConsoleRefresh(t *testing.T) {
	c, logBuf, _, events := newTestConsole(t)

	var order []int
	c.OnRefresh(func(context.Context) error {
		order = append(order, 1)
		return errors.New("ide not reachable")
	})
	c.OnRefresh(func(context.Context) error {
		order = append(order, 2)
		return nil
	})

	c.Refresh(context.Background())

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("hooks ran in order %v, want [1 2]", order)
	}
	if len(*events) != 1 || (*events)[0].Type != telemetry.EventTypeRefresh {
		t.Errorf("expected one refresh event, got %+v", *events)
	}
	if !strings.Contains(logBuf.String(), "ide not reachable") {
		t.Errorf("failing hook was not logged: %s", logBuf.String())
	}
}

func TestConsoleNilEvents(t *testing.T) {
	var dialogBuf bytes.Buffer
	c := NewConsole(nil, &dialogBuf, nil)

	c.ShowError(context.Background(), "title", "message")
	c.Refresh(context.Background())

	if dialogBuf.Len() == 0 {
		t.Error("dialog not written without an event publisher")
	}
}

func TestFrame(t *testing.T) {
	got := frame("T", "line one\nx")
	want := "" +
		"+----------+\n" +
		"| T        |\n" +
		"+----------+\n" +
		"| line one |\n" +
		"| x        |\n" +
		"+----------+\n"
	if got != want {
		t.Errorf("frame() =\n%s\nwant\n%s", got, want)
	}
}
