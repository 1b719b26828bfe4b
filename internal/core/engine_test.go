package core

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// emitOnce is a Source that submits a single event when started.
type emitOnce struct {
	ev      *DetectionEvent
	stopped bool
}

func (s *emitOnce) Name() string { return "emit_once" }
func (s *emitOnce) Start(_ context.Context, d *Dispatcher) error {
	d.Submit(s.ev)
	return nil
}
func (s *emitOnce) Stop() error {
	s.stopped = true
	return nil
}

func testEngineConfig(t *testing.T) *Config {
	cfg := DefaultConfig()
	cfg.General.LogDir = filepath.Join(t.TempDir(), "logs")
	cfg.Alerts.JoinTimeout = 2
	return cfg
}

func TestEngine_UptimeZeroBeforeStart(t *testing.T) {
	e, err := newEngine(testEngineConfig(t), nil, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Shutdown()
	if e.Uptime() != 0 {
		t.Errorf("expected 0 uptime before start, got %v", e.Uptime())
	}
}

func TestEngine_SourceToAlertLog(t *testing.T) {
	cfg := testEngineConfig(t)
	sender := &fakeSender{name: "webhook", ok: true}
	e, err := newEngine(cfg, func(*Config, *Bus, zerolog.Logger) ([]Sender, error) {
		return []Sender{sender}, nil
	}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}

	src := &emitOnce{ev: NewDetectionEvent("test", KindGenericSystemAlert, SeverityHigh, "Engine test", "hello")}
	if err := e.Registry.Register(src); err != nil {
		t.Fatal(err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if e.Uptime() <= 0 {
		t.Error("uptime should be positive after start")
	}
	e.Shutdown()

	if !src.stopped {
		t.Error("source should be stopped on shutdown")
	}
	if sender.Calls() != 1 {
		t.Errorf("sender calls = %d, want 1", sender.Calls())
	}
	data, err := os.ReadFile(filepath.Join(cfg.General.LogDir, AlertLogFile))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "Engine test") {
		t.Errorf("alert log missing entry: %q", data)
	}
	activity, err := os.ReadFile(filepath.Join(cfg.General.LogDir, ActivityLogFile))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(activity), "vigil engine started") {
		t.Error("activity log should capture engine logs")
	}
}

func TestEngine_BadLogDirIsFatal(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	os.WriteFile(file, []byte("x"), 0644)
	cfg := DefaultConfig()
	cfg.General.LogDir = filepath.Join(file, "logs")
	if _, err := newEngine(cfg, nil, io.Discard); err == nil {
		t.Error("expected fatal error for uncreatable log dir")
	}
}

func TestBus_EmbeddedPublish(t *testing.T) {
	bus, err := NewBus(NATSConfig{Enabled: true, Embedded: true, Port: -1}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	defer bus.Close()

	sub, err := bus.Conn().SubscribeSync("vigil.test")
	if err != nil {
		t.Fatal(err)
	}
	if err := bus.Conn().Publish("vigil.test", []byte("ping")); err != nil {
		t.Fatal(err)
	}
	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("NextMsg: %v", err)
	}
	if string(msg.Data) != "ping" {
		t.Errorf("got %q, want ping", msg.Data)
	}
	if !strings.HasPrefix(bus.URL(), "nats://") {
		t.Errorf("URL = %q", bus.URL())
	}
}
