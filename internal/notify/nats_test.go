package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/vigil-sec/vigil/internal/core"
)

func startBus(t *testing.T) *core.Bus {
	t.Helper()
	bus, err := core.NewBus(core.NATSConfig{Enabled: true, Embedded: true, Port: -1}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	t.Cleanup(func() { bus.Close() })
	return bus
}

func TestNATSSender_PublishesBySeverity(t *testing.T) {
	bus := startBus(t)

	sub, err := bus.Conn().SubscribeSync("vigil.alerts.>")
	if err != nil {
		t.Fatal(err)
	}
	if err := bus.Conn().Flush(); err != nil {
		t.Fatal(err)
	}

	s := NewNATSSender(bus.Conn(), "vigil.alerts.", zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !s.Send(ctx, testNotification(core.SeverityCritical)) {
		t.Fatal("expected publish to succeed")
	}

	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("no message received: %v", err)
	}
	if msg.Subject != "vigil.alerts.critical" {
		t.Errorf("subject = %s", msg.Subject)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatal(err)
	}
	if got["title"] != "Suspicious process" || got["severity"] != "CRITICAL" {
		t.Errorf("payload = %v", got)
	}
}

func TestNATSSender_NoDeadlineUsesFlushTimeout(t *testing.T) {
	bus := startBus(t)
	s := NewNATSSender(bus.Conn(), "", zerolog.Nop())
	if s.Subject(core.SeverityLow) != "vigil.alerts.low" {
		t.Errorf("default prefix not applied: %s", s.Subject(core.SeverityLow))
	}
	if !s.Send(context.Background(), testNotification(core.SeverityLow)) {
		t.Error("expected success without a context deadline")
	}
}

func TestNATSSender_ClosedConnection(t *testing.T) {
	bus := startBus(t)
	nc, err := nats.Connect(bus.URL())
	if err != nil {
		t.Fatal(err)
	}
	nc.Close()

	s := NewNATSSender(nc, "vigil.alerts", zerolog.Nop())
	if s.Send(context.Background(), testNotification(core.SeverityHigh)) {
		t.Error("closed connection must fail")
	}
	if NewNATSSender(nil, "x", zerolog.Nop()).Send(context.Background(), testNotification(core.SeverityHigh)) {
		t.Error("nil connection must fail")
	}
}
