package monitor

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/vigil-sec/vigil/internal/core"
)

type fakeConns struct {
	conns []Connection
	err   error
}

func (f fakeConns) Connections(context.Context) ([]Connection, error) { return f.conns, f.err }

func TestNetworkSource_SuspiciousPorts(t *testing.T) {
	s := NewNetworkSource(core.DefaultConfig(), fakeConns{conns: []Connection{
		{LocalIP: "0.0.0.0", LocalPort: 4444, Status: "LISTEN", PID: 10},
		{LocalIP: "10.0.0.5", LocalPort: 51000, RemoteIP: "203.0.113.9", RemotePort: 31337, Status: "ESTABLISHED", PID: 11},
		{LocalIP: "10.0.0.5", LocalPort: 51001, RemoteIP: "203.0.113.9", RemotePort: 443, Status: "ESTABLISHED"},
		{LocalIP: "10.0.0.5", LocalPort: 5555, RemoteIP: "203.0.113.9", RemotePort: 80, Status: "TIME_WAIT"},
	}}, zerolog.Nop())

	events, err := s.Check(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Attr("port") != "4444" || events[0].Attr("remote_address") != "-" {
		t.Errorf("listen event = %v", events[0].Attributes)
	}
	ev := events[1]
	if ev.Kind != core.KindGenericSystemAlert || ev.Severity != core.SeverityHigh {
		t.Errorf("kind=%s severity=%s", ev.Kind, ev.Severity)
	}
	if ev.Attr("remote_address") != "203.0.113.9:31337" {
		t.Errorf("remote = %s", ev.Attr("remote_address"))
	}
	if ev.Render() != "System alert: "+ev.Message {
		t.Errorf("rendered = %q", ev.Render())
	}
}

func TestNetworkSource_ListError(t *testing.T) {
	s := NewNetworkSource(core.DefaultConfig(), fakeConns{err: errors.New("denied")}, zerolog.Nop())
	if _, err := s.Check(context.Background()); err == nil {
		t.Error("expected error")
	}
}

func TestHostPort(t *testing.T) {
	if hostPort("::1", 22) != "[::1]:22" {
		t.Error(hostPort("::1", 22))
	}
}
