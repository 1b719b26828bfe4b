package monitor

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	psnet "github.com/shirou/gopsutil/v3/net"

	"github.com/vigil-sec/vigil/internal/core"
)

// Connection is one socket as seen by the network monitor.
type Connection struct {
	LocalIP    string
	LocalPort  uint32
	RemoteIP   string
	RemotePort uint32
	Status     string
	PID        int32
}

// ConnectionLister enumerates inet sockets.
type ConnectionLister interface {
	Connections(ctx context.Context) ([]Connection, error)
}

// SystemConnections lists sockets through gopsutil.
type SystemConnections struct{}

func (SystemConnections) Connections(ctx context.Context) ([]Connection, error) {
	stats, err := psnet.ConnectionsWithContext(ctx, "inet")
	if err != nil {
		return nil, err
	}
	out := make([]Connection, 0, len(stats))
	for _, c := range stats {
		out = append(out, Connection{
			LocalIP:    c.Laddr.IP,
			LocalPort:  c.Laddr.Port,
			RemoteIP:   c.Raddr.IP,
			RemotePort: c.Raddr.Port,
			Status:     c.Status,
			PID:        c.Pid,
		})
	}
	return out, nil
}

// NetworkSource reports established or listening sockets on ports commonly
// used by backdoors and reverse shells.
type NetworkSource struct {
	pollingSource
	lister ConnectionLister
	ports  core.IntList
}

func NewNetworkSource(cfg *core.Config, lister ConnectionLister, logger zerolog.Logger) *NetworkSource {
	if lister == nil {
		lister = SystemConnections{}
	}
	nm := cfg.NetworkMonitoring
	s := &NetworkSource{lister: lister, ports: nm.SuspiciousPorts}
	s.pollingSource = pollingSource{
		name:     "network_monitor",
		interval: core.Seconds(nm.Interval, 2*time.Minute),
		backoff:  core.Seconds(cfg.General.ErrorBackoff, time.Minute),
		check:    s.Check,
		logger:   logger.With().Str("component", "network_monitor").Logger(),
	}
	return s
}

func (s *NetworkSource) Check(ctx context.Context) ([]*core.DetectionEvent, error) {
	conns, err := s.lister.Connections(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing connections: %w", err)
	}
	var events []*core.DetectionEvent
	for _, c := range conns {
		status := strings.ToUpper(c.Status)
		if status != "ESTABLISHED" && status != "LISTEN" {
			continue
		}
		port := 0
		switch {
		case s.ports.Contains(int(c.LocalPort)):
			port = int(c.LocalPort)
		case c.RemotePort != 0 && s.ports.Contains(int(c.RemotePort)):
			port = int(c.RemotePort)
		default:
			continue
		}
		local := hostPort(c.LocalIP, c.LocalPort)
		remote := hostPort(c.RemoteIP, c.RemotePort)
		s.logger.Warn().Int("port", port).Str("local", local).Str("remote", remote).Str("status", status).Msg("suspicious port")
		events = append(events, core.NewDetectionEvent(s.name, core.KindGenericSystemAlert, core.SeverityHigh,
			"Suspicious port detected",
			fmt.Sprintf("Connection on port %d: %s -> %s (%s, PID %d)", port, local, remote, status, c.PID)).
			With("port", port).
			With("local_address", local).
			With("remote_address", remote).
			With("status", status).
			With("process_id", c.PID))
	}
	return events, nil
}

func hostPort(ip string, port uint32) string {
	if ip == "" && port == 0 {
		return "-"
	}
	return net.JoinHostPort(ip, strconv.FormatUint(uint64(port), 10))
}
