package monitor

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/vigil-sec/vigil/internal/core"
)

// Process match reasons.
const (
	ReasonSuspiciousName = "suspicious_name"
	ReasonSuspiciousPath = "suspicious_path"
	ReasonMaliciousCode  = "malicious_code"
)

// ProcessInfo is the subset of process metadata the monitor inspects.
type ProcessInfo struct {
	PID     int32
	Name    string
	Exe     string
	Cmdline string
}

// ProcessLister enumerates running processes.
type ProcessLister interface {
	Processes(ctx context.Context) ([]ProcessInfo, error)
}

// SystemProcesses lists processes through gopsutil. Processes that vanish
// or deny access mid-listing keep whatever fields could be read.
type SystemProcesses struct{}

func (SystemProcesses) Processes(ctx context.Context) ([]ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil || name == "" {
			continue
		}
		exe, _ := p.ExeWithContext(ctx)
		cmd, _ := p.CmdlineWithContext(ctx)
		out = append(out, ProcessInfo{PID: p.Pid, Name: name, Exe: exe, Cmdline: cmd})
	}
	return out, nil
}

// ProcessSource flags running processes by name, executable location and,
// optionally, executable content.
type ProcessSource struct {
	pollingSource
	lister  ProcessLister
	checker Checker
	names   []string
	paths   []string
}

// NewProcessSource builds the process monitor. checker may be nil, which
// disables executable analysis.
func NewProcessSource(cfg *core.Config, lister ProcessLister, checker Checker, logger zerolog.Logger) *ProcessSource {
	if lister == nil {
		lister = SystemProcesses{}
	}
	pm := cfg.ProcessMonitoring
	if !pm.AnalyzeExecutables {
		checker = nil
	}
	s := &ProcessSource{
		lister:  lister,
		checker: checker,
		names:   lowerAll(pm.SuspiciousNames),
		paths:   lowerAll(pm.SuspiciousPaths),
	}
	s.pollingSource = pollingSource{
		name:     "process_monitor",
		interval: core.Seconds(pm.Interval, core.Seconds(cfg.General.CheckInterval, 15*time.Second)),
		backoff:  core.Seconds(cfg.General.ErrorBackoff, time.Minute),
		check:    s.Check,
		logger:   logger.With().Str("component", "process_monitor").Logger(),
	}
	return s
}

// Check runs one scan. A process can yield one event per matching reason.
func (s *ProcessSource) Check(ctx context.Context) ([]*core.DetectionEvent, error) {
	procs, err := s.lister.Processes(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}

	var events []*core.DetectionEvent
	for _, p := range procs {
		if ctx.Err() != nil {
			return events, ctx.Err()
		}
		if p.Name == "" {
			continue
		}
		if containsAny(strings.ToLower(p.Name), s.names) {
			events = append(events, s.event(p, ReasonSuspiciousName))
		}
		if p.Exe == "" {
			continue
		}
		if containsAny(strings.ToLower(p.Exe), s.paths) {
			events = append(events, s.event(p, ReasonSuspiciousPath))
		}
		if s.checker != nil && fileExists(p.Exe) && s.checker.IsSuspicious(p.Exe) {
			events = append(events, s.event(p, ReasonMaliciousCode))
		}
	}
	return events, nil
}

func (s *ProcessSource) event(p ProcessInfo, reason string) *core.DetectionEvent {
	sev := core.SeverityHigh
	if reason == ReasonMaliciousCode {
		sev = core.SeverityCritical
	}
	s.logger.Warn().Str("process", p.Name).Int32("pid", p.PID).Str("reason", reason).Msg("suspicious process")
	return core.NewDetectionEvent(s.name, core.KindSuspiciousProcess, sev,
		"Suspicious process detected",
		fmt.Sprintf("Suspicious process detected: %s (PID: %d) - reason: %s", p.Name, p.PID, reason)).
		With("process_name", p.Name).
		With("process_id", p.PID).
		With("executable_path", p.Exe).
		With("command_line", p.Cmdline).
		With("reason", reason)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
