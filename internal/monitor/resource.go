package monitor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/vigil-sec/vigil/internal/core"
)

// ResourceSampler reports utilisation percentages.
type ResourceSampler interface {
	CPUPercent(ctx context.Context) (float64, error)
	MemoryPercent(ctx context.Context) (float64, error)
	DiskPercent(ctx context.Context, path string) (float64, error)
}

// SystemResources samples the host through gopsutil.
type SystemResources struct {
	// CPUWindow is the CPU measurement window. Zero means one second.
	CPUWindow time.Duration
}

func (r SystemResources) CPUPercent(ctx context.Context) (float64, error) {
	window := r.CPUWindow
	if window <= 0 {
		window = time.Second
	}
	pct, err := cpu.PercentWithContext(ctx, window, false)
	if err != nil {
		return 0, err
	}
	if len(pct) == 0 {
		return 0, fmt.Errorf("no cpu samples")
	}
	return pct[0], nil
}

func (SystemResources) MemoryPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

func (SystemResources) DiskPercent(ctx context.Context, path string) (float64, error) {
	u, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return u.UsedPercent, nil
}

// ResourceSource raises resource_threshold events when CPU, memory or disk
// usage is above its threshold.
type ResourceSource struct {
	pollingSource
	sampler ResourceSampler
	cfg     core.ResourceMonitoringConfig
}

func NewResourceSource(cfg *core.Config, sampler ResourceSampler, logger zerolog.Logger) *ResourceSource {
	if sampler == nil {
		sampler = SystemResources{}
	}
	s := &ResourceSource{sampler: sampler, cfg: cfg.ResourceMonitoring}
	if len(s.cfg.DiskPaths) == 0 {
		s.cfg.DiskPaths = core.StringList{"/"}
	}
	s.pollingSource = pollingSource{
		name:     "resource_monitor",
		interval: core.Seconds(s.cfg.Interval, 5*time.Minute),
		backoff:  core.Seconds(cfg.General.ErrorBackoff, time.Minute),
		check:    s.Check,
		logger:   logger.With().Str("component", "resource_monitor").Logger(),
	}
	return s
}

// Check samples every metric once. Sampling errors are logged and the
// remaining metrics are still checked.
func (s *ResourceSource) Check(ctx context.Context) ([]*core.DetectionEvent, error) {
	var events []*core.DetectionEvent
	var firstErr error
	note := func(metric string, err error) {
		s.logger.Warn().Err(err).Str("metric", metric).Msg("sampling failed")
		if firstErr == nil {
			firstErr = fmt.Errorf("sampling %s: %w", metric, err)
		}
	}

	if v, err := s.sampler.CPUPercent(ctx); err != nil {
		note("cpu", err)
	} else if ev := s.over("CPU usage", "High CPU usage", v, s.cfg.CPUThreshold); ev != nil {
		events = append(events, ev)
	}

	if v, err := s.sampler.MemoryPercent(ctx); err != nil {
		note("memory", err)
	} else if ev := s.over("Memory usage", "High memory usage", v, s.cfg.MemoryThreshold); ev != nil {
		events = append(events, ev)
	}

	for _, p := range s.cfg.DiskPaths {
		v, err := s.sampler.DiskPercent(ctx, p)
		if err != nil {
			note("disk "+p, err)
			continue
		}
		if ev := s.over(fmt.Sprintf("Disk usage (%s)", p), "High disk usage", v, s.cfg.DiskThreshold); ev != nil {
			events = append(events, ev.With("path", p))
		}
	}
	return events, firstErr
}

func (s *ResourceSource) over(metric, title string, value, threshold float64) *core.DetectionEvent {
	if threshold <= 0 || value <= threshold {
		return nil
	}
	value = math.Round(value*10) / 10
	s.logger.Warn().Str("metric", metric).Float64("value", value).Float64("threshold", threshold).Msg("threshold exceeded")
	return core.NewDetectionEvent(s.name, core.KindResourceThreshold, core.SeverityMedium, title,
		fmt.Sprintf("%s at %.1f%%", metric, value)).
		With("metric", metric).
		With("value", value).
		With("threshold", threshold)
}
