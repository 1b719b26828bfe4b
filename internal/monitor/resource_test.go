package monitor

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/vigil-sec/vigil/internal/core"
)

type fakeSampler struct {
	cpu, mem float64
	disk     map[string]float64
	cpuErr   error
}

func (f fakeSampler) CPUPercent(context.Context) (float64, error) { return f.cpu, f.cpuErr }
func (f fakeSampler) MemoryPercent(context.Context) (float64, error) {
	return f.mem, nil
}
func (f fakeSampler) DiskPercent(_ context.Context, path string) (float64, error) {
	v, ok := f.disk[path]
	if !ok {
		return 0, errors.New("no such mount")
	}
	return v, nil
}

func TestResourceSource_Thresholds(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.ResourceMonitoring.DiskPaths = core.StringList{"/", "/data"}
	s := NewResourceSource(cfg, fakeSampler{
		cpu:  93.456,
		mem:  90, // equal is not over
		disk: map[string]float64{"/": 50, "/data": 97.2},
	}, zerolog.Nop())

	events, err := s.Check(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	cpu := events[0]
	if cpu.Kind != core.KindResourceThreshold || cpu.Severity != core.SeverityMedium {
		t.Errorf("kind=%s severity=%s", cpu.Kind, cpu.Severity)
	}
	if got := cpu.Render(); got != "CPU usage at 93.5% (threshold 90%)" {
		t.Errorf("rendered = %q", got)
	}
	if events[1].Attr("path") != "/data" {
		t.Errorf("disk event = %v", events[1].Attributes)
	}
}

func TestResourceSource_SamplingErrorsContinue(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.ResourceMonitoring.DiskPaths = core.StringList{"/missing"}
	s := NewResourceSource(cfg, fakeSampler{cpuErr: errors.New("boom"), mem: 99}, zerolog.Nop())

	events, err := s.Check(context.Background())
	if err == nil {
		t.Error("expected the first sampling error")
	}
	if len(events) != 1 || events[0].Attr("metric") != "Memory usage" {
		t.Errorf("memory check should still run: %v", events)
	}
}

func TestResourceSource_ZeroThresholdDisables(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.ResourceMonitoring.CPUThreshold = 0
	cfg.ResourceMonitoring.DiskPaths = nil
	s := NewResourceSource(cfg, fakeSampler{cpu: 100, disk: map[string]float64{"/": 1}}, zerolog.Nop())
	events, err := s.Check(context.Background())
	if err != nil || len(events) != 0 {
		t.Errorf("events=%v err=%v", events, err)
	}
}
