package monitor

import (
	"github.com/rs/zerolog"

	"github.com/vigil-sec/vigil/internal/core"
)

// Register adds every source enabled in cfg to reg. checker is shared by
// the process and file monitors.
func Register(reg *core.SourceRegistry, cfg *core.Config, checker Checker, logger zerolog.Logger) error {
	var sources []core.Source
	if cfg.ProcessMonitoring.Enabled {
		sources = append(sources, NewProcessSource(cfg, nil, checker, logger))
	}
	if cfg.FileMonitoring.Enabled {
		sources = append(sources, NewFileSource(cfg.FileMonitoring, checker, logger))
	}
	if cfg.EventMonitoring.Enabled {
		sources = append(sources, NewEventLogSource(cfg, nil, logger))
	}
	if cfg.ResourceMonitoring.Enabled {
		sources = append(sources, NewResourceSource(cfg, nil, logger))
	}
	if cfg.NetworkMonitoring.Enabled {
		sources = append(sources, NewNetworkSource(cfg, nil, logger))
	}
	for _, src := range sources {
		if err := reg.Register(src); err != nil {
			return err
		}
	}
	return nil
}
