package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// SenderFactory builds the channel senders once the bus is available.
type SenderFactory func(cfg *Config, bus *Bus, logger zerolog.Logger) ([]Sender, error)

// Engine is the main vigil engine that orchestrates all components.
type Engine struct {
	Config     *Config
	Registry   *SourceRegistry
	Dispatcher *Dispatcher
	Bus        *Bus
	AlertLog   *AlertLog
	Metrics    *Metrics
	Logger     zerolog.Logger

	root      zerolog.Logger
	senders   SenderFactory
	activity  *os.File
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
	stopOnce  sync.Once
}

// NewEngine creates the engine. The log directory and alert log are opened
// here; failure to create them is fatal.
func NewEngine(cfg *Config, senders SenderFactory) (*Engine, error) {
	return newEngine(cfg, senders, os.Stdout)
}

func newEngine(cfg *Config, senders SenderFactory, out io.Writer) (*Engine, error) {
	activity, err := OpenActivityLog(cfg.General.LogDir)
	if err != nil {
		return nil, err
	}
	logger := NewLogger(cfg.Logging, out, activity)

	alog, err := OpenAlertLog(cfg.General.LogDir, cfg.Debugging.SaveResults, logger)
	if err != nil {
		activity.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		Config:   cfg,
		Registry: NewSourceRegistry(logger),
		AlertLog: alog,
		Metrics:  NewMetrics(),
		Logger:   logger.With().Str("component", "engine").Logger(),
		root:     logger,
		senders:  senders,
		activity: activity,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// RootLogger returns the untagged process logger for other components.
func (e *Engine) RootLogger() zerolog.Logger {
	return e.root
}

// Start connects the bus, builds the dispatcher and starts every registered
// source.
func (e *Engine) Start() error {
	e.Logger.Info().Msg("starting vigil engine")

	if e.Config.NATS.Enabled {
		bus, err := NewBus(e.Config.NATS, e.root)
		if err != nil {
			return fmt.Errorf("starting bus: %w", err)
		}
		e.Bus = bus
	}

	var senders []Sender
	if e.senders != nil {
		var err error
		senders, err = e.senders(e.Config, e.Bus, e.root)
		if err != nil {
			return fmt.Errorf("building channels: %w", err)
		}
	}

	e.Dispatcher = NewDispatcher(NewDispatcherConfig(e.Config), senders, e.AlertLog, e.Metrics, e.root)

	if err := e.Registry.StartAll(e.ctx, e.Dispatcher); err != nil {
		return fmt.Errorf("starting sources: %w", err)
	}

	e.startTime = time.Now()
	e.Logger.Info().
		Int("sources", e.Registry.Count()).
		Strs("channels", e.Dispatcher.ChannelNames()).
		Str("min_severity", e.Config.MinSeverityLevel().String()).
		Msg("vigil engine started")

	return nil
}

// Run starts the engine and blocks until shutdown signal is received.
func (e *Engine) Run() error {
	if err := e.Start(); err != nil {
		e.Shutdown()
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		e.Logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case <-e.ctx.Done():
		e.Logger.Info().Msg("context cancelled")
	}

	return e.Shutdown()
}

// Shutdown stops sources, waits for in-flight alerts and closes logs.
func (e *Engine) Shutdown() error {
	e.stopOnce.Do(func() {
		e.Logger.Info().Msg("shutting down vigil engine")

		e.Registry.StopAll()

		if e.Dispatcher != nil {
			join := Seconds(e.Config.Alerts.JoinTimeout, 15*time.Second)
			e.Dispatcher.Close(join)
		}
		e.cancel()

		if e.Bus != nil {
			if err := e.Bus.Close(); err != nil {
				e.Logger.Error().Err(err).Msg("error closing bus")
			}
		}
		if err := e.AlertLog.Close(); err != nil {
			e.Logger.Error().Err(err).Msg("error closing alert log")
		}

		e.Logger.Info().Msg("vigil engine stopped")
		e.activity.Close()
	})
	return nil
}

// Context returns the engine's context.
func (e *Engine) Context() context.Context {
	return e.ctx
}

// Stop cancels the engine context, unblocking Run.
func (e *Engine) Stop() {
	e.cancel()
}

// Uptime returns the duration since Start, or zero before start.
func (e *Engine) Uptime() time.Duration {
	if e.startTime.IsZero() {
		return 0
	}
	return time.Since(e.startTime)
}
