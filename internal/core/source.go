package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Source is a detection source: a long-running loop that turns host
// observations into detection events and submits them to the dispatcher.
type Source interface {
	// Name returns the unique name of the source.
	Name() string
	// Start begins monitoring. It must not block.
	Start(ctx context.Context, d *Dispatcher) error
	// Stop asks the source to exit. A cycle in flight is allowed to finish.
	Stop() error
}

// SourceRegistry manages source registration and lifecycle.
type SourceRegistry struct {
	mu      sync.RWMutex
	sources map[string]Source
	order   []string
	started map[string]bool
	logger  zerolog.Logger
}

// NewSourceRegistry creates a new SourceRegistry.
func NewSourceRegistry(logger zerolog.Logger) *SourceRegistry {
	return &SourceRegistry{
		sources: make(map[string]Source),
		started: make(map[string]bool),
		logger:  logger.With().Str("component", "source_registry").Logger(),
	}
}

// Register adds a source to the registry.
func (r *SourceRegistry) Register(src Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := src.Name()
	if _, exists := r.sources[name]; exists {
		return fmt.Errorf("source %q already registered", name)
	}
	r.sources[name] = src
	r.order = append(r.order, name)
	r.logger.Info().Str("source", name).Msg("source registered")
	return nil
}

// StartAll starts every registered source in registration order.
func (r *SourceRegistry) StartAll(ctx context.Context, d *Dispatcher) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.order {
		r.logger.Info().Str("source", name).Msg("starting source")
		if err := r.sources[name].Start(ctx, d); err != nil {
			return fmt.Errorf("failed to start source %q: %w", name, err)
		}
		r.started[name] = true
	}
	return nil
}

// StopAll stops started sources in reverse order.
func (r *SourceRegistry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.order) - 1; i >= 0; i-- {
		name := r.order[i]
		if !r.started[name] {
			continue
		}
		r.logger.Info().Str("source", name).Msg("stopping source")
		if err := r.sources[name].Stop(); err != nil {
			r.logger.Error().Err(err).Str("source", name).Msg("error stopping source")
		}
		r.started[name] = false
	}
}

// Names returns the registered source names in registration order.
func (r *SourceRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Get returns a source by name.
func (r *SourceRegistry) Get(name string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[name]
	return src, ok
}

// Count returns the number of registered sources.
func (r *SourceRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}

// PollFunc runs one detection cycle.
type PollFunc func(ctx context.Context) error

// Poller runs a PollFunc on a fixed interval until stopped. The running flag
// is checked at the top of every cycle; Stop only interrupts the sleep
// between cycles, never a cycle in progress.
type Poller struct {
	name     string
	interval time.Duration
	backoff  time.Duration
	fn       PollFunc
	logger   zerolog.Logger

	running  atomic.Bool
	launched atomic.Bool
	cycles   atomic.Int64
	errors   atomic.Int64
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

// NewPoller creates a poller. backoff replaces the interval after a failed
// cycle.
func NewPoller(name string, interval, backoff time.Duration, fn PollFunc, logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if backoff <= 0 {
		backoff = 60 * time.Second
	}
	return &Poller{
		name:     name,
		interval: interval,
		backoff:  backoff,
		fn:       fn,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the loop. The first cycle runs immediately.
func (p *Poller) Start(ctx context.Context) {
	if !p.launched.CompareAndSwap(false, true) {
		return
	}
	p.running.Store(true)
	go p.loop(ctx)
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-timer.C:
		}
		if !p.running.Load() {
			return
		}

		wait := p.interval
		if err := p.runOnce(ctx); err != nil {
			p.errors.Add(1)
			p.logger.Error().Err(err).Dur("backoff", p.backoff).Msg("poll cycle failed")
			wait = p.backoff
		}
		p.cycles.Add(1)
		timer.Reset(wait)
	}
}

// runOnce calls fn inside a recover() so a panicking cycle cannot kill the
// loop.
func (p *Poller) runOnce(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in %s cycle: %v", p.name, rec)
		}
	}()
	return p.fn(ctx)
}

// Stop clears the running flag and waits for the loop to exit.
func (p *Poller) Stop() {
	p.once.Do(func() {
		p.running.Store(false)
		close(p.stop)
	})
	if p.launched.Load() {
		<-p.done
	}
}

// Running reports whether the loop is active.
func (p *Poller) Running() bool {
	return p.running.Load()
}

// Cycles returns the number of completed cycles.
func (p *Poller) Cycles() int64 {
	return p.cycles.Load()
}

// Errors returns the number of failed cycles.
func (p *Poller) Errors() int64 {
	return p.errors.Load()
}
