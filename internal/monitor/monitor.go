// Package monitor contains the detection sources: process, file, event log,
// resource and network monitors. Each turns host observations into
// core.DetectionEvents and submits them to the dispatcher.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vigil-sec/vigil/internal/core"
)

// Checker decides whether a file on disk looks malicious.
// *classify.Classifier satisfies it.
type Checker interface {
	IsSuspicious(path string) bool
}

type checkFunc func(ctx context.Context) ([]*core.DetectionEvent, error)

// pollingSource adapts a check function into a core.Source driven by a
// core.Poller.
type pollingSource struct {
	name     string
	interval time.Duration
	backoff  time.Duration
	check    checkFunc
	logger   zerolog.Logger

	mu     sync.Mutex
	poller *core.Poller
}

func (s *pollingSource) Name() string { return s.name }

func (s *pollingSource) Start(ctx context.Context, d *core.Dispatcher) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.poller != nil {
		return fmt.Errorf("source %s already started", s.name)
	}
	s.poller = core.NewPoller(s.name, s.interval, s.backoff, func(ctx context.Context) error {
		events, err := s.check(ctx)
		for _, ev := range events {
			d.Submit(ev)
		}
		return err
	}, s.logger)
	s.poller.Start(ctx)
	s.logger.Info().Dur("interval", s.interval).Msg("monitor started")
	return nil
}

func (s *pollingSource) Stop() error {
	s.mu.Lock()
	p := s.poller
	s.mu.Unlock()
	if p != nil {
		p.Stop()
	}
	return nil
}

// Cycles returns the number of completed poll cycles.
func (s *pollingSource) Cycles() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.poller == nil {
		return 0
	}
	return s.poller.Cycles()
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
