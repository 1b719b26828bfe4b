package monitor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/vigil-sec/vigil/internal/core"
)

// File actions reported in the "action" attribute.
const (
	ActionCreated  = "created"
	ActionModified = "modified"
	ActionExisting = "existing"
)

// FileSource watches directory trees and classifies files with critical
// extensions when they are created or written.
type FileSource struct {
	roots       []string
	exts        map[string]bool
	checker     Checker
	scanOnStart bool
	logger      zerolog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	stop    chan struct{}
	done    chan struct{}
}

func NewFileSource(cfg core.FileMonitoringConfig, checker Checker, logger zerolog.Logger) *FileSource {
	exts := make(map[string]bool, len(cfg.CriticalExtensions))
	for _, e := range lowerAll(cfg.CriticalExtensions) {
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = true
	}
	return &FileSource{
		roots:       cfg.Paths,
		exts:        exts,
		checker:     checker,
		scanOnStart: cfg.ScanOnStart,
		logger:      logger.With().Str("component", "file_monitor").Logger(),
	}
}

func (s *FileSource) Name() string { return "file_monitor" }

func (s *FileSource) Start(ctx context.Context, d *core.Dispatcher) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		return errors.New("file monitor already started")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	watched := 0
	for _, root := range s.roots {
		n, err := s.addTree(w, root)
		if err != nil {
			s.logger.Warn().Err(err).Str("path", root).Msg("cannot watch path")
			continue
		}
		watched += n
	}
	if watched == 0 {
		s.logger.Warn().Strs("paths", s.roots).Msg("no directories to watch")
	}

	s.watcher = w
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(ctx, w, d.Submit)

	if s.scanOnStart {
		go s.scan(ctx, d.Submit)
	}
	s.logger.Info().Int("directories", watched).Msg("file monitor started")
	return nil
}

func (s *FileSource) Stop() error {
	s.mu.Lock()
	w, stop, done := s.watcher, s.stop, s.done
	s.watcher = nil
	s.mu.Unlock()
	if w == nil {
		return nil
	}
	close(stop)
	err := w.Close()
	<-done
	return err
}

// addTree watches root and every directory below it.
func (s *FileSource) addTree(w *fsnotify.Watcher, root string) (int, error) {
	info, err := os.Stat(root)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("%s is not a directory", root)
	}
	n := 0
	err = filepath.WalkDir(root, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, not fatal.
			if de != nil && de.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !de.IsDir() {
			return nil
		}
		if err := w.Add(path); err != nil {
			s.logger.Debug().Err(err).Str("path", path).Msg("skipping directory")
			return nil
		}
		n++
		return nil
	})
	return n, err
}

func (s *FileSource) loop(ctx context.Context, w *fsnotify.Watcher, emit func(*core.DetectionEvent)) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			s.handle(w, ev, emit)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Error().Err(err).Msg("watcher error")
		}
	}
}

func (s *FileSource) handle(w *fsnotify.Watcher, ev fsnotify.Event, emit func(*core.DetectionEvent)) {
	var action string
	switch {
	case ev.Op&fsnotify.Create == fsnotify.Create:
		action = ActionCreated
	case ev.Op&fsnotify.Write == fsnotify.Write:
		action = ActionModified
	default:
		return
	}

	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if action == ActionCreated {
			if _, err := s.addTree(w, ev.Name); err != nil {
				s.logger.Warn().Err(err).Str("path", ev.Name).Msg("cannot watch new directory")
			}
		}
		return
	}
	if e := s.CheckFile(ev.Name, action); e != nil {
		emit(e)
	}
}

// scan classifies files already present under the roots.
func (s *FileSource) scan(ctx context.Context, emit func(*core.DetectionEvent)) {
	for _, root := range s.roots {
		_ = filepath.WalkDir(root, func(path string, de fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil || de.IsDir() {
				return nil
			}
			if e := s.CheckFile(path, ActionExisting); e != nil {
				emit(e)
			}
			return nil
		})
	}
}

// CheckFile returns an event when path has a critical extension and the
// checker flags it, otherwise nil.
func (s *FileSource) CheckFile(path, action string) *core.DetectionEvent {
	if !s.exts[strings.ToLower(filepath.Ext(path))] {
		return nil
	}
	s.logger.Info().Str("path", path).Str("action", action).Msg("critical file changed")
	if s.checker == nil || !s.checker.IsSuspicious(path) {
		return nil
	}
	s.logger.Warn().Str("path", path).Str("action", action).Msg("suspicious file")
	return core.NewDetectionEvent(s.Name(), core.KindSuspiciousFile, core.SeverityHigh,
		"Suspicious file detected",
		fmt.Sprintf("Suspicious file %s: %s", action, path)).
		With("file_path", path).
		With("action", action)
}
