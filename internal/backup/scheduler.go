package backup

import (
	"context"
	"log/slog"
	"sync"
)

// Scheduler runs CheckAndBackup off the caller's path. Signals received
// while a check is pending or running coalesce into one.
type Scheduler struct {
	m      *Manager
	logger *slog.Logger

	signal chan struct{}
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewScheduler starts the background backup goroutine.
func NewScheduler(m *Manager, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		m:      m,
		logger: logger,
		signal: make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Notify requests a freshness check. It never blocks.
func (s *Scheduler) Notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Close stops the scheduler after running any pending check.
func (s *Scheduler) Close() {
	s.once.Do(func() { close(s.quit) })
	<-s.done
}

func (s *Scheduler) run() {
	defer close(s.done)
	for {
		select {
		case <-s.signal:
			s.check()
		case <-s.quit:
			select {
			case <-s.signal:
				s.check()
			default:
			}
			return
		}
	}
}

func (s *Scheduler) check() {
	rec, err := s.m.CheckAndBackup(context.Background())
	if err != nil {
		s.logger.Warn("scheduled backup failed", "error", err)
		return
	}
	if rec != nil {
		s.logger.Debug("scheduled backup done", "file", rec.Filename)
	}
}
