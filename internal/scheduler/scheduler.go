// Package scheduler drives the periodic refresh of every source.
//
// A cycle refreshes each source once, either one after another or in parallel.
// Sources are isolated from each other: an error or panic in one never stops
// the rest of the cycle. While the network is reported offline, cycles are
// skipped and every source carries the offline indicator. The first cycle runs
// at start-up and one extra cycle runs when connectivity returns.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// Refresher is one pollable source.
type Refresher interface {
	ID() string
	Refresh(ctx context.Context) error
	SetOffline(offline bool)
}

// Connectivity reports whether fetches should be attempted.
type Connectivity interface {
	Online() bool
}

// Options control the cadence of the scheduler.
type Options struct {
	Interval       time.Duration
	RequestTimeout time.Duration
	Concurrent     bool
}

// DefaultOptions returns a five minute sequential cadence.
func DefaultOptions() Options {
	return Options{
		Interval:       5 * time.Minute,
		RequestTimeout: 30 * time.Second,
	}
}

type Scheduler struct {
	sources []Refresher
	network Connectivity
	opts    Options
	logger  *logrus.Logger
	cron    *cron.Cron

	// mu guards ctx, cancel and stopped so no cycle is added once Stop waits.
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler for sources. A nil network is always online.
func NewScheduler(sources []Refresher, network Connectivity, opts Options, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		sources: sources,
		network: network,
		opts:    opts,
		logger:  logger,
		cron:    cron.New(),
	}
}

// Start the scheduler. The first cycle begins immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.opts.Interval <= 0 {
		return fmt.Errorf("polling interval must be positive, got %s", s.opts.Interval)
	}
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	spec := fmt.Sprintf("@every %s", s.opts.Interval)
	if _, err := s.cron.AddFunc(spec, func() { s.tick() }); err != nil {
		return err
	}
	s.cron.Start()

	s.logger.WithFields(logrus.Fields{
		"sources":    len(s.sources),
		"interval":   s.opts.Interval,
		"concurrent": s.opts.Concurrent,
	}).Info("Scheduler started")

	s.tick()
	return nil
}

// NetworkChanged is called on connectivity transitions. Going offline marks
// every source; coming back online clears the mark and triggers a cycle
// outside the regular cadence.
func (s *Scheduler) NetworkChanged(online bool) {
	if !online {
		s.setOffline(true)
		return
	}
	s.setOffline(false)
	if s.tick() {
		s.logger.Info("Network restored, refreshing now")
	}
}

// tick starts a cycle in the background. It reports false when the
// scheduler is not running.
func (s *Scheduler) tick() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.ctx == nil || s.ctx.Err() != nil {
		return false
	}
	ctx := s.ctx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.RunCycle(ctx)
	}()
	return true
}

// RunCycle refreshes every source once and returns the number of failures.
// A cycle started while offline only sets the offline indicator.
func (s *Scheduler) RunCycle(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	if s.network != nil && !s.network.Online() {
		s.setOffline(true)
		s.logger.Warn("Network offline, skipping refresh cycle")
		return 0
	}
	s.setOffline(false)

	start := time.Now()
	var (
		mu       sync.Mutex
		failures int
	)
	record := func(err error) {
		if err != nil {
			mu.Lock()
			failures++
			mu.Unlock()
		}
	}

	if s.opts.Concurrent {
		var wg conc.WaitGroup
		for _, src := range s.sources {
			src := src
			wg.Go(func() { record(s.refreshOne(ctx, src)) })
		}
		wg.Wait()
	} else {
		for _, src := range s.sources {
			if ctx.Err() != nil {
				break
			}
			record(s.refreshOne(ctx, src))
		}
	}

	s.logger.WithFields(logrus.Fields{
		"sources":  len(s.sources),
		"failures": failures,
		"duration": time.Since(start),
	}).Info("Refresh cycle completed")
	return failures
}

// refreshOne runs a single source with its own timeout. Panics are recovered
// and reported as errors.
func (s *Scheduler) refreshOne(ctx context.Context, src Refresher) (err error) {
	if s.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
	}

	var pc panics.Catcher
	pc.Try(func() { err = src.Refresh(ctx) })
	if r := pc.Recovered(); r != nil {
		err = r.AsError()
		s.logger.WithField("source", src.ID()).WithError(err).Error("Refresh panicked")
	}
	return err
}

func (s *Scheduler) setOffline(offline bool) {
	for _, src := range s.sources {
		src.SetOffline(offline)
	}
}

// Stop the scheduler and wait for running cycles to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}
