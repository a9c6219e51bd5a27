// Package sched runs named interval jobs for the agent orchestrator.
package sched

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type job struct {
	name     string
	interval time.Duration
	fn       func()
}

// Scheduler drives a set of interval jobs, one goroutine each. Jobs are
// registered before Start and run until Stop.
type Scheduler struct {
	log  *zap.Logger
	jobs []job

	stopChan chan struct{}
	wg       sync.WaitGroup
	started  bool
}

// New creates an empty scheduler.
func New(log *zap.Logger) *Scheduler {
	return &Scheduler{
		log:      log,
		stopChan: make(chan struct{}),
	}
}

// Every registers fn to run on the given interval.
func (s *Scheduler) Every(name string, interval time.Duration, fn func()) {
	s.jobs = append(s.jobs, job{name: name, interval: interval, fn: fn})
}

// Start launches every registered job.
func (s *Scheduler) Start() {
	if s.started {
		return
	}
	s.started = true

	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.run(j)
	}

	s.log.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Stop signals every job and waits up to a one-second grace for loops to
// exit before giving up on them.
func (s *Scheduler) Stop() {
	if !s.started {
		return
	}
	close(s.stopChan)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		s.log.Warn("scheduler jobs did not stop within grace period")
	}
}

func (s *Scheduler) run(j job) {
	defer s.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.invoke(j)
		case <-s.stopChan:
			return
		}
	}
}

// invoke shields the scheduler from a panicking job.
func (s *Scheduler) invoke(j job) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job panicked", zap.String("job", j.name), zap.Any("panic", r))
		}
	}()
	j.fn()
}
