package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/mohammad-safakhou/autoposter/internal/logging"
	"github.com/mohammad-safakhou/autoposter/internal/workflow"
)

// Starter launches a background run.
type Starter interface {
	TryStart(trigger, topic string) (string, error)
}

// Scheduler fires scheduled runs. Fires that land while a run is active
// are skipped, not queued.
type Scheduler struct {
	expr     *cronexpr.Expression
	spec     string
	starter  Starter
	topic    string
	interval time.Duration
	logger   logging.Logger
	now      func() time.Time

	last time.Time
	Stop chan struct{}
}

// NewScheduler parses spec, a 5-field cron expression or a macro such as @hourly.
func NewScheduler(spec, topic string, starter Starter, logger logging.Logger) (*Scheduler, error) {
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Scheduler{
		expr:     expr,
		spec:     spec,
		starter:  starter,
		topic:    topic,
		interval: time.Minute,
		logger:   logger,
		now:      time.Now,
		Stop:     make(chan struct{}),
	}, nil
}

// Next reports the next fire time after the last one.
func (s *Scheduler) Next() time.Time { return s.expr.Next(s.last) }

func (s *Scheduler) Start() {
	s.last = s.now()
	s.logger.WithFields(logging.Fields{"schedule": s.spec, "next": s.Next()}).Info("scheduler started")
	ticker := time.NewTicker(s.interval)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

// tick fires at most once however many slots were missed.
func (s *Scheduler) tick() bool {
	now := s.now()
	if !isDue(s.expr, s.last, now) {
		return false
	}
	s.last = now
	id, err := s.starter.TryStart(workflow.TriggerSchedule, s.topic)
	switch {
	case errors.Is(err, ErrBusy):
		s.logger.Info("scheduled run skipped: workflow already running")
		return false
	case err != nil:
		s.logger.WithError(err).Error("scheduled run failed to start")
		return false
	}
	s.logger.WithField("run_id", id).Info("scheduled run started")
	return true
}

func isDue(expr *cronexpr.Expression, last, now time.Time) bool {
	next := expr.Next(last)
	return !next.IsZero() && !next.After(now)
}
