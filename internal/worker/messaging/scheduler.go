// Package messagingworker drives the background side of messaging: the
// scheduled-message tick and the periodic flush of analytics and other
// write-behind state.
package messagingworker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/physio-messaging/internal/messaging"
	"github.com/wolfman30/physio-messaging/internal/observability/metrics"
	"github.com/wolfman30/physio-messaging/internal/scheduling"
	"github.com/wolfman30/physio-messaging/pkg/logging"
)

type dispatcher interface {
	Dispatch(ctx context.Context, msg messaging.LogicalMessage, tenantID string) (string, error)
}

type flusher interface {
	Flush(ctx context.Context) error
}

// TickResult summarises one scheduler tick.
type TickResult struct {
	Due    int
	Sent   int
	Failed int
}

// Scheduler dispatches due messages on a fixed interval and flushes
// analytics on another.
type Scheduler struct {
	queue     *scheduling.Queue
	sender    dispatcher
	analytics flusher
	// flushers are flushed with analytics on every flush slot and at Stop.
	flushers []flusher
	clock     messaging.Clock
	metrics   *metrics.MessagingMetrics
	logger    *logging.Logger

	tickInterval  time.Duration
	flushInterval time.Duration
	concurrency   int

	mu   sync.Mutex
	cron *cron.Cron
}

func NewScheduler(queue *scheduling.Queue, sender dispatcher, analytics flusher, logger *logging.Logger) *Scheduler {
	if queue == nil || sender == nil {
		panic("messagingworker: queue and sender are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{
		queue:         queue,
		sender:        sender,
		analytics:     analytics,
		clock:         messaging.SystemClock{},
		logger:        logger,
		tickInterval:  time.Minute,
		flushInterval: 5 * time.Minute,
		concurrency:   8,
	}
}

// WithFlusher adds write-behind state flushed alongside analytics.
func (s *Scheduler) WithFlusher(f flusher) *Scheduler {
	if f != nil {
		s.flushers = append(s.flushers, f)
	}
	return s
}

func (s *Scheduler) WithClock(c messaging.Clock) *Scheduler {
	if c != nil {
		s.clock = c
	}
	return s
}

func (s *Scheduler) WithMetrics(m *metrics.MessagingMetrics) *Scheduler {
	s.metrics = m
	return s
}

func (s *Scheduler) WithTickInterval(d time.Duration) *Scheduler {
	if d > 0 {
		s.tickInterval = d
	}
	return s
}

func (s *Scheduler) WithFlushInterval(d time.Duration) *Scheduler {
	if d > 0 {
		s.flushInterval = d
	}
	return s
}

func (s *Scheduler) WithConcurrency(n int) *Scheduler {
	if n > 0 {
		s.concurrency = n
	}
	return s
}

// Tick dispatches every message due at the current time. Each message is
// claimed by the queue before it is returned, so overlapping ticks never
// send the same message twice.
func (s *Scheduler) Tick(ctx context.Context) TickResult {
	due := s.queue.Due(s.clock.Now())
	result := TickResult{Due: len(due)}
	if len(due) == 0 {
		s.metrics.SetQueuePending(s.queue.Pending())
		return result
	}

	var sent, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, msg := range due {
		g.Go(func() error {
			outcome := s.deliver(ctx, msg)
			if !s.queue.MarkResult(ctx, msg.TenantID, msg.ID, outcome) {
				s.logger.Info("messagingworker: result discarded, message no longer pending", "id", msg.ID, "tenant_id", msg.TenantID)
				return nil
			}
			if outcome.Success {
				sent.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	result.Sent = int(sent.Load())
	result.Failed = int(failed.Load())
	s.metrics.ObserveTick(result.Sent, result.Failed)
	s.metrics.SetQueuePending(s.queue.Pending())
	s.logger.Info("messagingworker: tick complete", "due", result.Due, "sent", result.Sent, "failed", result.Failed)
	return result
}

func (s *Scheduler) deliver(ctx context.Context, msg scheduling.ScheduledMessage) (outcome scheduling.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("messagingworker: dispatch panicked", "id", msg.ID, "panic", r)
			outcome = scheduling.Outcome{Error: fmt.Sprintf("panic: %v", r)}
		}
	}()
	id, err := s.sender.Dispatch(ctx, msg.Message, msg.TenantID)
	if err != nil {
		s.logger.Warn("messagingworker: scheduled message failed", "id", msg.ID, "tenant_id", msg.TenantID, "error", err)
		return scheduling.Outcome{Error: err.Error()}
	}
	return scheduling.Outcome{Success: true, DeliveryID: id}
}

// FlushAnalytics persists pending analytics and inbound log changes.
func (s *Scheduler) FlushAnalytics(ctx context.Context) error {
	err := s.flushAll(ctx)
	if err != nil {
		s.logger.Error("messagingworker: flush failed", "error", err)
	}
	return err
}

// flushAll flushes analytics and every registered flusher; one failure does
// not skip the others.
func (s *Scheduler) flushAll(ctx context.Context) error {
	var errs []error
	if s.analytics != nil {
		errs = append(errs, s.analytics.Flush(ctx))
	}
	for _, f := range s.flushers {
		errs = append(errs, f.Flush(ctx))
	}
	return errors.Join(errs...)
}

// Start registers the tick and flush jobs and starts the cron runner. A job
// that is still running when its next slot arrives is skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("messagingworker: scheduler already started")
	}
	l := cronLogger{logger: s.logger}
	c := cron.New(cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)), cron.WithLogger(l))
	c.Schedule(cron.Every(s.tickInterval), cron.FuncJob(func() { s.Tick(ctx) }))
	c.Schedule(cron.Every(s.flushInterval), cron.FuncJob(func() { _ = s.FlushAnalytics(ctx) }))
	c.Start()
	s.cron = c
	s.logger.Info("messagingworker: scheduler started", "tick_interval", s.tickInterval.String(), "flush_interval", s.flushInterval.String())
	return nil
}

// Stop halts the cron runner, waits for in-flight jobs until ctx expires
// and flushes everything one last time.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			s.logger.Warn("messagingworker: stop deadline reached with jobs running")
		}
	}
	if err := s.flushAll(ctx); err != nil {
		return fmt.Errorf("messagingworker: final flush: %w", err)
	}
	return nil
}

// cronLogger adapts logging.Logger to cron.Logger.
type cronLogger struct {
	logger *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
