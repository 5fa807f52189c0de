package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-relay/internal/domain"
	"github.com/spec-kit/ticket-relay/internal/repository"
	"github.com/spec-kit/ticket-relay/internal/service"
	apperrors "github.com/spec-kit/ticket-relay/pkg/util"
)

// AutomationWorker periodically sweeps active tickets for SLA breaches and
// inactivity. A zero threshold disables its check.
type AutomationWorker struct {
	store      repository.TicketStore
	lifecycle  *service.LifecycleService
	sla        time.Duration
	autoClose  time.Duration
	interval   time.Duration
	batchLimit int
	logger     *zap.Logger
	now        func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// AutomationDependencies bundles collaborators for the worker.
type AutomationDependencies struct {
	Store              repository.TicketStore
	Lifecycle          *service.LifecycleService
	SLAThreshold       time.Duration
	AutoCloseThreshold time.Duration
	Interval           time.Duration
	BatchLimit         int
	Logger             *zap.Logger
	Now                func() time.Time
}

// SweepStats summarizes one sweep.
type SweepStats struct {
	Scanned     int
	SLABreached int
	AutoClosed  int
	Failed      int
}

// NewAutomationWorker creates the worker.
func NewAutomationWorker(deps AutomationDependencies) *AutomationWorker {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	interval := deps.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	return &AutomationWorker{
		store:      deps.Store,
		lifecycle:  deps.Lifecycle,
		sla:        deps.SLAThreshold,
		autoClose:  deps.AutoCloseThreshold,
		interval:   interval,
		batchLimit: deps.BatchLimit,
		logger:     logger.Named("automation"),
		now:        now,
	}
}

// Enabled reports whether any check is active.
func (w *AutomationWorker) Enabled() bool {
	return w.sla > 0 || w.autoClose > 0
}

// Start launches the sweep loop in its own goroutine. It is a no-op when the
// worker is disabled or already running.
func (w *AutomationWorker) Start(ctx context.Context) {
	if !w.Enabled() {
		w.logger.Info("automation disabled; no thresholds configured")
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(runCtx, w.done)
	w.logger.Info("automation started",
		zap.Duration("interval", w.interval),
		zap.Duration("sla_threshold", w.sla),
		zap.Duration("auto_close_threshold", w.autoClose))
}

// Stop cancels the loop and waits for the in-flight sweep to finish.
func (w *AutomationWorker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	w.logger.Info("automation stopped")
}

func (w *AutomationWorker) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil {
				w.logger.Error("automation sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep runs one pass over active tickets. Each ticket is processed in
// isolation; a failure on one ticket is logged and the sweep continues.
func (w *AutomationWorker) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	if !w.Enabled() {
		return stats, nil
	}
	tickets, err := w.store.ListActive(ctx, w.batchLimit)
	if err != nil {
		return stats, apperrors.MapError(err)
	}

	for i := range tickets {
		if ctx.Err() != nil {
			break
		}
		stats.Scanned++
		breached, closed, err := w.process(ctx, &tickets[i])
		if breached {
			stats.SLABreached++
		}
		if closed {
			stats.AutoClosed++
		}
		if err != nil {
			stats.Failed++
			w.logger.Error("automation failed for ticket", zap.Int64("ticket_id", tickets[i].ID), zap.Error(err))
		}
	}

	if stats.SLABreached > 0 || stats.AutoClosed > 0 || stats.Failed > 0 {
		w.logger.Info("automation sweep finished",
			zap.Int("scanned", stats.Scanned),
			zap.Int("sla_breached", stats.SLABreached),
			zap.Int("auto_closed", stats.AutoClosed),
			zap.Int("failed", stats.Failed))
	} else {
		w.logger.Debug("automation sweep finished", zap.Int("scanned", stats.Scanned))
	}
	return stats, nil
}

func (w *AutomationWorker) process(ctx context.Context, ticket *domain.Ticket) (breached, closed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing ticket: %v", r)
		}
	}()
	now := w.now()

	if w.sla > 0 && ticket.FirstStaffReplyAt == nil && ticket.SLABreachedAt == nil && now.Sub(ticket.CreatedAt) >= w.sla {
		breached, err = w.lifecycle.FlagSLABreach(ctx, ticket, w.sla)
		if err != nil {
			return breached, false, err
		}
	}

	if w.autoClose > 0 && now.Sub(ticket.InactiveSince()) >= w.autoClose {
		_, closed, err = w.lifecycle.CloseAutomatically(ctx, ticket.ID, w.autoClose)
		if err != nil {
			if apperrors.IsCode(err, apperrors.CodeAlreadyClosed) {
				return breached, false, nil
			}
			return breached, false, err
		}
	}
	return breached, closed, nil
}
