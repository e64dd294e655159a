package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"

	"payment-service/internal/config"
	"payment-service/internal/db"
	"payment-service/internal/logcontext"
	"payment-service/internal/orchestrator"
)

const (
	defaultIntervalMs = 60_000
	fetchSize         = 100
)

var (
	sweepRunCounter     = metrics.GetOrCreateCounter(`intent_sweeper_runs_total`)
	sweepConfirmCounter = metrics.GetOrCreateCounter(`intent_sweeper_intents_total{result="confirmed"}`)
	sweepExpiredCounter = metrics.GetOrCreateCounter(`intent_sweeper_intents_total{result="forced_expired"}`)
	sweepErrorCounter   = metrics.GetOrCreateCounter(`intent_sweeper_intents_total{result="error"}`)
)

// Sweeper reconciles intents stuck past their expiry window. Confirm resolves
// each one against the provider: still-pending mobile-money transactions come
// back expired and land in failed through the same guarded transition as any
// other confirmation.
type Sweeper struct {
	intents  *db.IntentRepository
	orch     *orchestrator.Orchestrator
	interval time.Duration
	logger   *slog.Logger
}

func New(intents *db.IntentRepository, orch *orchestrator.Orchestrator, cfg config.Sweeper, logger *slog.Logger) *Sweeper {
	intervalMs := cfg.IntervalMs
	if intervalMs <= 0 {
		intervalMs = defaultIntervalMs
	}
	return &Sweeper{
		intents:  intents,
		orch:     orch,
		interval: time.Duration(intervalMs) * time.Millisecond,
		logger:   logger,
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.sweep(ctx)
			case <-ctx.Done():
				s.logger.InfoContext(ctx, "Context done, stopping sweeper")
				return
			}
		}
	}()
}

func (s *Sweeper) sweep(ctx context.Context) {
	ctx = logcontext.AppendCtx(ctx, slog.String("runId", uuid.New().String()))
	sweepRunCounter.Inc()

	overdue, err := s.intents.GetOverdue(ctx, time.Now(), fetchSize)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error fetching overdue intents", "error", err)
		return
	}
	if len(overdue) == 0 {
		return
	}

	s.logger.InfoContext(ctx, "Sweeping overdue intents", "count", len(overdue))

	for _, entity := range overdue {
		result, err := s.orch.Confirm(ctx, entity.ID)
		if err != nil {
			// Provider unreachable or transient failure: the intent stays for
			// the next sweep.
			s.logger.ErrorContext(ctx, "Error confirming overdue intent", "intentId", entity.ID, "error", err)
			sweepErrorCounter.Inc()
			continue
		}

		// Some providers keep answering pending for a dead payment. Past the
		// window that answer no longer counts; force the failure.
		if !result.Status.Terminal() {
			result, err = s.orch.Expire(ctx, entity.ID)
			if err != nil {
				s.logger.ErrorContext(ctx, "Error expiring overdue intent", "intentId", entity.ID, "error", err)
				sweepErrorCounter.Inc()
				continue
			}
			sweepExpiredCounter.Inc()
		}

		s.logger.InfoContext(ctx, "Overdue intent resolved", "intentId", entity.ID, "status", result.Status)
		sweepConfirmCounter.Inc()
	}
}
