package monitoring

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/observability"
)

// PendingExpirer is the storage operation the sweeper relies on.
type PendingExpirer interface {
	ExpireBefore(ctx context.Context, cutoff, at time.Time) (int64, error)
	CountOpen(ctx context.Context) (int, error)
}

// SweeperConfig holds pending-feedback sweep configuration.
type SweeperConfig struct {
	Window   time.Duration // records older than this are expired
	Interval time.Duration
}

// SweepResult contains the outcome of one sweep.
type SweepResult struct {
	SweptAt   time.Time
	Expired   int64
	StillOpen int
}

// PendingSweeper closes implicit-feedback records whose window has elapsed
// so pending state stays bounded when a candidate never writes again.
type PendingSweeper struct {
	logger      *observability.Logger
	auditLogger *AuditLogger
	pending     PendingExpirer
	config      SweeperConfig
	now         func() time.Time
}

// NewPendingSweeper creates a new sweeper.
func NewPendingSweeper(logger *observability.Logger, auditLogger *AuditLogger, pending PendingExpirer, cfg SweeperConfig) *PendingSweeper {
	if cfg.Window == 0 {
		cfg.Window = 5 * time.Minute
	}
	if cfg.Interval == 0 {
		cfg.Interval = time.Minute
	}

	return &PendingSweeper{
		logger:      logger,
		auditLogger: auditLogger,
		pending:     pending,
		config:      cfg,
		now:         time.Now,
	}
}

// RunOnce expires every open record created before now minus the window.
func (s *PendingSweeper) RunOnce(ctx context.Context) (*SweepResult, error) {
	now := s.now().UTC()
	result := &SweepResult{SweptAt: now}

	expired, err := s.pending.ExpireBefore(ctx, now.Add(-s.config.Window), now)
	if err != nil {
		return nil, err
	}
	result.Expired = expired

	open, err := s.pending.CountOpen(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to count open pending feedback")
	} else {
		result.StillOpen = open
	}

	if expired > 0 {
		s.auditLogger.LogEvent(ctx, AuditEvent{
			ResourceType: "pending_feedback",
			ResourceID:   uuid.Nil,
			Action:       AuditPendingExpired,
			Operator:     "sweeper",
			Payload: map[string]interface{}{
				"expired": expired,
				"window":  s.config.Window.String(),
			},
		})
	}

	s.logger.Debug().
		Int64("expired", result.Expired).
		Int("still_open", result.StillOpen).
		Msg("Pending feedback sweep completed")

	return result, nil
}

// Run sweeps on every interval until ctx is cancelled. Sweep failures are
// logged and the loop continues.
func (s *PendingSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logger.Info().
		Dur("interval", s.config.Interval).
		Dur("window", s.config.Window).
		Msg("Pending feedback sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Pending feedback sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("Pending feedback sweep failed")
			}
		}
	}
}
