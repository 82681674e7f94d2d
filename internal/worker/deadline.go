package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tournament-engine/internal/config"
	"github.com/tournament-engine/internal/domain"
	"github.com/tournament-engine/internal/metrics"
)

// Engine is the part of the tournament service the sweeper drives
type Engine interface {
	DueTournaments(ctx context.Context) ([]domain.Tournament, error)
	StartDueTournament(ctx context.Context, tournamentID string) (bool, error)
	ExpiredMatches(ctx context.Context) ([]domain.Match, error)
	ResolveExpiredMatch(ctx context.Context, matchID string) (*domain.Match, error)
}

// SweepReport summarises one sweep
type SweepReport struct {
	Started  int
	Resolved int
	Errors   int
	Skipped  bool
}

// DeadlineSweeper periodically starts tournaments whose registration closed and
// resolves matches whose decision deadline passed
type DeadlineSweeper struct {
	engine   Engine
	config   *config.SweeperConfig
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.Mutex
	running  bool
	sweeping atomic.Bool
}

// NewDeadlineSweeper creates a new deadline sweeper
func NewDeadlineSweeper(engine Engine, cfg *config.SweeperConfig, logger *slog.Logger) *DeadlineSweeper {
	return &DeadlineSweeper{
		engine: engine,
		config: cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins the background sweep loop
func (w *DeadlineSweeper) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("deadline sweeper started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the loop and waits for an in-flight sweep to finish
func (w *DeadlineSweeper) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("deadline sweeper stopped")
	return nil
}

func (w *DeadlineSweeper) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// IsRunning returns whether the loop is active
func (w *DeadlineSweeper) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs both passes unless another sweep is still in progress
func (w *DeadlineSweeper) RunOnce(ctx context.Context) SweepReport {
	if !w.sweeping.CompareAndSwap(false, true) {
		metrics.SweepsSkipped.Inc()
		w.logger.Warn("previous sweep still running, skipping tick")
		return SweepReport{Skipped: true}
	}
	defer w.sweeping.Store(false)

	startTime := time.Now()
	var report SweepReport
	w.startDueTournaments(ctx, &report)
	w.resolveExpiredMatches(ctx, &report)

	duration := time.Since(startTime)
	metrics.SweepDuration.Observe(duration.Seconds())
	w.logger.Info("sweep completed",
		"duration", duration,
		"started", report.Started,
		"resolved", report.Resolved,
		"errors", report.Errors,
	)
	return report
}

func (w *DeadlineSweeper) startDueTournaments(ctx context.Context, report *SweepReport) {
	due, err := w.engine.DueTournaments(ctx)
	if err != nil {
		metrics.SweepErrors.WithLabelValues("tournaments").Inc()
		w.logger.Error("failed to list due tournaments", "error", err)
		report.Errors++
		return
	}

	for _, t := range due {
		started, err := w.engine.StartDueTournament(ctx, t.ID)
		if err != nil {
			metrics.SweepErrors.WithLabelValues("tournaments").Inc()
			w.logger.Error("failed to start tournament",
				"tournament_id", t.ID,
				"error", err,
			)
			report.Errors++
			continue
		}
		if started {
			report.Started++
		}
	}
}

func (w *DeadlineSweeper) resolveExpiredMatches(ctx context.Context, report *SweepReport) {
	expired, err := w.engine.ExpiredMatches(ctx)
	if err != nil {
		metrics.SweepErrors.WithLabelValues("matches").Inc()
		w.logger.Error("failed to list expired matches", "error", err)
		report.Errors++
		return
	}

	for i := range expired {
		m := &expired[i]
		if len(m.Players()) != 2 {
			w.logger.Debug("skipping expired match without two players",
				"tournament_id", m.TournamentID,
				"match_id", m.ID,
			)
			continue
		}

		if _, err := w.engine.ResolveExpiredMatch(ctx, m.ID); err != nil {
			metrics.SweepErrors.WithLabelValues("matches").Inc()
			w.logger.Error("failed to resolve expired match",
				"tournament_id", m.TournamentID,
				"match_id", m.ID,
				"error", err,
			)
			report.Errors++
			continue
		}
		report.Resolved++
	}
}
