package dividend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Meridian-Network/rewards_core/internal/app/config"
	"github.com/Meridian-Network/rewards_core/internal/app/system"
	"github.com/Meridian-Network/rewards_core/pkg/logger"
)

// Scheduler triggers distribution for each configured pool on the dividend
// cadence. Distribution is idempotent per round, so an overlapping or
// repeated trigger is harmless.
type Scheduler struct {
	service *Service
	cfg     config.Provider
	log     *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

var _ system.Service = (*Scheduler)(nil)

// NewScheduler constructs a scheduler around the dividend service.
func NewScheduler(service *Service, cfg config.Provider, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault("dividend-scheduler")
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return &Scheduler{
		service: service,
		cfg:     cfg,
		log:     log,
	}
}

func (s *Scheduler) Name() string { return "dividend-scheduler" }

// Start registers the cadence and begins firing. The config snapshot is read
// once at start; changing the cadence requires a restart.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	snap, err := s.cfg.Snapshot()
	if err != nil {
		return fmt.Errorf("dividend scheduler: %w", err)
	}

	runner := cron.New()
	for _, poolID := range snap.Pools {
		poolID := poolID
		if _, err := runner.AddFunc(snap.DividendCadence, func() { s.runOnce(poolID) }); err != nil {
			return fmt.Errorf("schedule pool %s with cadence %q: %w", poolID, snap.DividendCadence, err)
		}
	}

	runner.Start()
	s.cron = runner
	s.running = true
	s.log.WithField("cadence", snap.DividendCadence).
		WithField("pools", len(snap.Pools)).
		Info("dividend scheduler started")
	return nil
}

// Stop halts the cron runner and waits for an in-flight trigger to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	case <-time.After(30 * time.Second):
	}
	s.cron = nil
	s.running = false
	s.log.Info("dividend scheduler stopped")
	return nil
}

func (s *Scheduler) runOnce(poolID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := s.service.RecomputeHoldings(ctx, poolID); err != nil {
		s.log.WithError(err).WithField("pool_id", poolID).Warn("recompute holdings before distribution")
	}
	result, err := s.service.Distribute(ctx, poolID)
	if err != nil {
		s.log.WithError(err).WithField("pool_id", poolID).Error("scheduled distribution failed")
		return
	}
	s.log.WithField("pool_id", poolID).
		WithField("round", result.Round).
		WithField("snapshot", result.SnapshotBalance).
		Info("scheduled distribution completed")
}
