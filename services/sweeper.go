package services

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"scheduling-engine/config"
	"scheduling-engine/models"
)

const sweepLockKey = "scheduler:sweep:lock"

// Sweeper runs periodic global detection passes and feeds eligible conflicts
// to auto-resolution. With a Redis client configured, a SETNX lock keeps at
// most one process sweeping at a time; a process that loses the lock skips
// the round rather than waiting.
type Sweeper struct {
	conflicts  *ConflictService
	resolution *ResolutionService
	redis      *redis.Client
	config     *config.Config
	log        zerolog.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewSweeper builds a sweeper; redisClient may be nil for single-process
// deployments.
func NewSweeper(conflicts *ConflictService, resolution *ResolutionService, redisClient *redis.Client, cfg *config.Config, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		conflicts:  conflicts,
		resolution: resolution,
		redis:      redisClient,
		config:     cfg,
		log:        log.With().Str("service", "sweeper").Logger(),
		stopChan:   make(chan struct{}),
	}
}

// Start launches the background sweep loop.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.loop()
	s.log.Info().Dur("interval", s.config.SweepInterval).Msg("sweeper started")
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce(context.Background())
		case <-s.stopChan:
			s.log.Info().Msg("sweep loop stopping")
			return
		}
	}
}

// RunOnce performs a single sweep round: acquire the cross-process lock if
// one is configured, run a global detection pass, then attempt auto-resolution
// on what it found. Failures are logged, not propagated; the next tick tries
// again.
func (s *Sweeper) RunOnce(ctx context.Context) {
	acquired, release, err := s.acquireLock(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("sweep lock check failed, skipping round")
		return
	}
	if !acquired {
		s.log.Debug().Msg("another process holds the sweep lock, skipping round")
		return
	}
	defer release()

	report, err := s.conflicts.RunDetection(ctx, models.GlobalScope())
	if err != nil {
		s.log.Error().Err(err).Msg("global detection pass failed")
		return
	}
	for _, unitErr := range report.Errors {
		s.log.Warn().Str("session_id", unitErr.SessionID).
			Str("error", unitErr.Message).Msg("detection unit failed during sweep")
	}

	resolved, err := s.resolution.AutoResolveEligible(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("auto-resolution sweep failed")
		return
	}
	s.log.Info().Int("conflicts", len(report.Conflicts)).
		Int("auto_resolved", resolved).Msg("sweep round complete")
}

// acquireLock takes the Redis sweep lock when a client is configured. The TTL
// bounds how long a crashed holder can block other processes; release is
// best-effort since expiry covers the failure case.
func (s *Sweeper) acquireLock(ctx context.Context) (bool, func(), error) {
	if s.redis == nil {
		return true, func() {}, nil
	}
	ok, err := s.redis.SetNX(ctx, sweepLockKey, "1", s.config.SweepLockTTL).Result()
	if err != nil {
		return false, nil, err
	}
	if !ok {
		return false, nil, nil
	}
	release := func() {
		if err := s.redis.Del(context.Background(), sweepLockKey).Err(); err != nil {
			s.log.Warn().Err(err).Msg("sweep lock release failed, relying on TTL")
		}
	}
	return true, release, nil
}

// Shutdown stops the sweep loop and waits for an in-flight round to finish,
// bounded by a timeout.
func (s *Sweeper) Shutdown(timeout time.Duration) {
	close(s.stopChan)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info().Msg("sweeper stopped")
	case <-time.After(timeout):
		s.log.Warn().Msg("timeout waiting for sweep round to finish")
	}
}
