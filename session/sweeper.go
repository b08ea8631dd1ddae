package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/twoshard/enclave-signer/metrics"
)

const defaultSweepInterval = time.Minute

// SweeperConfig holds configuration for the background expiry sweeper.
type SweeperConfig struct {
	Manager  *Manager
	Interval time.Duration
	Logger   zerolog.Logger
}

// Sweeper periodically removes expired sessions so abandoned runs cannot
// grow the session map without bound. Lazy expiry on read remains the
// correctness mechanism; the sweeper only bounds memory.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	logger   zerolog.Logger
}

// NewSweeper creates a sweeper for the given manager.
func NewSweeper(cfg SweeperConfig) *Sweeper {
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultSweepInterval
	}
	return &Sweeper{
		manager:  cfg.Manager,
		interval: interval,
		logger:   cfg.Logger.With().Str("component", "session_sweeper").Logger(),
	}
}

// Start launches the sweep loop in the background.
func (s *Sweeper) Start(ctx context.Context) {
	go s.Run(ctx) //nolint:errcheck // Run only returns ctx.Err
}

// Run blocks sweeping until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			removed := s.manager.Sweep()
			metrics.SessionsSweptTotal.Add(float64(removed))
			metrics.ActiveSessions.Set(float64(s.manager.ActiveCount()))
			if removed > 0 {
				s.logger.Info().
					Int("removed", removed).
					Int("active", s.manager.ActiveCount()).
					Msg("swept expired sessions")
			}
		}
	}
}
