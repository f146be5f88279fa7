package limiter

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically destroys definitions whose expiry has elapsed.
type Sweeper struct {
	registry *Registry
	interval time.Duration
	logger   *zap.Logger
}

func NewSweeper(registry *Registry, interval time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Sweeper{registry: registry, interval: interval, logger: logger}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep runs one expiry pass and returns the destroyed tags.
func (s *Sweeper) Sweep() []string {
	expired := s.registry.Expire(s.registry.clock.Now())
	if len(expired) > 0 {
		s.logger.Info("expired limits swept", zap.Strings("tags", expired), zap.Int("remaining", s.registry.Len()))
	}
	return expired
}
