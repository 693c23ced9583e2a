package intake

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Expirer periodically times out cases stuck in paid or pending_info.
type Expirer struct {
	svc      *Service
	interval time.Duration
	maxAge   time.Duration
	logger   zerolog.Logger
	stop     chan struct{}
	done     chan struct{}
}

func NewExpirer(svc *Service, interval, maxAge time.Duration, logger zerolog.Logger) *Expirer {
	return &Expirer{
		svc:      svc,
		interval: interval,
		maxAge:   maxAge,
		logger:   logger.With().Str("component", "case_expirer").Logger(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the expiry loop until Stop is called or ctx is cancelled.
func (e *Expirer) Start(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	go func() {
		defer ticker.Stop()
		defer close(e.done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stop:
				return
			case <-ticker.C:
				if _, err := e.svc.ExpireStale(ctx, e.maxAge); err != nil {
					e.logger.Error().Err(err).Msg("case expiry sweep failed")
				}
			}
		}
	}()
}

// Stop signals the loop to exit and waits for it.
func (e *Expirer) Stop() {
	close(e.stop)
	<-e.done
}
