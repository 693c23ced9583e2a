package draft

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Flusher periodically pushes pending snapshots to the durable store.
// Persist failures are retried with exponential backoff and never block the
// respondent from continuing to answer; only submission requires a
// successful final write.
type Flusher struct {
	svc      *Service
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	pending map[string]*pendingDraft

	stop chan struct{}
	done chan struct{}
}

type pendingDraft struct {
	snap     *Snapshot
	attempts int
	nextTry  time.Time
}

const (
	backoffBase = 2 * time.Second
	backoffMax  = 2 * time.Minute
)

func NewFlusher(svc *Service, interval time.Duration, logger zerolog.Logger) *Flusher {
	return &Flusher{
		svc:      svc,
		interval: interval,
		logger:   logger.With().Str("component", "draft_flusher").Logger(),
		pending:  make(map[string]*pendingDraft),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Enqueue records a snapshot for the next flush. A newer snapshot for the
// same session replaces the queued one and resets its backoff.
func (f *Flusher) Enqueue(snap *Snapshot) {
	f.mu.Lock()
	f.pending[snap.SessionID] = &pendingDraft{snap: snap}
	f.mu.Unlock()
}

// Pending returns the number of sessions awaiting a flush.
func (f *Flusher) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// Start runs the flush loop until Stop is called or ctx is cancelled.
func (f *Flusher) Start(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	go func() {
		defer ticker.Stop()
		defer close(f.done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-f.stop:
				// Best-effort synchronous flush on the way out, matching the
				// visibility-loss behavior: attempted, not guaranteed.
				f.Flush(context.Background())
				return
			case <-ticker.C:
				f.Flush(ctx)
			}
		}
	}()
}

// Stop signals the loop to flush once more and exit, then waits for it.
func (f *Flusher) Stop() {
	close(f.stop)
	<-f.done
}

// Flush attempts every due pending snapshot once. Successful or permanently
// rejected snapshots are dropped; transient failures are rescheduled with
// backoff.
func (f *Flusher) Flush(ctx context.Context) {
	f.mu.Lock()
	due := make([]*pendingDraft, 0, len(f.pending))
	now := time.Now()
	for _, p := range f.pending {
		if !p.nextTry.After(now) {
			due = append(due, p)
		}
	}
	f.mu.Unlock()

	for _, p := range due {
		_, err := f.svc.Persist(ctx, p.snap)

		f.mu.Lock()
		current, ok := f.pending[p.snap.SessionID]
		if !ok || current != p {
			// Replaced by a newer snapshot while we were writing.
			f.mu.Unlock()
			continue
		}
		switch {
		case err == nil:
			delete(f.pending, p.snap.SessionID)
		case isPermanent(err):
			// A conflict or frozen draft cannot succeed by retrying the
			// same bytes; surface it in logs and drop it.
			delete(f.pending, p.snap.SessionID)
			f.logger.Warn().Err(err).Str("session_id", p.snap.SessionID).Msg("dropping unflushable draft")
		default:
			p.attempts++
			p.nextTry = time.Now().Add(backoff(p.attempts))
			f.logger.Error().Err(err).
				Str("session_id", p.snap.SessionID).
				Int("attempts", p.attempts).
				Msg("draft flush failed, will retry")
		}
		f.mu.Unlock()
	}
}

func isPermanent(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict) || errors.Is(err, ErrSubmitted)
}

func backoff(attempts int) time.Duration {
	d := backoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= backoffMax {
			return backoffMax
		}
	}
	return d
}
