package draft

import "context"

// Repository stores server-side draft snapshots keyed by session id.
type Repository interface {
	Get(ctx context.Context, sessionID string) (*Snapshot, error)
	// Put writes a snapshot if its version is >= the stored version and the
	// draft is not submitted. Implementations must make the version check
	// atomic with the write.
	Put(ctx context.Context, snap *Snapshot) error
	// MarkSubmitted freezes a draft; subsequent Put calls fail with
	// ErrSubmitted.
	MarkSubmitted(ctx context.Context, sessionID string) error
	Delete(ctx context.Context, sessionID string) error
}
