// Package draft persists in-progress questionnaire sessions and reconciles
// the locally cached copy against the server copy on resume.
package draft

import (
	"errors"
	"time"

	"github.com/telehq/intake/internal/domain/flow"
)

// Origin records which side produced a snapshot.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginServer Origin = "server"
)

// Snapshot is a versioned point-in-time copy of a session. The server-held
// snapshot for a session is monotonically versioned; writes carrying a
// version lower than the stored one are rejected as conflicts.
type Snapshot struct {
	SessionID   string       `json:"session_id"`
	FlowID      string       `json:"flow_id"`
	FlowVersion int          `json:"flow_version"`
	StepPointer int          `json:"step_pointer"`
	Answers     flow.Answers `json:"answers"`
	Version     int          `json:"version"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Origin      Origin       `json:"origin"`
	Submitted   bool         `json:"submitted"`
}

// Equal reports whether two snapshots carry the same content (answers and
// step), ignoring version and timestamps. Used to make re-persisting an
// identical snapshot a no-op.
func (s *Snapshot) Equal(other *Snapshot) bool {
	if other == nil {
		return false
	}
	if s.StepPointer != other.StepPointer || s.FlowID != other.FlowID || s.FlowVersion != other.FlowVersion {
		return false
	}
	if len(s.Answers) != len(other.Answers) {
		return false
	}
	for k, v := range s.Answers {
		ov, ok := other.Answers[k]
		if !ok || !answerEqual(v, ov) {
			return false
		}
	}
	return true
}

func answerEqual(a, b interface{}) bool {
	aArr, aOK := toArray(a)
	bArr, bOK := toArray(b)
	if aOK != bOK {
		return false
	}
	if aOK {
		if len(aArr) != len(bArr) {
			return false
		}
		for i := range aArr {
			if aArr[i] != bArr[i] {
				return false
			}
		}
		return true
	}
	return a == b
}

func toArray(v interface{}) ([]interface{}, bool) {
	switch t := v.(type) {
	case []interface{}:
		return t, true
	case []string:
		out := make([]interface{}, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

var (
	// ErrNotFound is returned when no snapshot exists for a session.
	ErrNotFound = errors.New("draft not found")
	// ErrSubmitted is returned when persisting to a session whose answers
	// are frozen by submission.
	ErrSubmitted = errors.New("draft already submitted")
)

// ConflictError is returned when a persist carries a version lower than the
// stored one. It carries the stored snapshot so the caller can re-resolve.
type ConflictError struct {
	Stored *Snapshot
}

func (e *ConflictError) Error() string {
	return "draft version conflict"
}

// Resolve picks between a locally cached snapshot and the server copy on
// resume: higher version wins; on a tie the server copy wins, because
// durability beats a possibly stale cache. This precedence is deliberate
// and covered by tests, not an accident of storage ordering.
func Resolve(local, server *Snapshot) *Snapshot {
	if local == nil {
		return server
	}
	if server == nil {
		return local
	}
	if local.Version > server.Version {
		return local
	}
	return server
}
