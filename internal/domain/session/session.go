// Package session implements the client-held questionnaire state machine.
// A session wraps the flow evaluator: every answer edit re-evaluates the
// definition, recomputes the state, and marks the session dirty for the
// draft reconciler. Sessions are driven by a single UI thread; the type is
// not safe for concurrent use and does not need to be.
package session

import (
	"errors"
	"time"

	"github.com/telehq/intake/internal/domain/draft"
	"github.com/telehq/intake/internal/domain/flow"
)

// State is the session lifecycle state.
type State string

const (
	// StateCollecting: the respondent is editing answers.
	StateCollecting State = "collecting"
	// StateBlocked: a knockout flag is present. Sticky until the offending
	// answer changes; editing unrelated answers does not clear it.
	StateBlocked State = "blocked"
	// StateReady: all visible required questions answered, no knockout.
	StateReady State = "ready"
	// StateSubmitting: a submit is in flight; edits are rejected.
	StateSubmitting State = "submitting"
	// StateSubmitted: terminal. Answers are frozen.
	StateSubmitted State = "submitted"
)

var (
	// ErrAlreadySubmitted is returned for any edit after submission starts.
	ErrAlreadySubmitted = errors.New("session already submitted")
	// ErrNotReady is returned when submit is attempted from a non-ready state.
	ErrNotReady = errors.New("session is not ready to submit")
	// ErrBlocked is returned when submit is attempted while a knockout flag
	// is present.
	ErrBlocked = errors.New("session is blocked by a safety flag")
)

// Session tracks answers, the current step, and the derived state for one
// respondent working through one flow definition version.
type Session struct {
	id      string
	def     *flow.Definition
	answers flow.Answers
	step    int
	state   State
	eval    flow.Evaluation
	dirty   bool
	version int
}

// New starts an empty session against def.
func New(id string, def *flow.Definition) *Session {
	s := &Session{
		id:      id,
		def:     def,
		answers: make(flow.Answers),
		state:   StateCollecting,
	}
	s.revalidate()
	return s
}

// Restore rebuilds a session from a draft snapshot, re-deriving state from
// the answers rather than trusting anything stored.
func Restore(def *flow.Definition, snap *draft.Snapshot) *Session {
	s := &Session{
		id:      snap.SessionID,
		def:     def,
		answers: snap.Answers.Clone(),
		step:    snap.StepPointer,
		version: snap.Version,
	}
	s.state = StateCollecting
	s.revalidate()
	return s
}

func (s *Session) ID() string                  { return s.id }
func (s *Session) State() State                { return s.state }
func (s *Session) Step() int                   { return s.step }
func (s *Session) Evaluation() flow.Evaluation { return s.eval }
func (s *Session) Dirty() bool                 { return s.dirty }

// Answers returns the full answer map, including answers to questions that
// are currently hidden. Hidden answers are retained so toggling a condition
// back does not lose input.
func (s *Session) Answers() flow.Answers { return s.answers.Clone() }

// SetAnswer records an answer and re-runs the evaluator. Later writes for
// the same question overwrite earlier ones.
func (s *Session) SetAnswer(questionID string, value interface{}) error {
	if s.state == StateSubmitting || s.state == StateSubmitted {
		return ErrAlreadySubmitted
	}
	s.answers[questionID] = value
	s.dirty = true
	s.revalidate()
	return nil
}

// SetStep moves the step pointer (UI navigation) and marks the session
// dirty so the position survives a resume.
func (s *Session) SetStep(step int) error {
	if s.state == StateSubmitting || s.state == StateSubmitted {
		return ErrAlreadySubmitted
	}
	if step < 0 {
		step = 0
	}
	s.step = step
	s.dirty = true
	return nil
}

// revalidate derives the state from the current answers: blocked beats
// ready beats collecting. The state is a pure function of the answers, so a
// knockout can only clear when the flagged answer itself changes.
func (s *Session) revalidate() {
	s.eval = flow.Evaluate(s.def, s.answers)
	switch {
	case s.eval.Knockout():
		s.state = StateBlocked
	case len(flow.MissingRequired(s.def, s.answers)) == 0:
		s.state = StateReady
	default:
		s.state = StateCollecting
	}
}

// BeginSubmit moves a ready session to submitting. From submitting the only
// transitions are MarkSubmitted and AbortSubmit; answers cannot change.
func (s *Session) BeginSubmit() error {
	switch s.state {
	case StateBlocked:
		return ErrBlocked
	case StateSubmitting, StateSubmitted:
		return ErrAlreadySubmitted
	case StateReady:
		s.state = StateSubmitting
		return nil
	default:
		return ErrNotReady
	}
}

// MarkSubmitted finalizes the one-way transition to submitted.
func (s *Session) MarkSubmitted() {
	s.state = StateSubmitted
	s.dirty = false
}

// AbortSubmit returns a submitting session to its derived state after a
// failed submit attempt.
func (s *Session) AbortSubmit() {
	if s.state == StateSubmitting {
		s.revalidate()
	}
}

// Snapshot produces a draft snapshot of the current session for the
// reconciler and clears the dirty mark.
func (s *Session) Snapshot() *draft.Snapshot {
	s.dirty = false
	return &draft.Snapshot{
		SessionID:   s.id,
		FlowID:      s.def.ID,
		FlowVersion: s.def.Version,
		StepPointer: s.step,
		Answers:     s.answers.Clone(),
		Version:     s.version,
		UpdatedAt:   time.Now().UTC(),
		Origin:      draft.OriginLocal,
	}
}

// SyncVersion records the server-acknowledged draft version so the next
// snapshot carries it.
func (s *Session) SyncVersion(v int) {
	if v > s.version {
		s.version = v
	}
}
