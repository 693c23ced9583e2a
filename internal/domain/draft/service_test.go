package draft

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/telehq/intake/internal/domain/flow"
)

// memRepo is an in-memory Repository matching the atomicity contract.
type memRepo struct {
	mu        sync.Mutex
	snapshots map[string]*Snapshot
	putErr    error
	getErr    error
	putCalls  int
}

func newMemRepo() *memRepo {
	return &memRepo{snapshots: make(map[string]*Snapshot)}
}

func (r *memRepo) Get(_ context.Context, sessionID string) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	snap, ok := r.snapshots[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *snap
	cp.Answers = snap.Answers.Clone()
	return &cp, nil
}

func (r *memRepo) Put(_ context.Context, snap *Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putCalls++
	if r.putErr != nil {
		return r.putErr
	}
	if stored, ok := r.snapshots[snap.SessionID]; ok {
		if stored.Submitted {
			return ErrSubmitted
		}
		if snap.Version < stored.Version {
			return &ConflictError{Stored: stored}
		}
	}
	cp := *snap
	cp.Answers = snap.Answers.Clone()
	r.snapshots[snap.SessionID] = &cp
	return nil
}

func (r *memRepo) MarkSubmitted(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.snapshots[sessionID]
	if !ok {
		return ErrNotFound
	}
	snap.Submitted = true
	return nil
}

func (r *memRepo) Delete(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.snapshots, sessionID)
	return nil
}

func snap(session string, version int, answers flow.Answers) *Snapshot {
	return &Snapshot{
		SessionID:   session,
		FlowID:      "consult",
		FlowVersion: 1,
		Answers:     answers,
		Version:     version,
		UpdatedAt:   time.Now().UTC(),
		Origin:      OriginLocal,
	}
}

func TestPersist_NewDraft(t *testing.T) {
	svc := NewService(newMemRepo())

	stored, err := svc.Persist(context.Background(), snap("s1", 0, flow.Answers{"age": 30}))
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if stored.Version != 1 {
		t.Errorf("expected version floor 1, got %d", stored.Version)
	}
	if stored.Origin != OriginServer {
		t.Errorf("stored snapshot should be marked server-origin, got %s", stored.Origin)
	}
}

func TestPersist_BumpsVersionOnChange(t *testing.T) {
	svc := NewService(newMemRepo())
	ctx := context.Background()

	first, err := svc.Persist(ctx, snap("s1", 0, flow.Answers{"age": 30}))
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Persist(ctx, snap("s1", first.Version, flow.Answers{"age": 31}))
	if err != nil {
		t.Fatal(err)
	}
	if second.Version != first.Version+1 {
		t.Errorf("expected version bump to %d, got %d", first.Version+1, second.Version)
	}
}

func TestPersist_IdenticalContentIsNoOp(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	ctx := context.Background()

	first, err := svc.Persist(ctx, snap("s1", 0, flow.Answers{"age": 30}))
	if err != nil {
		t.Fatal(err)
	}
	puts := repo.putCalls

	again, err := svc.Persist(ctx, snap("s1", first.Version, flow.Answers{"age": 30}))
	if err != nil {
		t.Fatal(err)
	}
	if again.Version != first.Version {
		t.Errorf("identical retry must not bump the version: %d -> %d", first.Version, again.Version)
	}
	if repo.putCalls != puts {
		t.Error("identical retry must not write")
	}
}

func TestPersist_StaleVersionConflicts(t *testing.T) {
	svc := NewService(newMemRepo())
	ctx := context.Background()

	if _, err := svc.Persist(ctx, snap("s1", 0, flow.Answers{"age": 30})); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Persist(ctx, snap("s1", 1, flow.Answers{"age": 31})); err != nil {
		t.Fatal(err)
	}

	_, err := svc.Persist(ctx, snap("s1", 1, flow.Answers{"age": 99}))
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.Stored == nil || conflict.Stored.Answers["age"] != 31 {
		t.Errorf("conflict must carry the stored copy, got %+v", conflict.Stored)
	}
}

func TestPersist_SubmittedDraftIsFrozen(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	ctx := context.Background()

	stored, err := svc.Persist(ctx, snap("s1", 0, flow.Answers{"age": 30}))
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.MarkSubmitted(ctx, "s1"); err != nil {
		t.Fatal(err)
	}

	_, err = svc.Persist(ctx, snap("s1", stored.Version, flow.Answers{"age": 31}))
	if !errors.Is(err, ErrSubmitted) {
		t.Errorf("expected ErrSubmitted, got %v", err)
	}
}

func TestResume(t *testing.T) {
	svc := NewService(newMemRepo())
	ctx := context.Background()

	if _, err := svc.Resume(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if _, err := svc.Persist(ctx, snap("s1", 0, flow.Answers{"age": 30})); err != nil {
		t.Fatal(err)
	}
	got, err := svc.Resume(ctx, "s1")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if got.Answers["age"] != 30 {
		t.Errorf("unexpected answers: %v", got.Answers)
	}
}

func TestResumeWith_LocalNewerWinsAndCatchesUp(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	ctx := context.Background()

	if _, err := svc.Persist(ctx, snap("s1", 0, flow.Answers{"age": 30})); err != nil {
		t.Fatal(err)
	}

	local := snap("s1", 5, flow.Answers{"age": 31, "notes": "offline edit"})
	got, err := svc.ResumeWith(ctx, "s1", local)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if got.Answers["notes"] != "offline edit" {
		t.Errorf("expected local copy to win, got %v", got.Answers)
	}

	// The durable store caught up with the local copy.
	server, err := repo.Get(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if server.Answers["notes"] != "offline edit" {
		t.Error("local winner was not persisted back")
	}
}

func TestResumeWith_ServerWinsOnTieOrNewer(t *testing.T) {
	svc := NewService(newMemRepo())
	ctx := context.Background()

	stored, err := svc.Persist(ctx, snap("s1", 0, flow.Answers{"age": 30}))
	if err != nil {
		t.Fatal(err)
	}

	// Equal version, diverged content: the server copy wins.
	local := snap("s1", stored.Version, flow.Answers{"age": 99})
	got, err := svc.ResumeWith(ctx, "s1", local)
	if err != nil {
		t.Fatal(err)
	}
	if got.Answers["age"] != 30 {
		t.Errorf("server copy must win a version tie, got %v", got.Answers)
	}
}

func TestResumeWith_NoCopiesAnywhere(t *testing.T) {
	svc := NewService(newMemRepo())
	if _, err := svc.ResumeWith(context.Background(), "missing", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestResolve(t *testing.T) {
	local := snap("s1", 3, flow.Answers{"a": 1})
	server := snap("s1", 3, flow.Answers{"a": 2})
	server.Origin = OriginServer

	if got := Resolve(nil, server); got != server {
		t.Error("nil local: server wins")
	}
	if got := Resolve(local, nil); got != local {
		t.Error("nil server: local wins")
	}
	if got := Resolve(local, server); got != server {
		t.Error("version tie: server wins")
	}
	local.Version = 4
	if got := Resolve(local, server); got != local {
		t.Error("higher local version wins")
	}
	server.Version = 9
	if got := Resolve(local, server); got != server {
		t.Error("higher server version wins")
	}
}

func TestSnapshotEqual(t *testing.T) {
	a := snap("s1", 1, flow.Answers{"x": 1, "list": []interface{}{"a", "b"}})
	b := snap("s1", 9, flow.Answers{"x": 1, "list": []interface{}{"a", "b"}})
	if !a.Equal(b) {
		t.Error("content-equal snapshots must compare equal regardless of version")
	}

	b.Answers["list"] = []interface{}{"a"}
	if a.Equal(b) {
		t.Error("different array answers must not compare equal")
	}

	c := snap("s1", 1, flow.Answers{"x": 1})
	if a.Equal(c) {
		t.Error("different answer sets must not compare equal")
	}
	if a.Equal(nil) {
		t.Error("nil never compares equal")
	}
}
