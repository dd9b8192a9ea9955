package coachsync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dsumanth/coach-me-sub008/remote"
	"github.com/stretchr/testify/require"
)

const testOwner = "user42"

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 1, hour, minute, 0, 0, time.UTC)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testClock is a settable clock shared by the repository and the in-memory remote
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{now: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// flakyRemote wraps a remote.Store with a switchable outage and scripted profile errors
type flakyRemote struct {
	remote.Store
	down atomic.Bool

	mu        sync.Mutex
	putErr    error
	beforePut func() // runs ahead of each delegated PutProfile, e.g. a racing writer
	puts      []json.RawMessage
	calls     map[string]int
}

func newFlakyRemote(store remote.Store) *flakyRemote {
	return &flakyRemote{Store: store, calls: make(map[string]int)}
}

func (f *flakyRemote) enter(name string) error {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
	if f.down.Load() {
		return fmt.Errorf("%w: simulated outage", ErrRemoteUnavailable)
	}
	return nil
}

func (f *flakyRemote) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *flakyRemote) setPutErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putErr = err
}

func (f *flakyRemote) setBeforePut(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforePut = fn
}

func (f *flakyRemote) putPayloads() []json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]json.RawMessage(nil), f.puts...)
}

func (f *flakyRemote) GetProfile(ctx context.Context, ownerID string) (*remote.Record, error) {
	if err := f.enter("GetProfile"); err != nil {
		return nil, err
	}
	return f.Store.GetProfile(ctx, ownerID)
}

func (f *flakyRemote) PutProfile(ctx context.Context, ownerID string, payload json.RawMessage, base *time.Time) (*remote.Record, error) {
	if err := f.enter("PutProfile"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	putErr, beforePut := f.putErr, f.beforePut
	f.mu.Unlock()
	if putErr != nil {
		return nil, putErr
	}
	if beforePut != nil {
		beforePut()
	}
	rec, err := f.Store.PutProfile(ctx, ownerID, payload, base)
	if err == nil {
		f.mu.Lock()
		f.puts = append(f.puts, append(json.RawMessage(nil), payload...))
		f.mu.Unlock()
	}
	return rec, err
}

func (f *flakyRemote) ListConversations(ctx context.Context, ownerID string) ([]remote.Record, error) {
	if err := f.enter("ListConversations"); err != nil {
		return nil, err
	}
	return f.Store.ListConversations(ctx, ownerID)
}

func (f *flakyRemote) ListMessages(ctx context.Context, ownerID, conversationID string) ([]remote.Record, error) {
	if err := f.enter("ListMessages"); err != nil {
		return nil, err
	}
	return f.Store.ListMessages(ctx, ownerID, conversationID)
}

func (f *flakyRemote) DeleteConversation(ctx context.Context, ownerID, conversationID string) error {
	if err := f.enter("DeleteConversation"); err != nil {
		return err
	}
	return f.Store.DeleteConversation(ctx, ownerID, conversationID)
}

func (f *flakyRemote) DeleteAllConversations(ctx context.Context, ownerID string) (int, error) {
	if err := f.enter("DeleteAllConversations"); err != nil {
		return 0, err
	}
	return f.Store.DeleteAllConversations(ctx, ownerID)
}

func newTestReplica(t *testing.T) (*Replica, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replica.db")
	r, err := OpenReplica(path, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, path
}

type harness struct {
	t       *testing.T
	ctx     context.Context
	clock   *testClock
	store   *remote.MemoryStore
	remote  *flakyRemote
	reach   *Signal
	replica *Replica
	repo    *Repository
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := newTestClock(at(9, 0))
	store := remote.NewMemoryStore(clock.Now)
	flaky := newFlakyRemote(store)
	reach := NewSignal(true)
	replica, _ := newTestReplica(t)

	cfg := DefaultConfig()
	cfg.Now = clock.Now
	cfg.Logger = discardLogger()
	cfg.RemoteTimeout = 2 * time.Second
	repo, err := NewRepository(testOwner, replica, flaky, reach, cfg)
	require.NoError(t, err)

	return &harness{
		t:       t,
		ctx:     context.Background(),
		clock:   clock,
		store:   store,
		remote:  flaky,
		reach:   reach,
		replica: replica,
		repo:    repo,
	}
}

// offline cuts both the signal and the remote
func (h *harness) offline() {
	h.reach.Set(false)
	h.remote.down.Store(true)
}

func (h *harness) online() {
	h.remote.down.Store(false)
	h.reach.Set(true)
}

func (h *harness) queueLen() int {
	h.t.Helper()
	n, err := h.repo.Queue().Len(h.ctx)
	require.NoError(h.t, err)
	return n
}

func (h *harness) conflicts() []ConflictLogEntry {
	h.t.Helper()
	entries, err := h.repo.ConflictLog(h.ctx, 0)
	require.NoError(h.t, err)
	return entries
}

func (h *harness) createConversation(id, title string) *remote.Record {
	h.t.Helper()
	rec, err := h.store.CreateConversation(h.ctx, testOwner, id, json.RawMessage(fmt.Sprintf(`{"title":%q}`, title)))
	require.NoError(h.t, err)
	return rec
}

func (h *harness) appendMessage(convID, id, role, content string) *remote.Record {
	h.t.Helper()
	payload := fmt.Sprintf(`{"role":%q,"content":%q}`, role, content)
	rec, err := h.store.AppendMessage(h.ctx, testOwner, convID, id, json.RawMessage(payload))
	require.NoError(h.t, err)
	return rec
}

// drainEvents collects whatever is buffered on the events channel
func drainEvents(r *Repository) []WriteEvent {
	var out []WriteEvent
	for {
		select {
		case ev := <-r.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}
