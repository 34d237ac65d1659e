package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gatewright/gatewright/internal/domain"
	"github.com/gatewright/gatewright/internal/domain/ticket"
	"github.com/gatewright/gatewright/internal/domain/workflow"
	"github.com/gatewright/gatewright/internal/port/collaborator"
	"github.com/gatewright/gatewright/internal/port/messagequeue"
	"github.com/gatewright/gatewright/internal/port/tracker"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func cloneInstance(in *workflow.Instance) *workflow.Instance {
	data, err := json.Marshal(in)
	if err != nil {
		panic(err)
	}
	var out workflow.Instance
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return &out
}

// fakeStore is an in-memory Store with the same optimistic-versioning
// contract as the postgres adapter.
type fakeStore struct {
	mu        sync.Mutex
	instances map[string]*workflow.Instance
	tickets   []*ticket.Record

	// beforeUpdate, when set, runs once under the lock before the next
	// UpdateInstance applies. Tests use it to race a concurrent writer.
	beforeUpdate func(s *fakeStore)
}

func newFakeStore() *fakeStore {
	return &fakeStore{instances: make(map[string]*workflow.Instance)}
}

func (s *fakeStore) CreateInstance(_ context.Context, in *workflow.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in.Version = 1
	s.instances[in.ID] = cloneInstance(in)
	return nil
}

func (s *fakeStore) GetInstance(_ context.Context, id string) (*workflow.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.instances[id]
	if !ok {
		return nil, fmt.Errorf("instance %s: %w", id, domain.ErrNotFound)
	}
	return cloneInstance(in), nil
}

func (s *fakeStore) GetActiveInstanceByChange(_ context.Context, changeKey string) (*workflow.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, in := range s.instances {
		if in.Change.Key() == changeKey && !in.Status.IsTerminal() {
			return cloneInstance(in), nil
		}
	}
	return nil, fmt.Errorf("active instance for %s: %w", changeKey, domain.ErrNotFound)
}

func (s *fakeStore) ListActiveInstances(_ context.Context) ([]workflow.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []workflow.Instance
	for _, in := range s.instances {
		if !in.Status.IsTerminal() {
			out = append(out, *cloneInstance(in))
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateInstance(_ context.Context, in *workflow.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.beforeUpdate != nil {
		hook := s.beforeUpdate
		s.beforeUpdate = nil
		hook(s)
	}
	stored, ok := s.instances[in.ID]
	if !ok {
		return fmt.Errorf("instance %s: %w", in.ID, domain.ErrNotFound)
	}
	if stored.Version != in.Version {
		return fmt.Errorf("instance %s at version %d: %w", in.ID, in.Version, domain.ErrConflict)
	}
	in.Version++
	s.instances[in.ID] = cloneInstance(in)
	return nil
}

func (s *fakeStore) CreateTicketRecord(_ context.Context, r *ticket.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tickets {
		if existing.Open && existing.ChangeKey == r.ChangeKey && existing.Category == r.Category {
			return fmt.Errorf("open ticket for %s/%s: %w", r.ChangeKey, r.Category, domain.ErrConflict)
		}
	}
	cp := *r
	s.tickets = append(s.tickets, &cp)
	return nil
}

func (s *fakeStore) GetOpenTicketRecord(_ context.Context, changeKey, category string) (*ticket.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.tickets {
		if r.Open && r.ChangeKey == changeKey && r.Category == category {
			cp := *r
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("open ticket for %s/%s: %w", changeKey, category, domain.ErrNotFound)
}

// fakeInvoker returns scripted responses in order, repeating the last one.
type fakeInvoker struct {
	name  string
	mu    sync.Mutex
	calls int
	steps []func(ctx context.Context) (*collaborator.Response, error)
}

func respondWith(verdict string, findings ...workflow.Finding) func(context.Context) (*collaborator.Response, error) {
	return func(context.Context) (*collaborator.Response, error) {
		return &collaborator.Response{Verdict: verdict, Findings: findings}, nil
	}
}

func failWith(err error) func(context.Context) (*collaborator.Response, error) {
	return func(context.Context) (*collaborator.Response, error) { return nil, err }
}

func (f *fakeInvoker) Name() string { return f.name }

func (f *fakeInvoker) Invoke(ctx context.Context, _ collaborator.Request) (*collaborator.Response, error) {
	f.mu.Lock()
	i := f.calls
	f.calls++
	if i >= len(f.steps) {
		i = len(f.steps) - 1
	}
	fn := f.steps[i]
	f.mu.Unlock()
	return fn(ctx)
}

func (f *fakeInvoker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeTracker records created tickets and comments; failing toggles outage.
type fakeTracker struct {
	mu       sync.Mutex
	failing  bool
	nextKey  int
	created  []*tracker.Ticket
	comments map[string][]string
	identity map[string]string
	owners   map[string]string
	// open tickets by change/category label pair
	open map[string]string
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		comments: make(map[string][]string),
		identity: make(map[string]string),
		owners:   make(map[string]string),
		open:     make(map[string]string),
	}
}

var errTrackerDown = errors.New("tracker unavailable")

func (f *fakeTracker) CreateTicket(_ context.Context, t *tracker.Ticket) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return "", errTrackerDown
	}
	f.nextKey++
	key := fmt.Sprintf("REV-%d", f.nextKey)
	cp := *t
	f.created = append(f.created, &cp)
	return key, nil
}

func (f *fakeTracker) SearchOpenTicket(_ context.Context, changeKey, category string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return "", errTrackerDown
	}
	return f.open[changeKey+"/"+category], nil
}

func (f *fakeTracker) AddComment(_ context.Context, key, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errTrackerDown
	}
	f.comments[key] = append(f.comments[key], text)
	return nil
}

func (f *fakeTracker) ResolveIdentity(_ context.Context, contact string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return "", errTrackerDown
	}
	return f.identity[contact], nil
}

func (f *fakeTracker) ComponentOwner(_ context.Context, component string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return "", errTrackerDown
	}
	return f.owners[component], nil
}

func (f *fakeTracker) CreateRemoteLink(context.Context, string, string, string) error {
	return nil
}

func (f *fakeTracker) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *fakeTracker) setFailing(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = v
}

// fakeQueue records published messages and registered handlers.
type fakeQueue struct {
	mu        sync.Mutex
	published map[string][][]byte
	handlers  map[string]messagequeue.Handler
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		published: make(map[string][][]byte),
		handlers:  make(map[string]messagequeue.Handler),
	}
}

func (q *fakeQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	q.published[subject] = append(q.published[subject], cp)
	return nil
}

func (q *fakeQueue) Subscribe(_ context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[subject] = handler
	return func() {}, nil
}

func (q *fakeQueue) Drain() error { return nil }

func (q *fakeQueue) Close() error { return nil }

func (q *fakeQueue) IsConnected() bool { return true }

func (q *fakeQueue) messages(subject string) [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.published[subject]
}

// fakeSurface records posted comments and status checks.
type fakeSurface struct {
	mu       sync.Mutex
	comments []string
	statuses []string
}

func (f *fakeSurface) PostSummaryComment(_ context.Context, _ workflow.ChangeRef, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments = append(f.comments, body)
	return nil
}

func (f *fakeSurface) SetStatusCheck(_ context.Context, _ workflow.ChangeRef, state, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, state)
	return nil
}

func (f *fakeSurface) lastStatus() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return ""
	}
	return f.statuses[len(f.statuses)-1]
}

// fakeCache is a TTL-ignoring in-memory cache.
type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeCache() *fakeCache { return &fakeCache{data: make(map[string][]byte)} }

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// nopHub satisfies broadcast.Broadcaster.
type nopHub struct{}

func (nopHub) BroadcastEvent(context.Context, string, any) {}
