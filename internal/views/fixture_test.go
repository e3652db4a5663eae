package views

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"paintops/internal/jobs"
	"paintops/internal/phases"
	"paintops/internal/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 6, 15, 14, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// tick returns a clock that moves one second per call, for store stamps.
func tick(start time.Time) func() time.Time {
	var mu sync.Mutex
	t := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

// spyStore counts and optionally fails or blocks reads of the wrapped store.
type spyStore struct {
	store.Store

	lists atomic.Int32
	gets  atomic.Int32

	mu      sync.Mutex
	listErr error
	getErr  error
	block   chan struct{}
	stall   *stall
}

// stall holds the next list call after it has read the store.
type stall struct {
	snapped chan struct{}
	release chan struct{}
}

func (s *spyStore) failLists(err error) {
	s.mu.Lock()
	s.listErr = err
	s.mu.Unlock()
}

func (s *spyStore) failGets(err error) {
	s.mu.Lock()
	s.getErr = err
	s.mu.Unlock()
}

func (s *spyStore) blockLists() chan struct{} {
	ch := make(chan struct{})
	s.mu.Lock()
	s.block = ch
	s.mu.Unlock()
	return ch
}

// stallAfterRead makes the next list call return a result read now but
// delivered only once release is closed.
func (s *spyStore) stallAfterRead() *stall {
	st := &stall{snapped: make(chan struct{}), release: make(chan struct{})}
	s.mu.Lock()
	s.stall = st
	s.mu.Unlock()
	return st
}

func (s *spyStore) ListJobs(ctx context.Context, f store.Filter) ([]jobs.Record, error) {
	s.lists.Add(1)
	s.mu.Lock()
	block, err, st := s.block, s.listErr, s.stall
	s.stall = nil
	s.mu.Unlock()
	if st != nil {
		recs, err := s.Store.ListJobs(ctx, f)
		close(st.snapped)
		select {
		case <-st.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return recs, err
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return s.Store.ListJobs(ctx, f)
}

func (s *spyStore) GetJob(ctx context.Context, id string) (jobs.Record, error) {
	s.gets.Add(1)
	s.mu.Lock()
	err := s.getErr
	s.mu.Unlock()
	if err != nil {
		return jobs.Record{}, err
	}
	return s.Store.GetJob(ctx, id)
}

type fixture struct {
	mem    *store.Memory
	spy    *spyStore
	dir    *phases.Directory
	phase  map[string]string
	clock  *fakeClock
	prop   jobs.Property
	ctx    context.Context
	cancel context.CancelFunc
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	mem.Clock = tick(time.Date(2026, 6, 15, 8, 0, 0, 0, time.UTC))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, phases.Seed(ctx, mem))
	all, err := mem.ListPhases(ctx)
	require.NoError(t, err)
	ids := make(map[string]string, len(all))
	for _, p := range all {
		ids[p.Label] = p.ID
	}

	spy := &spyStore{Store: mem}
	return &fixture{
		mem:    mem,
		spy:    spy,
		dir:    phases.NewDirectory(spy),
		phase:  ids,
		clock:  newFakeClock(),
		prop:   mem.PutProperty(jobs.Property{Name: "Harbor View", Address: "1 Pier Rd"}),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (f *fixture) opts() Options {
	return Options{
		Throttle:  2 * time.Second,
		Debounce:  20 * time.Millisecond,
		BucketCap: 4,
		Location:  time.UTC,
		Now:       f.clock.Now,
	}
}

func (f *fixture) insert(t *testing.T, label string) jobs.Record {
	t.Helper()
	r, err := f.mem.InsertJob(f.ctx, jobs.Record{CurrentPhaseID: f.phase[label], PropertyID: f.prop.ID})
	require.NoError(t, err)
	return r
}

func (f *fixture) move(t *testing.T, r jobs.Record, label string) jobs.Record {
	t.Helper()
	r.CurrentPhaseID = f.phase[label]
	out, err := f.mem.UpdateJob(f.ctx, r)
	require.NoError(t, err)
	return out
}

func waitReady(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("view never became ready")
	}
}

func ids(list []jobs.Job) []string {
	out := make([]string, 0, len(list))
	for _, j := range list {
		out = append(out, j.ID)
	}
	return out
}
