package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"paintops/internal/auth"
	"paintops/internal/jobs"
)

// Memory is an in-process Store. Joins are filled on read and every write
// is published on the hub, so it behaves like the Postgres store with its
// change feed attached.
type Memory struct {
	// Clock stamps created_at/updated_at. Defaults to time.Now.
	Clock func() time.Time

	mu         sync.RWMutex
	phases     map[string]jobs.Phase
	properties map[string]jobs.Property
	jobTypes   map[string]jobs.JobType
	users      map[string]auth.User
	rows       map[string]jobs.Record
	changes    []jobs.PhaseChange
	seq        int64

	hub *Hub
}

func NewMemory() *Memory {
	return &Memory{
		Clock:      time.Now,
		phases:     make(map[string]jobs.Phase),
		properties: make(map[string]jobs.Property),
		jobTypes:   make(map[string]jobs.JobType),
		users:      make(map[string]auth.User),
		rows:       make(map[string]jobs.Record),
		hub:        NewHub(),
	}
}

func (m *Memory) Hub() *Hub { return m.hub }

func (m *Memory) now() time.Time {
	if m.Clock == nil {
		return time.Now().UTC()
	}
	return m.Clock().UTC()
}

func (m *Memory) PutProperty(p jobs.Property) jobs.Property {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.now()
	}
	m.properties[p.ID] = p
	return p
}

func (m *Memory) PutJobType(t jobs.JobType) jobs.JobType {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobTypes[t.ID] = t
	return t
}

func (m *Memory) PutUser(u auth.User) auth.User {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return u
}

func (m *Memory) ListPhases(ctx context.Context) ([]jobs.Phase, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]jobs.Phase, 0, len(m.phases))
	for _, p := range m.phases {
		out = append(out, p)
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].SortOrder != out[k].SortOrder {
			return out[i].SortOrder < out[k].SortOrder
		}
		return out[i].Label < out[k].Label
	})
	return out, nil
}

func (m *Memory) FindPhases(ctx context.Context, labels []string) ([]jobs.Phase, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(labels))
	for _, l := range labels {
		want[l] = true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []jobs.Phase
	for _, p := range m.phases {
		if want[p.Label] {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) CreatePhase(ctx context.Context, p jobs.Phase) (jobs.Phase, error) {
	if err := ctx.Err(); err != nil {
		return jobs.Phase{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.phases {
		if existing.Label == p.Label {
			return jobs.Phase{}, errors.Wrapf(ErrConflict, "phase %q exists", p.Label)
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.now()
	}
	m.phases[p.ID] = p
	return p, nil
}

// joined must be called with m.mu held.
func (m *Memory) joined(r jobs.Record) jobs.Record {
	if p, ok := m.phases[r.CurrentPhaseID]; ok {
		r.Phase = &p
	}
	if p, ok := m.properties[r.PropertyID]; ok {
		r.Property = &p
	}
	if t, ok := m.jobTypes[r.JobTypeID]; ok {
		r.JobType = &t
	}
	if r.AssignedTo != nil {
		if u, ok := m.users[*r.AssignedTo]; ok {
			r.Assignee = &u
		}
	}
	return r
}

func (m *Memory) ListJobs(ctx context.Context, f Filter) ([]jobs.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	var out []jobs.Record
	for _, r := range m.rows {
		if f.matches(r) {
			out = append(out, m.joined(r))
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, k int) bool {
		return f.Order.Less(jobs.FromRecord(out[i]), jobs.FromRecord(out[k]))
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) GetJob(ctx context.Context, id string) (jobs.Record, error) {
	if err := ctx.Err(); err != nil {
		return jobs.Record{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rows[id]
	if !ok {
		return jobs.Record{}, errors.Wrapf(ErrNotFound, "job %s", id)
	}
	return m.joined(r), nil
}

func (m *Memory) GetJobs(ctx context.Context, ids []string) ([]jobs.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]jobs.Record, 0, len(ids))
	for _, id := range ids {
		if r, ok := m.rows[id]; ok {
			out = append(out, m.joined(r))
		}
	}
	return out, nil
}

func (m *Memory) InsertJob(ctx context.Context, r jobs.Record) (jobs.Record, error) {
	if err := ctx.Err(); err != nil {
		return jobs.Record{}, err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.Phase, r.Property, r.JobType, r.Assignee = nil, nil, nil, nil

	m.mu.Lock()
	if _, ok := m.rows[r.ID]; ok {
		m.mu.Unlock()
		return jobs.Record{}, errors.Wrapf(ErrConflict, "job %s exists", r.ID)
	}
	now := m.now()
	m.seq++
	r.WorkOrderNum = m.seq
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	m.rows[r.ID] = r
	out := m.joined(r)
	m.mu.Unlock()

	m.hub.Publish(ChangeEvent{
		Table: TableJobs, Kind: KindInsert, RowID: r.ID, JobID: r.ID,
		PhaseID: r.CurrentPhaseID, At: now,
	})
	return out, nil
}

// UpdateJob replaces the stored row. WorkOrderNum and CreatedAt are kept.
func (m *Memory) UpdateJob(ctx context.Context, r jobs.Record) (jobs.Record, error) {
	if err := ctx.Err(); err != nil {
		return jobs.Record{}, err
	}
	r.Phase, r.Property, r.JobType, r.Assignee = nil, nil, nil, nil

	m.mu.Lock()
	prev, ok := m.rows[r.ID]
	if !ok {
		m.mu.Unlock()
		return jobs.Record{}, errors.Wrapf(ErrNotFound, "job %s", r.ID)
	}
	now := m.now()
	r.WorkOrderNum = prev.WorkOrderNum
	r.CreatedAt = prev.CreatedAt
	r.UpdatedAt = now
	m.rows[r.ID] = r
	out := m.joined(r)
	m.mu.Unlock()

	m.hub.Publish(ChangeEvent{
		Table: TableJobs, Kind: KindUpdate, RowID: r.ID, JobID: r.ID,
		PhaseID: r.CurrentPhaseID, OldPhaseID: prev.CurrentPhaseID, At: now,
	})
	return out, nil
}

func (m *Memory) TransitionPhases(ctx context.Context, changes []jobs.PhaseChange) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(changes) == 0 {
		return nil
	}

	m.mu.Lock()
	for _, c := range changes {
		r, ok := m.rows[c.JobID]
		if !ok || r.CurrentPhaseID != c.FromPhaseID {
			m.mu.Unlock()
			return errors.Wrapf(ErrConflict, "job %s is no longer in phase %s", c.JobID, c.FromPhaseID)
		}
	}

	now := m.now()
	events := make([]ChangeEvent, 0, 2*len(changes))
	for i := range changes {
		c := &changes[i]
		r := m.rows[c.JobID]
		r.CurrentPhaseID = c.ToPhaseID
		r.UpdatedAt = now
		m.rows[c.JobID] = r

		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.CreatedAt = now
		m.changes = append(m.changes, *c)

		events = append(events,
			ChangeEvent{
				Table: TableJobs, Kind: KindUpdate, RowID: c.JobID, JobID: c.JobID,
				PhaseID: c.ToPhaseID, OldPhaseID: c.FromPhaseID, At: now,
			},
			ChangeEvent{
				Table: TablePhaseChanges, Kind: KindInsert, RowID: c.ID, JobID: c.JobID,
				PhaseID: c.ToPhaseID, OldPhaseID: c.FromPhaseID, At: now,
			},
		)
	}
	m.mu.Unlock()

	for _, ev := range events {
		m.hub.Publish(ev)
	}
	return nil
}

func (m *Memory) DeleteJobs(ctx context.Context, ids []string, phaseID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	for _, id := range ids {
		r, ok := m.rows[id]
		if !ok || r.CurrentPhaseID != phaseID {
			m.mu.Unlock()
			return errors.Wrapf(ErrConflict, "job %s is not in phase %s", id, phaseID)
		}
	}
	now := m.now()
	for _, id := range ids {
		delete(m.rows, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.hub.Publish(ChangeEvent{
			Table: TableJobs, Kind: KindDelete, RowID: id, JobID: id,
			OldPhaseID: phaseID, At: now,
		})
	}
	return nil
}

func (m *Memory) ListPhaseChanges(ctx context.Context, jobID string) ([]jobs.PhaseChange, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []jobs.PhaseChange
	for i := len(m.changes) - 1; i >= 0; i-- {
		if m.changes[i].JobID == jobID {
			out = append(out, m.changes[i])
		}
	}
	return out, nil
}

func (m *Memory) Subscribe(ctx context.Context, f ChangeFilter) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.hub.Subscribe(ctx, f), nil
}
