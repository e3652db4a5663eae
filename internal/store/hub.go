package store

import (
	"context"
	"sync"
	"time"
)

const (
	TableJobs         = "jobs"
	TablePhaseChanges = "job_phase_changes"
)

type Kind string

const (
	KindInsert Kind = "INSERT"
	KindUpdate Kind = "UPDATE"
	KindDelete Kind = "DELETE"
	// KindResync says events may have been missed upstream. Every
	// subscription is told it lost events, whatever its filter.
	KindResync Kind = "RESYNC"
)

// ChangeEvent is one row-level change. For the jobs table RowID == JobID and
// PhaseID/OldPhaseID are the row's new and previous current_phase_id. For
// job_phase_changes they are the to and from phases of the transition.
type ChangeEvent struct {
	Table      string    `json:"table"`
	Kind       Kind      `json:"kind"`
	RowID      string    `json:"row_id"`
	JobID      string    `json:"job_id"`
	PhaseID    string    `json:"phase_id,omitempty"`
	OldPhaseID string    `json:"old_phase_id,omitempty"`
	At         time.Time `json:"at"`
}

// ChangeFilter scopes a subscription. Empty Kinds means every kind; empty
// PhaseIDs means every phase. A phase scope matches when either the new or
// the old phase of the event is in the set.
type ChangeFilter struct {
	Table    string
	Kinds    []Kind
	PhaseIDs []string
}

func (f ChangeFilter) Matches(ev ChangeEvent) bool {
	if f.Table != "" && f.Table != ev.Table {
		return false
	}
	if len(f.Kinds) > 0 {
		ok := false
		for _, k := range f.Kinds {
			if k == ev.Kind {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.PhaseIDs) == 0 {
		return true
	}
	for _, id := range f.PhaseIDs {
		if id == "" {
			continue
		}
		if id == ev.PhaseID || id == ev.OldPhaseID {
			return true
		}
	}
	return false
}

const subscriptionBuffer = 64

// Subscription delivers matching events on C until Unsubscribe is called or
// the subscribe context is done. When the buffer is full the event is
// dropped and Lost fires once, so the owner knows to resync.
type Subscription struct {
	C <-chan ChangeEvent

	ch     chan ChangeEvent
	lost   chan struct{}
	filter ChangeFilter
	hub    *Hub
	once   sync.Once
	stop   func() bool
}

func (s *Subscription) Lost() <-chan struct{} { return s.lost }

func (s *Subscription) markLost() {
	select {
	case s.lost <- struct{}{}:
	default:
	}
}

func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
		s.hub.remove(s)
	})
}

// Hub fans change events out to subscribers. Sends never block the
// publisher.
type Hub struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

func (h *Hub) Subscribe(ctx context.Context, f ChangeFilter) *Subscription {
	ch := make(chan ChangeEvent, subscriptionBuffer)
	s := &Subscription{
		C:      ch,
		ch:     ch,
		lost:   make(chan struct{}, 1),
		filter: f,
		hub:    h,
	}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	s.stop = context.AfterFunc(ctx, s.Unsubscribe)
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.ch)
}

func (h *Hub) Publish(ev ChangeEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if ev.Kind == KindResync {
			s.markLost()
			continue
		}
		if !s.filter.Matches(ev) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			s.markLost()
		}
	}
}

// Len reports the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
