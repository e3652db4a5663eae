package store

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"paintops/internal/jobs"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means a row was no longer in the phase the caller expected.
	ErrConflict = errors.New("conflict")
)

// Filter selects jobs for a view query. Empty PhaseIDs matches nothing.
type Filter struct {
	PhaseIDs      []string
	ScheduledFrom *time.Time // inclusive
	ScheduledTo   *time.Time // exclusive
	Order         jobs.Order
	Limit         int
}

// Store is the remote job collection every view reads from and the bulk
// controller writes to.
type Store interface {
	ListPhases(ctx context.Context) ([]jobs.Phase, error)
	FindPhases(ctx context.Context, labels []string) ([]jobs.Phase, error)
	CreatePhase(ctx context.Context, p jobs.Phase) (jobs.Phase, error)

	ListJobs(ctx context.Context, f Filter) ([]jobs.Record, error)
	GetJob(ctx context.Context, id string) (jobs.Record, error)
	GetJobs(ctx context.Context, ids []string) ([]jobs.Record, error)

	InsertJob(ctx context.Context, r jobs.Record) (jobs.Record, error)
	UpdateJob(ctx context.Context, r jobs.Record) (jobs.Record, error)

	// TransitionPhases moves every job from its FromPhaseID to its ToPhaseID
	// and appends the change records, all or nothing. A job that is not in
	// FromPhaseID any more fails the batch with ErrConflict.
	TransitionPhases(ctx context.Context, changes []jobs.PhaseChange) error

	// DeleteJobs removes the jobs only if every one of them is still in
	// phaseID. Otherwise nothing is deleted and ErrConflict is returned.
	DeleteJobs(ctx context.Context, ids []string, phaseID string) error

	ListPhaseChanges(ctx context.Context, jobID string) ([]jobs.PhaseChange, error)

	Subscribe(ctx context.Context, f ChangeFilter) (*Subscription, error)
}

// matches is the in-process version of the Filter predicate.
func (f Filter) matches(r jobs.Record) bool {
	found := false
	for _, id := range f.PhaseIDs {
		if id == r.CurrentPhaseID {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	if f.ScheduledFrom == nil && f.ScheduledTo == nil {
		return true
	}
	if r.ScheduledDate == nil {
		return false
	}
	if f.ScheduledFrom != nil && r.ScheduledDate.Before(*f.ScheduledFrom) {
		return false
	}
	if f.ScheduledTo != nil && !r.ScheduledDate.Before(*f.ScheduledTo) {
		return false
	}
	return true
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Postgres)(nil)
)
