package views

import (
	"time"

	"paintops/internal/jobs"
)

// Bucket is one capped, ordered dashboard projection. The dashboard patches
// it from two streams: job rows (Route) and phase transitions (Transition).
type Bucket struct {
	Name   string
	Labels []string
	Order  jobs.Order
	Cap    int
	// Window, when set, restricts members to jobs scheduled in [from, to).
	Window func() (from, to time.Time)

	phaseIDs map[string]bool
	items    []jobs.Job
}

func NewBucket(name string, labels []string, order jobs.Order, limit int) *Bucket {
	return &Bucket{Name: name, Labels: labels, Order: order, Cap: limit, phaseIDs: map[string]bool{}}
}

// Bind sets the resolved phase ids the bucket accepts.
func (b *Bucket) Bind(ids []string) {
	b.phaseIDs = make(map[string]bool, len(ids))
	for _, id := range ids {
		b.phaseIDs[id] = true
	}
}

func (b *Bucket) PhaseIDs() []string {
	out := make([]string, 0, len(b.phaseIDs))
	for id := range b.phaseIDs {
		out = append(out, id)
	}
	return out
}

func (b *Bucket) Holds(phaseID string) bool { return b.phaseIDs[phaseID] }

func (b *Bucket) Jobs() []jobs.Job { return append([]jobs.Job(nil), b.items...) }

func (b *Bucket) Matches(j jobs.Job) bool {
	if !b.phaseIDs[j.PhaseID] {
		return false
	}
	if b.Window == nil {
		return true
	}
	if j.ScheduledDate == nil {
		return false
	}
	from, to := b.Window()
	return !j.ScheduledDate.Before(from) && j.ScheduledDate.Before(to)
}

// Reset replaces the contents with list, sorted and capped.
func (b *Bucket) Reset(list []jobs.Job) {
	b.items = append([]jobs.Job(nil), list...)
	b.settle()
}

// Upsert inserts or replaces j, then re-sorts and re-caps.
func (b *Bucket) Upsert(j jobs.Job) {
	if i := jobs.IndexOf(b.items, j.ID); i >= 0 {
		b.items[i] = j
	} else {
		b.items = append(b.items, j)
	}
	b.settle()
}

func (b *Bucket) Evict(id string) bool {
	i := jobs.IndexOf(b.items, id)
	if i < 0 {
		return false
	}
	b.items = append(b.items[:i:i], b.items[i+1:]...)
	return true
}

// Route applies a fresh row: upsert when it belongs here, evict otherwise.
func (b *Bucket) Route(j jobs.Job) {
	if b.Matches(j) {
		b.Upsert(j)
		return
	}
	b.Evict(j.ID)
}

// Transition evicts jobID when it moved from a phase this bucket holds to
// one it does not. It reports whether the job was evicted.
func (b *Bucket) Transition(jobID, from, to string) bool {
	if !b.phaseIDs[from] || b.phaseIDs[to] {
		return false
	}
	return b.Evict(jobID)
}

func (b *Bucket) settle() {
	b.Order.Sort(b.items)
	if b.Cap > 0 && len(b.items) > b.Cap {
		b.items = b.items[:b.Cap]
	}
}

// BusinessDay returns the UTC bounds of the calendar day containing now in
// loc.
func BusinessDay(now time.Time, loc *time.Location) (time.Time, time.Time) {
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)
	return start.UTC(), end.UTC()
}
