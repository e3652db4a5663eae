package feed

import (
	"time"

	"paintops/internal/store"
)

const (
	StatusPending = "PENDING"
	StatusRunning = "RUNNING"
	StatusDone    = "DONE"
	StatusFailed  = "FAILED"
)

// Entry is one row of the change_events outbox. Rows are written by
// triggers on jobs and job_phase_changes.
type Entry struct {
	ID uint64 `gorm:"primaryKey"`

	SourceTable string  `gorm:"type:text;not null"`
	Op          string  `gorm:"type:text;not null"` // INSERT/UPDATE/DELETE
	RowID       string  `gorm:"type:uuid;not null"`
	JobID       string  `gorm:"type:uuid;index;not null"`
	PhaseID     *string `gorm:"type:uuid"`
	OldPhaseID  *string `gorm:"type:uuid"`

	RunAt  time.Time `gorm:"index;not null;default:now()"`
	Status string    `gorm:"index;not null;default:'PENDING'"`

	Attempts    int `gorm:"not null;default:0"`
	MaxAttempts int `gorm:"not null;default:8"`

	LockedBy *string    `gorm:"type:text"`
	LockedAt *time.Time `gorm:"type:timestamptz"`

	LastError *string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null;default:now()"`
	UpdatedAt time.Time `gorm:"not null;default:now()"`
}

func (Entry) TableName() string { return "change_events" }

func (e Entry) Event() store.ChangeEvent {
	ev := store.ChangeEvent{
		Table: e.SourceTable,
		Kind:  store.Kind(e.Op),
		RowID: e.RowID,
		JobID: e.JobID,
		At:    e.CreatedAt,
	}
	if e.PhaseID != nil {
		ev.PhaseID = *e.PhaseID
	}
	if e.OldPhaseID != nil {
		ev.OldPhaseID = *e.OldPhaseID
	}
	return ev
}
