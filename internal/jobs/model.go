package jobs

import (
	"time"

	"paintops/internal/auth"
)

// Phase is a named, colored stage of the job lifecycle.
type Phase struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	Label     string    `gorm:"uniqueIndex;not null" json:"label"`
	Color     string    `gorm:"not null;default:''" json:"color"`
	SortOrder int       `gorm:"not null;default:0" json:"sort_order"`
	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (Phase) TableName() string { return "job_phases" }

type Property struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"not null"`
	Address   string    `gorm:"not null;default:''"`
	CreatedAt time.Time `gorm:"not null;default:now()"`
}

type JobType struct {
	ID    string `gorm:"type:uuid;primaryKey"`
	Label string `gorm:"uniqueIndex;not null"`
}

// Record is the stored job row. Phase, Property, JobType and Assignee are
// one-to-one joins filled by the store on reads.
type Record struct {
	ID             string     `gorm:"type:uuid;primaryKey"`
	WorkOrderNum   int64      `gorm:"->;type:bigserial;uniqueIndex"`
	UnitNumber     string     `gorm:"not null;default:''"`
	ScheduledDate  *time.Time `gorm:"type:timestamptz;index"`
	CurrentPhaseID string     `gorm:"type:uuid;index;not null"`
	PropertyID     string     `gorm:"type:uuid;index;not null"`
	JobTypeID      string     `gorm:"type:uuid;index;not null"`
	AssignedTo     *string    `gorm:"type:uuid;index"`

	TotalBillingAmount *float64   `gorm:"type:numeric(12,2)"`
	InvoiceSent        *bool
	InvoicePaid        *bool
	InvoiceSentDate    *time.Time `gorm:"type:timestamptz"`
	InvoicePaidDate    *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"index;not null;default:now()"`
	UpdatedAt time.Time `gorm:"index;not null;default:now()"`

	Phase    *Phase     `gorm:"foreignKey:CurrentPhaseID"`
	Property *Property  `gorm:"foreignKey:PropertyID"`
	JobType  *JobType   `gorm:"foreignKey:JobTypeID"`
	Assignee *auth.User `gorm:"foreignKey:AssignedTo"`
}

func (Record) TableName() string { return "jobs" }

// PhaseChange is append-only. It is never updated, and it outlives the job
// it describes (no foreign key to jobs).
type PhaseChange struct {
	ID          string    `gorm:"type:uuid;primaryKey" json:"id"`
	JobID       string    `gorm:"type:uuid;index;not null" json:"job_id"`
	FromPhaseID string    `gorm:"type:uuid;not null" json:"from_phase_id"`
	ToPhaseID   string    `gorm:"type:uuid;not null" json:"to_phase_id"`
	ChangedBy   string    `gorm:"type:text;not null" json:"changed_by"`
	Reason      string    `gorm:"type:text;not null;default:''" json:"reason"`
	CreatedAt   time.Time `gorm:"index;not null;default:now()" json:"created_at"`
}

func (PhaseChange) TableName() string { return "job_phase_changes" }
