package jobs

import "time"

// Job is the denormalized shape handed to views and clients.
type Job struct {
	ID            string     `json:"id"`
	WorkOrderNum  int64      `json:"work_order_num"`
	UnitNumber    string     `json:"unit_number"`
	ScheduledDate *time.Time `json:"scheduled_date"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	PhaseID    string `json:"phase_id"`
	PhaseLabel string `json:"phase_label"`
	PhaseColor string `json:"phase_color"`

	PropertyID      string `json:"property_id"`
	PropertyName    string `json:"property_name"`
	PropertyAddress string `json:"property_address"`

	JobTypeID    string `json:"job_type_id"`
	JobTypeLabel string `json:"job_type_label"`

	AssigneeID   *string `json:"assignee_id"`
	AssigneeName string  `json:"assignee_name"`

	TotalBillingAmount *float64   `json:"total_billing_amount"`
	InvoiceSent        *bool      `json:"invoice_sent"`
	InvoicePaid        *bool      `json:"invoice_paid"`
	InvoiceSentDate    *time.Time `json:"invoice_sent_date"`
	InvoicePaidDate    *time.Time `json:"invoice_paid_date"`
}

// FromRecord flattens the joined sub-objects of a stored row. Missing joins
// leave the corresponding display fields empty.
func FromRecord(r Record) Job {
	j := Job{
		ID:                 r.ID,
		WorkOrderNum:       r.WorkOrderNum,
		UnitNumber:         r.UnitNumber,
		ScheduledDate:      r.ScheduledDate,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
		PhaseID:            r.CurrentPhaseID,
		PropertyID:         r.PropertyID,
		JobTypeID:          r.JobTypeID,
		AssigneeID:         r.AssignedTo,
		TotalBillingAmount: r.TotalBillingAmount,
		InvoiceSent:        r.InvoiceSent,
		InvoicePaid:        r.InvoicePaid,
		InvoiceSentDate:    r.InvoiceSentDate,
		InvoicePaidDate:    r.InvoicePaidDate,
	}
	if r.Phase != nil {
		j.PhaseLabel = r.Phase.Label
		j.PhaseColor = r.Phase.Color
	}
	if r.Property != nil {
		j.PropertyName = r.Property.Name
		j.PropertyAddress = r.Property.Address
	}
	if r.JobType != nil {
		j.JobTypeLabel = r.JobType.Label
	}
	if r.Assignee != nil {
		j.AssigneeName = r.Assignee.FullName
	}
	return j
}

func FromRecords(rs []Record) []Job {
	out := make([]Job, 0, len(rs))
	for _, r := range rs {
		out = append(out, FromRecord(r))
	}
	return out
}

// IndexOf returns the position of id in list, or -1.
func IndexOf(list []Job, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}
