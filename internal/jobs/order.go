package jobs

import (
	"sort"
	"time"
)

type Column string

const (
	ColumnCreatedAt     Column = "created_at"
	ColumnUpdatedAt     Column = "updated_at"
	ColumnScheduledDate Column = "scheduled_date"
)

// Order is a single-column sort. Ties break on work order number, newest
// first, so two orderings of the same set always agree.
type Order struct {
	Column Column
	Desc   bool
}

var (
	NewestCreated    = Order{Column: ColumnCreatedAt, Desc: true}
	RecentlyTouched  = Order{Column: ColumnUpdatedAt, Desc: true}
	SoonestScheduled = Order{Column: ColumnScheduledDate}
)

func (o Order) value(j Job) (time.Time, bool) {
	switch o.Column {
	case ColumnCreatedAt:
		return j.CreatedAt, true
	case ColumnScheduledDate:
		if j.ScheduledDate == nil {
			return time.Time{}, false
		}
		return *j.ScheduledDate, true
	default:
		return j.UpdatedAt, true
	}
}

// Less reports whether a sorts before b. Missing values sort last.
func (o Order) Less(a, b Job) bool {
	va, okA := o.value(a)
	vb, okB := o.value(b)
	if okA != okB {
		return okA
	}
	if !va.Equal(vb) {
		if o.Desc {
			return va.After(vb)
		}
		return va.Before(vb)
	}
	if a.WorkOrderNum != b.WorkOrderNum {
		return a.WorkOrderNum > b.WorkOrderNum
	}
	return a.ID < b.ID
}

func (o Order) Sort(list []Job) {
	sort.SliceStable(list, func(i, k int) bool { return o.Less(list[i], list[k]) })
}

// SQL renders the order clause for gorm.
func (o Order) SQL() string {
	col := string(o.Column)
	if col == "" {
		col = string(ColumnUpdatedAt)
	}
	dir := "asc"
	if o.Desc {
		dir = "desc"
	}
	return col + " " + dir + " nulls last, work_order_num desc"
}
