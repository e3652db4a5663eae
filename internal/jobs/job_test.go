package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"paintops/internal/auth"
)

func TestFromRecordDenormalizesJoins(t *testing.T) {
	assignee := "u-1"
	r := Record{
		ID:             "j-1",
		WorkOrderNum:   1042,
		UnitNumber:     "4B",
		CurrentPhaseID: "p-wo",
		PropertyID:     "prop-1",
		JobTypeID:      "jt-1",
		AssignedTo:     &assignee,
		Phase:          &Phase{ID: "p-wo", Label: "Work Order", Color: "#ffb020"},
		Property:       &Property{ID: "prop-1", Name: "Maple Court", Address: "12 Maple Ct"},
		JobType:        &JobType{ID: "jt-1", Label: "Full Paint"},
		Assignee:       &auth.User{ID: "u-1", FullName: "Dana Ortiz"},
	}

	j := FromRecord(r)

	assert.Equal(t, "j-1", j.ID)
	assert.Equal(t, int64(1042), j.WorkOrderNum)
	assert.Equal(t, "p-wo", j.PhaseID)
	assert.Equal(t, "Work Order", j.PhaseLabel)
	assert.Equal(t, "#ffb020", j.PhaseColor)
	assert.Equal(t, "Maple Court", j.PropertyName)
	assert.Equal(t, "12 Maple Ct", j.PropertyAddress)
	assert.Equal(t, "Full Paint", j.JobTypeLabel)
	assert.Equal(t, "Dana Ortiz", j.AssigneeName)
}

func TestFromRecordWithoutJoins(t *testing.T) {
	j := FromRecord(Record{ID: "j-2", CurrentPhaseID: "p1"})
	assert.Equal(t, "p1", j.PhaseID)
	assert.Empty(t, j.PhaseLabel)
	assert.Empty(t, j.PropertyName)
	assert.Nil(t, j.AssigneeID)
}

func TestOrderLess(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	older := Job{ID: "a", WorkOrderNum: 1, CreatedAt: t0, UpdatedAt: t0.Add(time.Hour)}
	newer := Job{ID: "b", WorkOrderNum: 2, CreatedAt: t0.Add(time.Minute), UpdatedAt: t0}

	assert.True(t, NewestCreated.Less(newer, older))
	assert.True(t, RecentlyTouched.Less(older, newer))

	sched := t0.Add(24 * time.Hour)
	withDate := Job{ID: "c", ScheduledDate: &sched}
	assert.True(t, SoonestScheduled.Less(withDate, Job{ID: "d"}), "unscheduled jobs sort last")

	tie := Job{ID: "e", WorkOrderNum: 9, UpdatedAt: t0}
	assert.True(t, RecentlyTouched.Less(tie, newer), "ties fall back to newest work order")
}

func TestOrderSortAndSQL(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	list := []Job{
		{ID: "a", UpdatedAt: t0},
		{ID: "b", UpdatedAt: t0.Add(2 * time.Hour)},
		{ID: "c", UpdatedAt: t0.Add(time.Hour)},
	}
	RecentlyTouched.Sort(list)
	assert.Equal(t, []string{"b", "c", "a"}, []string{list[0].ID, list[1].ID, list[2].ID})

	assert.Equal(t, "updated_at desc nulls last, work_order_num desc", RecentlyTouched.SQL())
	assert.Equal(t, "scheduled_date asc nulls last, work_order_num desc", SoonestScheduled.SQL())
	assert.Equal(t, 1, IndexOf(list, "c"))
	assert.Equal(t, -1, IndexOf(list, "zzz"))
}
