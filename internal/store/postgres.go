package store

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"paintops/internal/jobs"
)

// Postgres is the gorm-backed Store. Change events are not produced here:
// triggers write them to the outbox and the feed relay publishes them on
// Hub.
type Postgres struct {
	DB  *gorm.DB
	Hub *Hub
}

func NewPostgres(db *gorm.DB, hub *Hub) *Postgres {
	if hub == nil {
		hub = NewHub()
	}
	return &Postgres{DB: db, Hub: hub}
}

func (s *Postgres) withJoins(tx *gorm.DB) *gorm.DB {
	return tx.Preload("Phase").Preload("Property").Preload("JobType").Preload("Assignee")
}

func (s *Postgres) ListPhases(ctx context.Context) ([]jobs.Phase, error) {
	var out []jobs.Phase
	err := s.DB.WithContext(ctx).Order("sort_order asc, label asc").Find(&out).Error
	return out, errors.Wrap(err, "list phases")
}

func (s *Postgres) FindPhases(ctx context.Context, labels []string) ([]jobs.Phase, error) {
	if len(labels) == 0 {
		return nil, nil
	}
	var out []jobs.Phase
	err := s.DB.WithContext(ctx).Where("label in ?", labels).Find(&out).Error
	return out, errors.Wrap(err, "find phases")
}

func (s *Postgres) CreatePhase(ctx context.Context, p jobs.Phase) (jobs.Phase, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	res := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "label"}}, DoNothing: true}).
		Create(&p)
	if res.Error != nil {
		return jobs.Phase{}, errors.Wrap(res.Error, "create phase")
	}
	if res.RowsAffected == 0 {
		return jobs.Phase{}, errors.Wrapf(ErrConflict, "phase %q exists", p.Label)
	}
	return p, nil
}

func (s *Postgres) ListJobs(ctx context.Context, f Filter) ([]jobs.Record, error) {
	if len(f.PhaseIDs) == 0 {
		return nil, nil
	}
	q := s.withJoins(s.DB.WithContext(ctx)).
		Where("current_phase_id in ?", f.PhaseIDs)
	if f.ScheduledFrom != nil {
		q = q.Where("scheduled_date >= ?", *f.ScheduledFrom)
	}
	if f.ScheduledTo != nil {
		q = q.Where("scheduled_date < ?", *f.ScheduledTo)
	}
	q = q.Order(f.Order.SQL())
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var out []jobs.Record
	if err := q.Find(&out).Error; err != nil {
		return nil, errors.Wrap(err, "list jobs")
	}
	return out, nil
}

func (s *Postgres) GetJob(ctx context.Context, id string) (jobs.Record, error) {
	var r jobs.Record
	err := s.withJoins(s.DB.WithContext(ctx)).Where("id = ?", id).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return jobs.Record{}, errors.Wrapf(ErrNotFound, "job %s", id)
	}
	return r, errors.Wrapf(err, "get job %s", id)
}

func (s *Postgres) GetJobs(ctx context.Context, ids []string) ([]jobs.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []jobs.Record
	err := s.withJoins(s.DB.WithContext(ctx)).Where("id in ?", ids).Find(&out).Error
	return out, errors.Wrap(err, "get jobs")
}

func (s *Postgres) InsertJob(ctx context.Context, r jobs.Record) (jobs.Record, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.Phase, r.Property, r.JobType, r.Assignee = nil, nil, nil, nil
	if err := s.DB.WithContext(ctx).Omit(clause.Associations).Create(&r).Error; err != nil {
		return jobs.Record{}, errors.Wrap(err, "insert job")
	}
	return s.GetJob(ctx, r.ID)
}

func (s *Postgres) UpdateJob(ctx context.Context, r jobs.Record) (jobs.Record, error) {
	res := s.DB.WithContext(ctx).Model(&jobs.Record{}).
		Where("id = ?", r.ID).
		Updates(map[string]any{
			"unit_number":          r.UnitNumber,
			"scheduled_date":       r.ScheduledDate,
			"current_phase_id":     r.CurrentPhaseID,
			"property_id":          r.PropertyID,
			"job_type_id":          r.JobTypeID,
			"assigned_to":          r.AssignedTo,
			"total_billing_amount": r.TotalBillingAmount,
			"invoice_sent":         r.InvoiceSent,
			"invoice_paid":         r.InvoicePaid,
			"invoice_sent_date":    r.InvoiceSentDate,
			"invoice_paid_date":    r.InvoicePaidDate,
			"updated_at":           time.Now(),
		})
	if res.Error != nil {
		return jobs.Record{}, errors.Wrap(res.Error, "update job")
	}
	if res.RowsAffected == 0 {
		return jobs.Record{}, errors.Wrapf(ErrNotFound, "job %s", r.ID)
	}
	return s.GetJob(ctx, r.ID)
}

// TransitionPhases runs one update per (from, to) pair guarded by the
// expected from-phase, then inserts the change records, in a single
// transaction.
func (s *Postgres) TransitionPhases(ctx context.Context, changes []jobs.PhaseChange) error {
	if len(changes) == 0 {
		return nil
	}
	type move struct{ from, to string }
	groups := make(map[move][]string)
	var order []move
	for i := range changes {
		if changes[i].ID == "" {
			changes[i].ID = uuid.NewString()
		}
		k := move{changes[i].FromPhaseID, changes[i].ToPhaseID}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], changes[i].JobID)
	}

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		for _, k := range order {
			ids := groups[k]
			res := tx.Model(&jobs.Record{}).
				Where("id in ? and current_phase_id = ?", ids, k.from).
				Updates(map[string]any{"current_phase_id": k.to, "updated_at": now})
			if res.Error != nil {
				return errors.Wrap(res.Error, "update phases")
			}
			if res.RowsAffected != int64(len(ids)) {
				return errors.Wrapf(ErrConflict, "%d of %d jobs left phase %s",
					int64(len(ids))-res.RowsAffected, len(ids), k.from)
			}
		}
		for i := range changes {
			changes[i].CreatedAt = now
		}
		if err := tx.CreateInBatches(&changes, 100).Error; err != nil {
			return errors.Wrap(err, "append phase changes")
		}
		return nil
	})
}

func (s *Postgres) DeleteJobs(ctx context.Context, ids []string, phaseID string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id in ? and current_phase_id = ?", ids, phaseID).Delete(&jobs.Record{})
		if res.Error != nil {
			return errors.Wrap(res.Error, "delete jobs")
		}
		if res.RowsAffected != int64(len(ids)) {
			return errors.Wrapf(ErrConflict, "only %d of %d jobs are in phase %s",
				res.RowsAffected, len(ids), phaseID)
		}
		return nil
	})
}

func (s *Postgres) ListPhaseChanges(ctx context.Context, jobID string) ([]jobs.PhaseChange, error) {
	var out []jobs.PhaseChange
	err := s.DB.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at desc, id desc").
		Find(&out).Error
	return out, errors.Wrap(err, "list phase changes")
}

func (s *Postgres) Subscribe(ctx context.Context, f ChangeFilter) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Hub.Subscribe(ctx, f), nil
}

