package feed

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

type Repo struct {
	DB *gorm.DB
}

// Claim locks up to limit pending entries, oldest first, using SKIP LOCKED
// so several relays never claim the same row.
func (r *Repo) Claim(ctx context.Context, workerID string, limit int) ([]Entry, error) {
	var out []Entry
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// requeue entries left RUNNING by a relay that died
		if err := tx.Exec(`
update change_events
set status='PENDING', locked_by=null, locked_at=null, updated_at=now()
where status='RUNNING' and locked_at is not null and locked_at < now() - interval '5 minutes'
`).Error; err != nil {
			return err
		}

		return tx.Raw(`
with cte as (
  select id
  from change_events
  where status='PENDING' and run_at <= now()
  order by id asc
  for update skip locked
  limit ?
)
update change_events
set status='RUNNING', locked_by=?, locked_at=now(), updated_at=now()
where id in (select id from cte)
returning *;
`, limit, workerID).Scan(&out).Error
	})
	if err != nil {
		return nil, errors.Wrap(err, "claim change events")
	}
	// returning * does not keep the cte order
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (r *Repo) MarkDone(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	arr := make([]int64, len(ids))
	for i, id := range ids {
		arr[i] = int64(id)
	}
	return r.DB.WithContext(ctx).Exec(
		`update change_events set status='DONE', locked_by=null, locked_at=null, updated_at=now() where id = any(?)`,
		pq.Array(arr),
	).Error
}

func (r *Repo) MarkFailed(ctx context.Context, id uint64, errMsg string) error {
	return r.DB.WithContext(ctx).Exec(
		`update change_events set status='FAILED', last_error=?, updated_at=now() where id=?`, errMsg, id,
	).Error
}

func (r *Repo) RetryLater(ctx context.Context, id uint64, attempts int, runAt time.Time, errMsg string) error {
	return r.DB.WithContext(ctx).Exec(`
update change_events
set status='PENDING',
    attempts=?,
    run_at=?,
    locked_by=null,
    locked_at=null,
    last_error=?,
    updated_at=now()
where id=?`, attempts, runAt, errMsg, id).Error
}

// Prune deletes delivered entries older than before.
func (r *Repo) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := r.DB.WithContext(ctx).Exec(
		`delete from change_events where status='DONE' and updated_at < ?`, before,
	)
	return res.RowsAffected, res.Error
}
