package bulk

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"paintops/internal/jobs"
	"paintops/internal/logger"
	"paintops/internal/phases"
	"paintops/internal/store"
)

var (
	ErrEmptySelection = errors.New("no jobs selected")
	ErrPrecondition   = errors.New("precondition failed")
)

const archivedColor = "#6b7280"

// Request is one bulk action on a rendered list. Selected ids that are not
// on Rendered are ignored.
type Request struct {
	Actor     string
	Reason    string
	Rendered  []jobs.Job
	Selection *Selection
	// Refetch reloads the caller's list after a successful write.
	Refetch func(ctx context.Context) error
}

type Result struct {
	Moved   int `json:"moved"`
	Skipped int `json:"skipped"`
	Deleted int `json:"deleted"`
}

type Controller struct {
	Store     store.Store
	Directory *phases.Directory
	Log       *logger.Logger
	// Reload runs when a request carries no Refetch of its own.
	Reload func(ctx context.Context) error
}

func (c *Controller) Archive(ctx context.Context, req Request) (Result, error) {
	target, err := c.Directory.Ensure(ctx, phases.Archived, archivedColor)
	if err != nil {
		return Result{}, errors.Wrap(err, "archive")
	}
	return c.move(ctx, req, target)
}

func (c *Controller) Unarchive(ctx context.Context, req Request) (Result, error) {
	ids, err := c.Directory.Resolve(ctx, []string{phases.JobRequest})
	if err != nil {
		return Result{}, errors.Wrap(err, "unarchive")
	}
	return c.move(ctx, req, ids[phases.JobRequest])
}

// Delete removes the selected jobs. Every one of them must be archived;
// otherwise nothing is written.
func (c *Controller) Delete(ctx context.Context, req Request) (Result, error) {
	selected, err := c.selected(req)
	if err != nil {
		return Result{}, err
	}
	recs, err := c.current(ctx, selected)
	if err != nil {
		return Result{}, err
	}

	archivedID := ""
	ids, err := c.Directory.Resolve(ctx, []string{phases.Archived})
	switch {
	case err == nil:
		archivedID = ids[phases.Archived]
	case !errors.Is(err, phases.ErrNotFound):
		return Result{}, errors.Wrap(err, "delete")
	}

	var offending []string
	for _, r := range recs {
		if r.CurrentPhaseID != archivedID || archivedID == "" {
			offending = append(offending, fmt.Sprintf("#%d", r.WorkOrderNum))
		}
	}
	if len(offending) > 0 {
		return Result{}, errors.Wrapf(ErrPrecondition,
			"only archived jobs can be deleted, not archived: %s", strings.Join(offending, ", "))
	}

	jobIDs := make([]string, 0, len(recs))
	for _, r := range recs {
		jobIDs = append(jobIDs, r.ID)
	}
	if err := c.Store.DeleteJobs(ctx, jobIDs, archivedID); err != nil {
		return Result{}, errors.Wrap(err, "delete jobs")
	}
	c.Log.Info("bulk delete", "actor", req.Actor, "count", len(jobIDs))
	c.finish(ctx, req)
	return Result{Deleted: len(jobIDs)}, nil
}

func (c *Controller) move(ctx context.Context, req Request, target string) (Result, error) {
	if strings.TrimSpace(req.Actor) == "" {
		return Result{}, errors.New("bulk action without actor")
	}
	selected, err := c.selected(req)
	if err != nil {
		return Result{}, err
	}
	recs, err := c.current(ctx, selected)
	if err != nil {
		return Result{}, err
	}

	var res Result
	changes := make([]jobs.PhaseChange, 0, len(recs))
	for _, r := range recs {
		if r.CurrentPhaseID == target {
			res.Skipped++
			continue
		}
		changes = append(changes, jobs.PhaseChange{
			JobID:       r.ID,
			FromPhaseID: r.CurrentPhaseID,
			ToPhaseID:   target,
			ChangedBy:   req.Actor,
			Reason:      req.Reason,
		})
	}
	if len(changes) > 0 {
		if err := c.Store.TransitionPhases(ctx, changes); err != nil {
			return Result{}, errors.Wrap(err, "transition phases")
		}
	}
	res.Moved = len(changes)
	c.Log.Info("bulk phase change", "actor", req.Actor, "to", target, "moved", res.Moved, "skipped", res.Skipped)
	c.finish(ctx, req)
	return res, nil
}

func (c *Controller) selected(req Request) ([]jobs.Job, error) {
	if req.Selection == nil {
		return nil, ErrEmptySelection
	}
	selected := req.Selection.effective(req.Rendered)
	if len(selected) == 0 {
		return nil, ErrEmptySelection
	}
	return selected, nil
}

// current reads the authoritative phase of every selected job. A job that
// disappeared since rendering aborts the batch.
func (c *Controller) current(ctx context.Context, selected []jobs.Job) ([]jobs.Record, error) {
	ids := make([]string, 0, len(selected))
	for _, j := range selected {
		ids = append(ids, j.ID)
	}
	recs, err := c.Store.GetJobs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "read current phases")
	}
	if len(recs) != len(ids) {
		found := make(map[string]bool, len(recs))
		for _, r := range recs {
			found[r.ID] = true
		}
		var missing []string
		for _, j := range selected {
			if !found[j.ID] {
				missing = append(missing, fmt.Sprintf("#%d", j.WorkOrderNum))
			}
		}
		return nil, errors.Wrapf(store.ErrNotFound, "jobs %s", strings.Join(missing, ", "))
	}
	return recs, nil
}

func (c *Controller) finish(ctx context.Context, req Request) {
	req.Selection.Clear()
	switch {
	case req.Refetch != nil:
		if err := req.Refetch(ctx); err != nil {
			c.Log.Warn("refetch after bulk action failed", "error", err)
		}
	case c.Reload != nil:
		if err := c.Reload(ctx); err != nil {
			c.Log.Warn("reload after bulk action failed", "error", err)
		}
	default:
		c.Log.Warn("bulk action finished without refetch hook")
	}
}
