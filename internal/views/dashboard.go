package views

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"paintops/internal/jobs"
	"paintops/internal/logger"
	"paintops/internal/phases"
	"paintops/internal/store"
)

const (
	BucketJobRequests = "job_requests"
	BucketWorkOrders  = "work_orders"
	BucketInvoicing   = "invoicing"
	BucketToday       = "today"
)

// todayPhases are the active, non-cancelled phases shown on the schedule.
var todayPhases = []string{
	phases.JobRequest, phases.WorkOrder, phases.PendingWorkOrder, phases.Invoicing, phases.Completed,
}

type DashboardState struct {
	JobRequests []jobs.Job `json:"job_requests"`
	WorkOrders  []jobs.Job `json:"work_orders"`
	Invoicing   []jobs.Job `json:"invoicing"`
	Today       []jobs.Job `json:"today"`
	Loading     bool       `json:"loading"`
	Err         error      `json:"-"`
}

// Dashboard keeps four capped buckets current from the job row stream and
// the phase transition stream. Every event also schedules a debounced full
// refresh.
type Dashboard struct {
	store  store.Store
	dir    phases.Resolver
	log    *logger.Logger
	opts   Options
	notify *notifier
	deb    *Debouncer

	ctx    context.Context
	cancel context.CancelFunc
	ready  chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	alive   bool
	bound   bool
	failed  bool
	loading bool
	err     error
	seq     uint64
	buckets []*Bucket
	ids     map[string]string
}

func MountDashboard(parent context.Context, s store.Store, dir phases.Resolver, log *logger.Logger, opts Options) *Dashboard {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(parent)
	d := &Dashboard{
		store:   s,
		dir:     dir,
		log:     log.With("view", "dashboard"),
		opts:    opts,
		notify:  newNotifier(),
		ctx:     ctx,
		cancel:  cancel,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		alive:   true,
		loading: true,
	}

	today := NewBucket(BucketToday, todayPhases, jobs.SoonestScheduled, opts.BucketCap)
	today.Window = func() (time.Time, time.Time) { return BusinessDay(opts.Now(), opts.Location) }
	d.buckets = []*Bucket{
		NewBucket(BucketJobRequests, []string{phases.JobRequest}, jobs.NewestCreated, opts.BucketCap),
		NewBucket(BucketWorkOrders, []string{phases.WorkOrder, phases.PendingWorkOrder}, jobs.RecentlyTouched, opts.BucketCap),
		NewBucket(BucketInvoicing, []string{phases.Invoicing}, jobs.RecentlyTouched, opts.BucketCap),
		today,
	}
	d.deb = NewDebouncer(opts.Debounce, func() {
		if err := d.Refresh(d.ctx); err != nil && d.ctx.Err() == nil {
			d.log.Warn("debounced refresh failed", "error", err)
		}
	})

	go d.run()
	return d
}

func (d *Dashboard) Ready() <-chan struct{} { return d.ready }

func (d *Dashboard) Updates() (<-chan struct{}, func()) { return d.notify.watch() }

// Failed reports whether the dashboard could not mount. It stays dead; the
// registry mounts a new one in its place.
func (d *Dashboard) Failed() bool {
	select {
	case <-d.ready:
	default:
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failed
}

func (d *Dashboard) State() DashboardState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DashboardState{
		JobRequests: d.buckets[0].Jobs(),
		WorkOrders:  d.buckets[1].Jobs(),
		Invoicing:   d.buckets[2].Jobs(),
		Today:       d.buckets[3].Jobs(),
		Loading:     d.loading,
		Err:         d.err,
	}
}

func (d *Dashboard) run() {
	defer close(d.done)

	resolved, err := d.dir.Resolve(d.ctx, todayPhases)
	if err != nil {
		d.mu.Lock()
		d.loading = false
		d.failed = true
		d.err = err
		d.mu.Unlock()
		if d.ctx.Err() == nil {
			d.log.Error("dashboard mount failed", "error", err)
		}
		close(d.ready)
		d.notify.broadcast()
		return
	}

	d.mu.Lock()
	d.ids = resolved
	for _, b := range d.buckets {
		b.Bind(phases.IDs(resolved, b.Labels))
	}
	d.bound = true
	d.mu.Unlock()

	all := phases.IDs(resolved, todayPhases)
	rows, err := d.store.Subscribe(d.ctx, store.ChangeFilter{Table: store.TableJobs, PhaseIDs: all})
	if err != nil {
		d.failSubscribe(err)
		return
	}
	defer rows.Unsubscribe()
	moves, err := d.store.Subscribe(d.ctx, store.ChangeFilter{
		Table: store.TablePhaseChanges,
		Kinds: []store.Kind{store.KindInsert},
	})
	if err != nil {
		d.failSubscribe(err)
		return
	}
	defer moves.Unsubscribe()

	if err := d.Refresh(d.ctx); err != nil {
		d.log.Warn("initial dashboard load failed", "error", err)
	}
	close(d.ready)

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-rows.Lost():
			d.deb.Trigger()
		case <-moves.Lost():
			d.deb.Trigger()
		case ev, ok := <-rows.C:
			if !ok {
				return
			}
			d.applyRow(ev)
			d.deb.Trigger()
		case ev, ok := <-moves.C:
			if !ok {
				return
			}
			d.applyTransition(ev)
			d.deb.Trigger()
		}
	}
}

func (d *Dashboard) failSubscribe(err error) {
	d.mu.Lock()
	d.loading = false
	d.failed = true
	d.err = errors.Wrap(err, "subscribe")
	d.mu.Unlock()
	close(d.ready)
	d.notify.broadcast()
}

// Refresh reloads every bucket. All queries run in parallel; if any fails
// the buckets keep their previous contents.
func (d *Dashboard) Refresh(ctx context.Context) error {
	d.mu.Lock()
	if !d.alive || !d.bound || d.failed {
		d.mu.Unlock()
		return nil
	}
	d.seq++
	seq := d.seq
	ids := d.ids
	limit := d.opts.BucketCap
	d.mu.Unlock()

	from, to := BusinessDay(d.opts.Now(), d.opts.Location)
	queries := []store.Filter{
		{PhaseIDs: phases.IDs(ids, []string{phases.JobRequest}), Order: jobs.NewestCreated, Limit: limit},
		{PhaseIDs: phases.IDs(ids, []string{phases.WorkOrder}), Order: jobs.RecentlyTouched, Limit: limit},
		{PhaseIDs: phases.IDs(ids, []string{phases.PendingWorkOrder}), Order: jobs.RecentlyTouched, Limit: limit},
		{PhaseIDs: phases.IDs(ids, []string{phases.Invoicing}), Order: jobs.RecentlyTouched, Limit: limit},
		{PhaseIDs: phases.IDs(ids, todayPhases), ScheduledFrom: &from, ScheduledTo: &to, Order: jobs.SoonestScheduled, Limit: limit},
	}
	results := make([][]jobs.Record, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	for i, f := range queries {
		g.Go(func() error {
			recs, err := d.store.ListJobs(gctx, f)
			if err != nil {
				return err
			}
			results[i] = recs
			return nil
		})
	}
	err := g.Wait()

	d.mu.Lock()
	if !d.alive || seq != d.seq {
		d.mu.Unlock()
		return err
	}
	d.loading = false
	if err != nil {
		d.err = errors.Wrap(err, "refresh dashboard")
		d.mu.Unlock()
		d.notify.broadcast()
		return d.err
	}
	d.err = nil
	d.buckets[0].Reset(jobs.FromRecords(results[0]))
	d.buckets[1].Reset(append(jobs.FromRecords(results[1]), jobs.FromRecords(results[2])...))
	d.buckets[2].Reset(jobs.FromRecords(results[3]))
	d.buckets[3].Reset(jobs.FromRecords(results[4]))
	d.mu.Unlock()
	d.notify.broadcast()
	return nil
}

func (d *Dashboard) applyRow(ev store.ChangeEvent) {
	if ev.Kind == store.KindDelete {
		d.evictEverywhere(ev.JobID)
		return
	}
	d.fetchAndRoute(ev.JobID)
}

func (d *Dashboard) applyTransition(ev store.ChangeEvent) {
	d.mu.Lock()
	if !d.alive {
		d.mu.Unlock()
		return
	}
	evicted := false
	wanted := false
	for _, b := range d.buckets {
		if b.Transition(ev.JobID, ev.OldPhaseID, ev.PhaseID) {
			evicted = true
		}
		if b.Holds(ev.PhaseID) {
			wanted = true
		}
	}
	d.mu.Unlock()
	if evicted {
		d.notify.broadcast()
	}
	if wanted {
		d.fetchAndRoute(ev.JobID)
	}
}

func (d *Dashboard) fetchAndRoute(id string) {
	rec, err := d.store.GetJob(d.ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		d.evictEverywhere(id)
		return
	}
	if err != nil {
		if d.ctx.Err() == nil {
			d.log.Warn("point fetch failed", "job_id", id, "error", err)
		}
		return
	}
	j := jobs.FromRecord(rec)

	d.mu.Lock()
	if !d.alive {
		d.mu.Unlock()
		return
	}
	for _, b := range d.buckets {
		b.Route(j)
	}
	d.mu.Unlock()
	d.notify.broadcast()
}

func (d *Dashboard) evictEverywhere(id string) {
	d.mu.Lock()
	if !d.alive {
		d.mu.Unlock()
		return
	}
	changed := false
	for _, b := range d.buckets {
		if b.Evict(id) {
			changed = true
		}
	}
	d.mu.Unlock()
	if changed {
		d.notify.broadcast()
	}
}

func (d *Dashboard) Close() {
	d.mu.Lock()
	d.alive = false
	d.mu.Unlock()
	d.deb.Stop()
	d.cancel()
	<-d.done
}
