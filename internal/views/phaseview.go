package views

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"paintops/internal/jobs"
	"paintops/internal/logger"
	"paintops/internal/phases"
	"paintops/internal/store"
)

// Options tune view timing. Zero values fall back to the defaults below.
type Options struct {
	Throttle  time.Duration
	Debounce  time.Duration
	BucketCap int
	Location  *time.Location
	Now       func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Throttle < 0 {
		o.Throttle = 0
	}
	if o.Debounce <= 0 {
		o.Debounce = 500 * time.Millisecond
	}
	if o.BucketCap <= 0 {
		o.BucketCap = 4
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type State struct {
	Labels  []string   `json:"labels"`
	Jobs    []jobs.Job `json:"jobs"`
	Loading bool       `json:"loading"`
	Err     error      `json:"-"`
}

// PhaseView keeps the jobs of one set of phases current. It resolves its
// labels, subscribes, loads, then patches the list from change events on a
// single goroutine until Close.
type PhaseView struct {
	labels []string
	store  store.Store
	dir    phases.Resolver
	log    *logger.Logger
	gate   *Gate
	order  jobs.Order
	notify *notifier

	ctx    context.Context
	cancel context.CancelFunc
	ready  chan struct{}
	done   chan struct{}
	resync chan struct{}

	mu       sync.Mutex
	alive    bool
	state    State
	phaseIDs []string
	inScope  map[string]bool
	seq      uint64
	inflight context.CancelFunc
	// touched collects jobs patched while a fetch is pending; its snapshot
	// may predate them. nil when no fetch is pending.
	touched map[string]struct{}
	pending map[string]struct{}
}

// MountPhaseView starts a view over labels. It returns immediately; Ready is
// closed once the first load has finished or failed.
func MountPhaseView(parent context.Context, s store.Store, dir phases.Resolver, log *logger.Logger, labels []string, opts Options) *PhaseView {
	opts = opts.withDefaults()
	labels = phases.Normalize(labels)
	order := jobs.RecentlyTouched
	if phases.IsIntake(labels) {
		order = jobs.NewestCreated
	}

	ctx, cancel := context.WithCancel(parent)
	v := &PhaseView{
		labels: labels,
		store:  s,
		dir:    dir,
		log:    log.With("view", labels),
		gate:   NewGate(opts.Throttle, opts.Now),
		order:  order,
		notify: newNotifier(),
		ctx:    ctx,
		cancel: cancel,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
		resync: make(chan struct{}, 1),
		alive:  true,
		state:  State{Labels: labels, Loading: true},
	}
	go v.run()
	return v
}

func (v *PhaseView) Labels() []string { return v.labels }

func (v *PhaseView) Ready() <-chan struct{} { return v.ready }

// Updates returns a channel that receives after every state change, and a
// func to stop watching.
func (v *PhaseView) Updates() (<-chan struct{}, func()) { return v.notify.watch() }

func (v *PhaseView) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	st := v.state
	st.Jobs = append([]jobs.Job(nil), v.state.Jobs...)
	return st
}

// Failed reports whether the view could not resolve its phases. A failed
// view never recovers.
func (v *PhaseView) Failed() bool {
	select {
	case <-v.ready:
	default:
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.phaseIDs == nil && v.state.Err != nil
}

func (v *PhaseView) run() {
	defer close(v.done)

	resolved, err := v.dir.Resolve(v.ctx, v.labels)
	if err != nil {
		v.fail(err)
		return
	}
	ids := phases.IDs(resolved, v.labels)

	sub, err := v.store.Subscribe(v.ctx, store.ChangeFilter{Table: store.TableJobs, PhaseIDs: ids})
	if err != nil {
		v.fail(errors.Wrap(err, "subscribe"))
		return
	}
	defer sub.Unsubscribe()

	v.mu.Lock()
	v.phaseIDs = ids
	v.inScope = make(map[string]bool, len(ids))
	for _, id := range ids {
		v.inScope[id] = true
	}
	v.mu.Unlock()

	if _, err := v.fetch(v.ctx, true); err != nil {
		v.log.Warn("initial load failed", "error", err)
	}
	close(v.ready)

	for {
		select {
		case <-v.ctx.Done():
			return
		case <-sub.Lost():
			v.log.Warn("change events dropped, reloading")
			v.fetch(v.ctx, true)
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			v.apply(ev)
		case <-v.resync:
			v.mu.Lock()
			stale := v.pending
			v.pending = nil
			v.mu.Unlock()
			for id := range stale {
				v.patch(id)
			}
		}
	}
}

func (v *PhaseView) fail(err error) {
	v.mu.Lock()
	if v.alive {
		v.state.Loading = false
		v.state.Err = err
	}
	v.mu.Unlock()
	if v.ctx.Err() == nil {
		v.log.Error("view mount failed", "error", err)
	}
	close(v.ready)
	v.notify.broadcast()
}

// Refetch reloads the full list. Non-forced calls inside the throttle
// interval are dropped and report false.
func (v *PhaseView) Refetch(ctx context.Context, force bool) (bool, error) {
	v.mu.Lock()
	mounted := v.alive && v.phaseIDs != nil
	v.mu.Unlock()
	if !mounted {
		return false, nil
	}
	return v.fetch(ctx, force)
}

func (v *PhaseView) fetch(ctx context.Context, force bool) (bool, error) {
	if !v.gate.Allow(force) {
		return false, nil
	}

	v.mu.Lock()
	if !v.alive {
		v.mu.Unlock()
		return false, nil
	}
	v.seq++
	seq := v.seq
	if v.inflight != nil {
		v.inflight()
	}
	fctx, cancel := context.WithCancel(v.ctx)
	stop := context.AfterFunc(ctx, cancel)
	v.inflight = cancel
	v.touched = make(map[string]struct{})
	ids := v.phaseIDs
	v.mu.Unlock()

	defer stop()
	defer cancel()

	recs, err := v.store.ListJobs(fctx, store.Filter{PhaseIDs: ids, Order: v.order})

	v.mu.Lock()
	if !v.alive || seq != v.seq {
		v.mu.Unlock()
		return true, nil
	}
	v.inflight = nil
	v.state.Loading = false
	touched := v.touched
	v.touched = nil
	if err != nil {
		v.state.Err = err
		v.mu.Unlock()
		v.log.Warn("refetch failed", "error", err)
		v.notify.broadcast()
		return true, err
	}
	v.state.Jobs = jobs.FromRecords(recs)
	v.state.Err = nil
	if len(touched) > 0 {
		if v.pending == nil {
			v.pending = make(map[string]struct{}, len(touched))
		}
		for id := range touched {
			v.pending[id] = struct{}{}
		}
		select {
		case v.resync <- struct{}{}:
		default:
		}
	}
	v.mu.Unlock()
	v.notify.broadcast()
	return true, nil
}

// touch must be called with mu held.
func (v *PhaseView) touch(id string) {
	if v.touched != nil {
		v.touched[id] = struct{}{}
	}
}

func (v *PhaseView) apply(ev store.ChangeEvent) {
	if ev.Kind == store.KindDelete {
		v.remove(ev.JobID)
		return
	}

	v.mu.Lock()
	wanted := v.inScope[ev.PhaseID]
	v.mu.Unlock()
	if !wanted {
		v.remove(ev.JobID)
		return
	}
	v.patch(ev.JobID)
}

// patch re-reads one job and puts it in place, or drops it when it has left
// the view's phases.
func (v *PhaseView) patch(id string) {
	rec, err := v.store.GetJob(v.ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		v.remove(id)
		return
	}
	if err != nil {
		if v.ctx.Err() != nil {
			return
		}
		v.log.Warn("point fetch failed, reloading", "job_id", id, "error", err)
		v.fetch(v.ctx, true)
		return
	}

	v.mu.Lock()
	if !v.inScope[rec.CurrentPhaseID] {
		v.mu.Unlock()
		v.remove(rec.ID)
		return
	}
	if !v.alive {
		v.mu.Unlock()
		return
	}
	v.touch(rec.ID)
	j := jobs.FromRecord(rec)
	if i := jobs.IndexOf(v.state.Jobs, j.ID); i >= 0 {
		v.state.Jobs[i] = j
	} else {
		v.state.Jobs = append([]jobs.Job{j}, v.state.Jobs...)
	}
	v.mu.Unlock()
	v.notify.broadcast()
}

func (v *PhaseView) remove(id string) {
	v.mu.Lock()
	v.touch(id)
	i := jobs.IndexOf(v.state.Jobs, id)
	if !v.alive || i < 0 {
		v.mu.Unlock()
		return
	}
	v.state.Jobs = append(v.state.Jobs[:i:i], v.state.Jobs[i+1:]...)
	v.mu.Unlock()
	v.notify.broadcast()
}

// Close unmounts the view. In-flight requests are cancelled and no state is
// written afterwards.
func (v *PhaseView) Close() {
	v.mu.Lock()
	v.alive = false
	if v.inflight != nil {
		v.inflight()
		v.inflight = nil
	}
	v.mu.Unlock()
	v.cancel()
	<-v.done
}
