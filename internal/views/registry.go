package views

import (
	"context"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"paintops/internal/logger"
	"paintops/internal/phases"
	"paintops/internal/store"
)

// Registry owns the mounted views of the process. Views are mounted on first
// use and shared by every caller asking for the same label set.
type Registry struct {
	store store.Store
	dir   phases.Resolver
	log   *logger.Logger
	opts  Options

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	views     map[string]*PhaseView
	dashboard *Dashboard
}

func NewRegistry(s store.Store, dir phases.Resolver, log *logger.Logger, opts Options) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		store:  s,
		dir:    dir,
		log:    log.Named("views"),
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		views:  make(map[string]*PhaseView),
	}
}

var ErrClosed = errors.New("registry closed")

// View returns the live view for labels, mounting it if needed. A view that
// failed to resolve its phases is replaced by a fresh mount.
func (r *Registry) View(labels []string) (*PhaseView, error) {
	labels = phases.Normalize(labels)
	if len(labels) == 0 {
		return nil, errors.New("no phases requested")
	}
	key := strings.Join(labels, "|")

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	v, ok := r.views[key]
	var stale *PhaseView
	if ok && v.Failed() {
		stale, ok = v, false
	}
	if !ok {
		v = MountPhaseView(r.ctx, r.store, r.dir, r.log, labels, r.opts)
		r.views[key] = v
	}
	r.mu.Unlock()

	if stale != nil {
		stale.Close()
	}
	return v, nil
}

// Dashboard returns the shared dashboard, mounting it if needed. A dashboard
// that failed to mount is replaced like a failed view.
func (r *Registry) Dashboard() (*Dashboard, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	var stale *Dashboard
	if r.dashboard != nil && r.dashboard.Failed() {
		stale, r.dashboard = r.dashboard, nil
	}
	if r.dashboard == nil {
		r.dashboard = MountDashboard(r.ctx, r.store, r.dir, r.log, r.opts)
	}
	d := r.dashboard
	r.mu.Unlock()

	if stale != nil {
		stale.Close()
	}
	return d, nil
}

// RefetchAll force-reloads every mounted view and the dashboard.
func (r *Registry) RefetchAll(ctx context.Context) error {
	r.mu.Lock()
	views := make([]*PhaseView, 0, len(r.views))
	for _, v := range r.views {
		views = append(views, v)
	}
	dash := r.dashboard
	r.mu.Unlock()

	var errs error
	for _, v := range views {
		if _, err := v.Refetch(ctx, true); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	if dash != nil {
		if err := dash.Refresh(ctx); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}

func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	views := r.views
	dash := r.dashboard
	r.views = map[string]*PhaseView{}
	r.dashboard = nil
	r.mu.Unlock()

	for _, v := range views {
		v.Close()
	}
	if dash != nil {
		dash.Close()
	}
	r.cancel()
}
