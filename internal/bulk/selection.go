package bulk

import (
	"sort"
	"sync"

	"paintops/internal/jobs"
)

// Selection is the set of rows picked on a rendered list.
type Selection struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func NewSelection(ids ...string) *Selection {
	s := &Selection{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

// Toggle flips id and reports whether it is now selected.
func (s *Selection) Toggle(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		delete(s.ids, id)
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// SelectAll selects every row of the rendered list, or clears the selection
// when all of them are already selected.
func (s *Selection) SelectAll(rendered []jobs.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := len(rendered) > 0
	for _, j := range rendered {
		if _, ok := s.ids[j.ID]; !ok {
			all = false
			break
		}
	}
	if all {
		s.ids = make(map[string]struct{})
		return
	}
	for _, j := range rendered {
		s.ids[j.ID] = struct{}{}
	}
}

func (s *Selection) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

func (s *Selection) Clear() {
	s.mu.Lock()
	s.ids = make(map[string]struct{})
	s.mu.Unlock()
}

func (s *Selection) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// IDs returns the selected ids, sorted.
func (s *Selection) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// effective returns the selected rows that are on the rendered list, in
// list order.
func (s *Selection) effective(rendered []jobs.Job) []jobs.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []jobs.Job
	for _, j := range rendered {
		if _, ok := s.ids[j.ID]; ok {
			out = append(out, j)
		}
	}
	return out
}
