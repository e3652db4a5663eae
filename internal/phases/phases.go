package phases

import (
	"context"
	_ "embed"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"paintops/internal/jobs"
	"paintops/internal/store"
)

const (
	JobRequest       = "Job Request"
	WorkOrder        = "Work Order"
	PendingWorkOrder = "Pending Work Order"
	Invoicing        = "Invoicing"
	Completed        = "Completed"
	Cancelled        = "Cancelled"
	Archived         = "Archived"
)

// ErrNotFound is returned when a requested label has no phase row.
var ErrNotFound = errors.New("phase not found")

// Resolver maps phase labels to ids.
type Resolver interface {
	Resolve(ctx context.Context, labels []string) (map[string]string, error)
}

// Directory resolves labels against the store on every call.
type Directory struct {
	Store store.Store
}

func NewDirectory(s store.Store) *Directory {
	return &Directory{Store: s}
}

// Resolve returns label -> id for every label, or ErrNotFound naming all
// labels that do not exist.
func (d *Directory) Resolve(ctx context.Context, labels []string) (map[string]string, error) {
	labels = Normalize(labels)
	found, err := d.Store.FindPhases(ctx, labels)
	if err != nil {
		return nil, errors.Wrap(err, "resolve phases")
	}
	out := make(map[string]string, len(found))
	for _, p := range found {
		out[p.Label] = p.ID
	}

	var missing []string
	for _, l := range labels {
		if _, ok := out[l]; !ok {
			missing = append(missing, l)
		}
	}
	if len(missing) > 0 {
		return nil, errors.Wrapf(ErrNotFound, "%s", strings.Join(missing, ", "))
	}
	return out, nil
}

// Ensure returns the id of label, creating the phase if nobody has yet.
func (d *Directory) Ensure(ctx context.Context, label, color string) (string, error) {
	ids, err := d.Resolve(ctx, []string{label})
	if err == nil {
		return ids[label], nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	p, err := d.Store.CreatePhase(ctx, jobs.Phase{Label: label, Color: color, SortOrder: sortOrderFor(label)})
	if err == nil {
		return p.ID, nil
	}
	if !errors.Is(err, store.ErrConflict) {
		return "", errors.Wrapf(err, "create phase %q", label)
	}
	// lost the race to another creator
	ids, err = d.Resolve(ctx, []string{label})
	if err != nil {
		return "", err
	}
	return ids[label], nil
}

// IDs returns the resolved ids in label order.
func IDs(resolved map[string]string, labels []string) []string {
	out := make([]string, 0, len(labels))
	for _, l := range Normalize(labels) {
		if id, ok := resolved[l]; ok {
			out = append(out, id)
		}
	}
	return out
}

// Normalize trims, drops empties and duplicates, and sorts labels so equal
// sets produce equal keys.
func Normalize(labels []string) []string {
	seen := make(map[string]bool, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// IsIntake reports whether every label is an intake phase. Intake views are
// ordered by creation time.
func IsIntake(labels []string) bool {
	if len(labels) == 0 {
		return false
	}
	for _, l := range labels {
		if l != JobRequest {
			return false
		}
	}
	return true
}

//go:embed defaults.yaml
var defaultsYAML []byte

type catalogue struct {
	Phases []struct {
		Label     string `yaml:"label"`
		Color     string `yaml:"color"`
		SortOrder int    `yaml:"sort_order"`
	} `yaml:"phases"`
}

// Defaults is the built-in phase catalogue, without ids.
func Defaults() ([]jobs.Phase, error) {
	var c catalogue
	if err := yaml.Unmarshal(defaultsYAML, &c); err != nil {
		return nil, errors.Wrap(err, "parse phase catalogue")
	}
	out := make([]jobs.Phase, 0, len(c.Phases))
	for _, p := range c.Phases {
		out = append(out, jobs.Phase{Label: p.Label, Color: p.Color, SortOrder: p.SortOrder})
	}
	return out, nil
}

func sortOrderFor(label string) int {
	defs, err := Defaults()
	if err != nil {
		return 0
	}
	for _, p := range defs {
		if p.Label == label {
			return p.SortOrder
		}
	}
	return 0
}

// Seed creates every default phase that is missing from s.
func Seed(ctx context.Context, s store.Store) error {
	defs, err := Defaults()
	if err != nil {
		return err
	}
	d := NewDirectory(s)
	for _, p := range defs {
		if _, err := d.Ensure(ctx, p.Label, p.Color); err != nil {
			return err
		}
	}
	return nil
}
