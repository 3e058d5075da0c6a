// Package registry holds the configured conversion backends and resolves the
// ordered candidate chain for a language pair.
package registry

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/pario-ai/polyglot/pkg/models"
)

// ErrProviderNotFound is returned when a provider ID is not registered.
var ErrProviderNotFound = errors.New("provider not found")

type table struct {
	ordered []models.ProviderDescriptor
	byID    map[string]models.ProviderDescriptor
}

// Registry is a read-mostly provider table. Readers never lock; Replace swaps
// the whole table atomically.
type Registry struct {
	tbl atomic.Pointer[table]
}

// New creates a Registry from the given descriptors.
func New(descriptors []models.ProviderDescriptor) (*Registry, error) {
	r := &Registry{}
	if err := r.Replace(descriptors); err != nil {
		return nil, err
	}
	return r, nil
}

// Replace validates and installs a new provider table.
func (r *Registry) Replace(descriptors []models.ProviderDescriptor) error {
	t := &table{
		ordered: make([]models.ProviderDescriptor, 0, len(descriptors)),
		byID:    make(map[string]models.ProviderDescriptor, len(descriptors)),
	}
	for _, d := range descriptors {
		if d.ID == "" {
			return fmt.Errorf("provider id cannot be empty")
		}
		if _, dup := t.byID[d.ID]; dup {
			return fmt.Errorf("provider %q registered twice", d.ID)
		}
		d.Languages = slices.Clone(d.Languages)
		t.byID[d.ID] = d
		t.ordered = append(t.ordered, d)
	}
	slices.SortStableFunc(t.ordered, compareDescriptors)
	r.tbl.Store(t)
	return nil
}

// compareDescriptors orders by priority rank, then cheaper cost weight, then ID.
func compareDescriptors(a, b models.ProviderDescriptor) int {
	return cmp.Or(
		cmp.Compare(a.Priority, b.Priority),
		cmp.Compare(a.CostWeight, b.CostWeight),
		cmp.Compare(a.ID, b.ID),
	)
}

// ListCandidates returns the enabled providers accepting the language pair,
// in the order they should be tried.
func (r *Registry) ListCandidates(source, target string) []models.ProviderDescriptor {
	var out []models.ProviderDescriptor
	for _, d := range r.tbl.Load().ordered {
		if !d.Enabled || !d.Supports(source, target) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Describe returns the descriptor for a provider ID.
func (r *Registry) Describe(id string) (models.ProviderDescriptor, error) {
	d, ok := r.tbl.Load().byID[id]
	if !ok {
		return models.ProviderDescriptor{}, fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	return d, nil
}

// All returns every registered descriptor, enabled or not, in candidate order.
func (r *Registry) All() []models.ProviderDescriptor {
	return slices.Clone(r.tbl.Load().ordered)
}
