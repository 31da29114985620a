package template

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/observability/metrics"
)

// Registry maps template ids to templates. Replace swaps the whole set at
// once, so readers see either the old or the new batch.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*Template
	metrics   *metrics.Metrics
}

func NewRegistry(m *metrics.Metrics) *Registry {
	return &Registry{templates: make(map[string]*Template), metrics: m}
}

// Register adds or overwrites t.
func (r *Registry) Register(t *Template) error {
	if t == nil || t.ID() == "" {
		return fmt.Errorf("%w: nil or unnamed template", ErrInvalidTemplate)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.ID()] = t
	r.metrics.TemplateCount(len(r.templates))
	return nil
}

func (r *Registry) Get(id string) (*Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[id]
	return t, ok
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.templates))
	for id := range r.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.templates)
}

func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates = make(map[string]*Template)
	r.metrics.TemplateCount(0)
}

// Replace installs batch as the complete template set. Later entries win on
// duplicate ids.
func (r *Registry) Replace(batch []*Template) error {
	next := make(map[string]*Template, len(batch))
	for _, t := range batch {
		if t == nil || t.ID() == "" {
			return fmt.Errorf("%w: nil or unnamed template in batch", ErrInvalidTemplate)
		}
		next[t.ID()] = t
	}
	r.mu.Lock()
	r.templates = next
	r.mu.Unlock()
	r.metrics.TemplateCount(len(next))
	return nil
}
