package template

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/sahidur/ams-sub001/model"
)

// snapshot is an immutable set of templates indexed by ID.
type snapshot struct {
	byID     map[string]model.ApprovalTemplate
	ordered  []model.ApprovalTemplate
	checksum string
}

// Registry is a read-optimized, thread-safe store of loaded templates.
// Reloads swap the whole snapshot atomically, so readers never lock.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry holding templates.
func NewRegistry(templates []model.ApprovalTemplate) *Registry {
	r := &Registry{}
	r.Replace(templates)
	return r
}

// Replace atomically swaps the registry contents. A later template with a
// duplicate ID wins; Validate reports duplicates before it gets here.
func (r *Registry) Replace(templates []model.ApprovalTemplate) {
	s := &snapshot{byID: make(map[string]model.ApprovalTemplate, len(templates))}

	var checksumParts []string
	for _, t := range templates {
		s.byID[t.ID] = t
		checksumParts = append(checksumParts, t.ID+"="+t.Checksum)
	}
	for _, t := range s.byID {
		s.ordered = append(s.ordered, t)
	}
	sort.Slice(s.ordered, func(i, j int) bool { return s.ordered[i].ID < s.ordered[j].ID })

	sort.Strings(checksumParts)
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(strings.Join(checksumParts, ":"))))

	r.snap.Store(s)
}

// Get returns the template with the given ID, active or not.
func (r *Registry) Get(id string) (model.ApprovalTemplate, bool) {
	t, ok := r.snap.Load().byID[id]
	return t, ok
}

// Active returns the template with the given ID when it exists and is active.
func (r *Registry) Active(id string) (model.ApprovalTemplate, bool) {
	t, ok := r.Get(id)
	if !ok || !t.IsActive() {
		return model.ApprovalTemplate{}, false
	}
	return t, true
}

// All returns every template sorted by ID.
func (r *Registry) All() []model.ApprovalTemplate {
	s := r.snap.Load()
	out := make([]model.ApprovalTemplate, len(s.ordered))
	copy(out, s.ordered)
	return out
}

// Len returns the number of loaded templates.
func (r *Registry) Len() int {
	return len(r.snap.Load().byID)
}

// Checksum returns the combined checksum of the loaded templates.
func (r *Registry) Checksum() string {
	return r.snap.Load().checksum
}

// Loaded reports whether at least one template is loaded.
func (r *Registry) Loaded() bool {
	return r.Len() > 0
}

// Summaries returns the list view of every active template.
func (r *Registry) Summaries() []model.TemplateSummary {
	var out []model.TemplateSummary
	for _, t := range r.All() {
		if !t.IsActive() {
			continue
		}
		out = append(out, model.TemplateSummary{
			ID:          t.ID,
			Name:        t.Name,
			DisplayName: t.DisplayName,
			Description: t.Description,
			Levels:      len(t.Levels),
			DefaultSLA:  t.DefaultSLAHours,
		})
	}
	return out
}
