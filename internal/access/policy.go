// Package access resolves what a caller may do and who approves a level:
// a static YAML policy maps roles to capabilities and lists each tenant's
// users with their scoped role assignments.
package access

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/sahidur/ams-sub001/model"
)

// PolicyFile is the on-disk layout of the access policy.
type PolicyFile struct {
	Roles   map[string][]string     `yaml:"roles"`
	Tenants map[string]TenantPolicy `yaml:"tenants"`
}

// TenantPolicy lists the directory of one tenant.
type TenantPolicy struct {
	Users []UserEntry `yaml:"users"`
}

// UserEntry is one directory user.
type UserEntry struct {
	ID       string           `yaml:"id"`
	Name     string           `yaml:"name"`
	Email    string           `yaml:"email"`
	Inactive bool             `yaml:"inactive"`
	Roles    []RoleAssignment `yaml:"roles"`
}

// RoleAssignment grants a role, optionally limited to a project and/or
// branch.
type RoleAssignment struct {
	Role      string `yaml:"role"`
	ProjectID string `yaml:"project_id"`
	BranchID  string `yaml:"branch_id"`
}

// PolicyEvaluator computes the capability set of a caller.
type PolicyEvaluator interface {
	ResolveCapabilities(rctx *model.RequestContext) (model.CapabilitySet, error)
}

// StaticPolicy serves capabilities and the approver directory from a YAML
// file.
type StaticPolicy struct {
	path   string
	mu     sync.RWMutex
	policy PolicyFile
}

// NewStaticPolicy creates a StaticPolicy that loads path.
func NewStaticPolicy(path string) (*StaticPolicy, error) {
	p := &StaticPolicy{path: path}
	if err := p.Sync(); err != nil {
		return nil, err
	}
	return p, nil
}

// NewStaticPolicyFrom creates a StaticPolicy from an in-memory policy.
func NewStaticPolicyFrom(policy PolicyFile) *StaticPolicy {
	return &StaticPolicy{policy: policy}
}

// ResolveCapabilities returns the union of the capabilities of the caller's
// token roles and of the roles the directory assigns them in the tenant.
// Scoped assignments count here; scope only narrows approver selection.
func (p *StaticPolicy) ResolveCapabilities(rctx *model.RequestContext) (model.CapabilitySet, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	caps := make(model.CapabilitySet)
	grant := func(role string) {
		for _, c := range p.policy.Roles[role] {
			caps[c] = true
		}
	}

	for _, role := range rctx.Roles {
		grant(role)
	}
	if u, ok := p.findUser(rctx.TenantID, rctx.SubjectID); ok && !u.Inactive {
		for _, a := range u.Roles {
			grant(a.Role)
		}
	}
	return caps, nil
}

// Evaluate checks a single capability.
func (p *StaticPolicy) Evaluate(rctx *model.RequestContext, capability string) (bool, error) {
	caps, err := p.ResolveCapabilities(rctx)
	if err != nil {
		return false, err
	}
	return caps.Has(capability), nil
}

// Sync reloads the policy file from disk.
func (p *StaticPolicy) Sync() error {
	if p.path == "" {
		return nil
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("access: reading policy file %s: %w", p.path, err)
	}

	var f PolicyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("access: parsing policy file %s: %w", p.path, err)
	}

	p.mu.Lock()
	p.policy = f
	p.mu.Unlock()
	return nil
}

// findUser must be called with p.mu held.
func (p *StaticPolicy) findUser(tenantID, userID string) (UserEntry, bool) {
	for _, u := range p.policy.Tenants[tenantID].Users {
		if u.ID == userID {
			return u, true
		}
	}
	return UserEntry{}, false
}
