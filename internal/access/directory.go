package access

import (
	"context"
	"fmt"
	"sort"

	"github.com/sahidur/ams-sub001/model"
)

// Scope match ranks, most specific first.
const (
	matchUnscoped = iota
	matchBranch
	matchProject
	matchProjectBranch
)

// ResolveApprover picks the approver of level for a request in tenantID
// with the given scope. A fixed approver_id wins. Otherwise the active
// holders of the level's role are ranked by how specifically their
// assignment matches the scope (project+branch, project, branch, unscoped)
// and ties go to the lowest user ID, so the choice is deterministic.
func (p *StaticPolicy) ResolveApprover(_ context.Context, tenantID string, level model.ApprovalLevel, scope model.RequestScope) (model.User, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if level.ApproverID != "" {
		u, ok := p.findUser(tenantID, level.ApproverID)
		if !ok {
			return model.User{ID: level.ApproverID, Name: level.ApproverID}, nil
		}
		if u.Inactive {
			return model.User{}, model.NewApproverUnavailableError(
				fmt.Sprintf("approver %q for level %d is inactive", u.ID, level.Index),
			)
		}
		return toUser(u), nil
	}

	type candidate struct {
		user UserEntry
		rank int
	}
	var candidates []candidate
	for _, u := range p.policy.Tenants[tenantID].Users {
		if u.Inactive {
			continue
		}
		best := -1
		for _, a := range u.Roles {
			if a.Role != level.Role {
				continue
			}
			if r, ok := scopeRank(a, scope); ok && r > best {
				best = r
			}
		}
		if best >= 0 {
			candidates = append(candidates, candidate{user: u, rank: best})
		}
	}

	if len(candidates) == 0 {
		return model.User{}, model.NewApproverUnavailableError(
			fmt.Sprintf("no active user holds role %q for level %d", level.Role, level.Index),
		)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].rank != candidates[j].rank {
			return candidates[i].rank > candidates[j].rank
		}
		return candidates[i].user.ID < candidates[j].user.ID
	})
	return toUser(candidates[0].user), nil
}

// User looks up a directory user.
func (p *StaticPolicy) User(_ context.Context, tenantID, userID string) (model.User, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	u, ok := p.findUser(tenantID, userID)
	if !ok {
		return model.User{}, false
	}
	return toUser(u), true
}

// scopeRank reports whether assignment a applies to scope and how
// specifically.
func scopeRank(a RoleAssignment, scope model.RequestScope) (int, bool) {
	if a.ProjectID != "" && a.ProjectID != scope.ProjectID {
		return 0, false
	}
	if a.BranchID != "" && a.BranchID != scope.BranchID {
		return 0, false
	}
	switch {
	case a.ProjectID != "" && a.BranchID != "":
		return matchProjectBranch, true
	case a.ProjectID != "":
		return matchProject, true
	case a.BranchID != "":
		return matchBranch, true
	default:
		return matchUnscoped, true
	}
}

func toUser(u UserEntry) model.User {
	name := u.Name
	if name == "" {
		name = u.ID
	}
	return model.User{ID: u.ID, Name: name, Email: u.Email}
}
