package model

import "strings"

// CapabilitySet holds the capabilities granted to a caller, e.g.
// "approvals:request:act". Keys may be wildcards: "*" or a prefix ending in
// ":*" such as "approvals:request:*".
type CapabilitySet map[string]bool

// Has reports whether cap is granted exactly or through a wildcard.
func (cs CapabilitySet) Has(cap string) bool {
	if cs[cap] {
		return true
	}
	for pattern := range cs {
		if matchWildcard(pattern, cap) {
			return true
		}
	}
	return false
}

// HasAll reports whether every cap is granted.
func (cs CapabilitySet) HasAll(caps ...string) bool {
	for _, cap := range caps {
		if !cs.Has(cap) {
			return false
		}
	}
	return true
}

// HasAny reports whether at least one cap is granted.
func (cs CapabilitySet) HasAny(caps ...string) bool {
	for _, cap := range caps {
		if cs.Has(cap) {
			return true
		}
	}
	return false
}

// matchWildcard reports whether pattern matches cap. Only "*" and patterns
// ending in ":*" are wildcards:
//
//	"*"                  matches anything
//	"approvals:*"        matches "approvals:request:act"
//	"approvals:request"  does not match "approvals:request:act"
func matchWildcard(pattern, cap string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.HasSuffix(pattern, ":*") {
		return false
	}
	return strings.HasPrefix(cap, pattern[:len(pattern)-1])
}

// CapabilityResolver resolves the capability set of a caller.
type CapabilityResolver interface {
	Resolve(rctx *RequestContext) (CapabilitySet, error)

	// Invalidate drops any cached set for the subject in the tenant.
	Invalidate(subjectID, tenantID string)
}
