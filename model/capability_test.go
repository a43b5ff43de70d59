package model

import "testing"

func TestCapabilitySet_Has_exact(t *testing.T) {
	cs := CapabilitySet{
		"approvals:request:read":  true,
		"approvals:template:read": true,
	}
	if !cs.Has("approvals:request:read") {
		t.Error("Has(approvals:request:read) = false, want true")
	}
	if cs.Has("approvals:request:act") {
		t.Error("Has(approvals:request:act) = true, want false")
	}
}

func TestCapabilitySet_Has_wildcard_star(t *testing.T) {
	cs := CapabilitySet{"*": true}
	if !cs.Has("approvals:request:read") {
		t.Error("wildcard * should match approvals:request:read")
	}
	if !cs.Has("anything") {
		t.Error("wildcard * should match anything")
	}
}

func TestCapabilitySet_Has_wildcard_namespace(t *testing.T) {
	cs := CapabilitySet{"approvals:*": true}
	if !cs.Has("approvals:request:read") {
		t.Error("approvals:* should match approvals:request:read")
	}
	if !cs.Has("approvals:request:act") {
		t.Error("approvals:* should match approvals:request:act")
	}
	if cs.Has("reports:export:run") {
		t.Error("approvals:* should not match reports:export:run")
	}
}

func TestCapabilitySet_Has_wildcard_resource(t *testing.T) {
	cs := CapabilitySet{"approvals:request:*": true}
	if !cs.Has("approvals:request:read") {
		t.Error("approvals:request:* should match approvals:request:read")
	}
	if !cs.Has("approvals:request:audit") {
		t.Error("approvals:request:* should match approvals:request:audit")
	}
	if cs.Has("approvals:template:read") {
		t.Error("approvals:request:* should not match approvals:template:read")
	}
}

func TestCapabilitySet_Has_empty(t *testing.T) {
	cs := CapabilitySet{}
	if cs.Has("approvals:request:read") {
		t.Error("empty set should not match anything")
	}
}

func TestCapabilitySet_Has_nil(t *testing.T) {
	var cs CapabilitySet
	if cs.Has("approvals:request:read") {
		t.Error("nil set should not match anything")
	}
}

func TestCapabilitySet_HasAll(t *testing.T) {
	cs := CapabilitySet{
		"approvals:request:read":  true,
		"approvals:template:read": true,
	}
	if !cs.HasAll("approvals:request:read", "approvals:template:read") {
		t.Error("HasAll should be true when all present")
	}
	if cs.HasAll("approvals:request:read", "approvals:request:act") {
		t.Error("HasAll should be false when one missing")
	}
}

func TestCapabilitySet_HasAll_empty(t *testing.T) {
	cs := CapabilitySet{"approvals:request:read": true}
	if !cs.HasAll() {
		t.Error("HasAll with no args should be true")
	}
}

func TestCapabilitySet_HasAll_wildcard(t *testing.T) {
	cs := CapabilitySet{"approvals:*": true}
	if !cs.HasAll("approvals:request:read", "approvals:request:create") {
		t.Error("HasAll with wildcard should match all under namespace")
	}
}

func TestCapabilitySet_HasAny(t *testing.T) {
	cs := CapabilitySet{
		"approvals:request:read": true,
	}
	if !cs.HasAny("approvals:request:act", "approvals:request:read") {
		t.Error("HasAny should be true when at least one present")
	}
	if cs.HasAny("approvals:request:act", "reports:export:run") {
		t.Error("HasAny should be false when none present")
	}
}

func TestCapabilitySet_HasAny_empty(t *testing.T) {
	cs := CapabilitySet{"approvals:request:read": true}
	if cs.HasAny() {
		t.Error("HasAny with no args should be false")
	}
}

func TestMatchWildcard(t *testing.T) {
	tests := []struct {
		pattern string
		cap     string
		want    bool
	}{
		{"*", "approvals:request:read", true},
		{"*", "anything", true},
		{"approvals:*", "approvals:request:read", true},
		{"approvals:*", "approvals:request:act", true},
		{"approvals:*", "reports:export:run", false},
		{"approvals:request:*", "approvals:request:read", true},
		{"approvals:request:*", "approvals:request:audit", true},
		{"approvals:request:*", "approvals:template:read", false},
		{"approvals:request:read", "approvals:request:read", false}, // exact match handled by map lookup, not wildcard
		{"approvals:request", "approvals:request:read", false},      // no wildcard suffix
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"_vs_"+tt.cap, func(t *testing.T) {
			if got := matchWildcard(tt.pattern, tt.cap); got != tt.want {
				t.Errorf("matchWildcard(%q, %q) = %v, want %v", tt.pattern, tt.cap, got, tt.want)
			}
		})
	}
}
