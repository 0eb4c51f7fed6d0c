// Package match decides whether a deployment policy targets a machine.
//
// Matching is a pure function of (policy, machine): no clock, no store,
// no side effects. The reconciliation engine uses it to filter candidate
// policies and the acknowledgment handler re-runs it as an authorization
// check.
package match

import (
	"strings"

	"silentsync"
	"silentsync/internal/directory"
)

// Matches reports whether the policy targets the machine.
func Matches(p silentsync.DeploymentPolicy, m silentsync.Machine) bool {
	target := strings.TrimSpace(p.TargetValue)
	if target == "" {
		return false
	}
	switch p.TargetKind {
	case silentsync.TargetMachine:
		return matchesMachine(target, m)
	case silentsync.TargetGroup:
		return matchesGroup(target, m.GroupPath)
	default:
		return false
	}
}

// matchesMachine matches by surrogate id (exact), display name
// (case-insensitive), or the disambiguated form of the targeted name.
// "PC1" matches "PC1" and "PC1-a3f9c2d1" but never "PC10": the collision
// suffix is a distinct token behind a dash, not a free-form prefix.
func matchesMachine(target string, m silentsync.Machine) bool {
	if target == m.ID {
		return true
	}
	name := strings.TrimSpace(m.DisplayName)
	if strings.EqualFold(target, name) {
		return true
	}
	rest, ok := cutPrefixFold(name, target)
	if !ok {
		return false
	}
	return isCollisionSuffix(rest)
}

// matchesGroup matches when the machine's group path ends with the target
// at a component boundary, case-insensitively. Substring containment is
// not enough: "OU=Sales" must not match a path through "OU=PreSales".
func matchesGroup(target, groupPath string) bool {
	if groupPath == "" || groupPath == silentsync.GroupPathUnknown {
		return false
	}
	want := strings.ToLower(target)
	for _, suffix := range directory.AncestorSuffixes(groupPath) {
		if suffix == want {
			return true
		}
	}
	return false
}

// DisambiguatedFrom reports whether name is base plus a collision suffix
// ("PC1-a3f9c2d1" is disambiguated from "PC1"). The identity registry
// uses it to avoid re-disambiguating a machine on every heartbeat.
func DisambiguatedFrom(name, base string) bool {
	rest, ok := cutPrefixFold(strings.TrimSpace(name), strings.TrimSpace(base))
	return ok && isCollisionSuffix(rest)
}

// cutPrefixFold is strings.CutPrefix with ASCII case folding.
func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return s[len(prefix):], true
}

// isCollisionSuffix recognizes the "-xxxxxxxx" tail the identity registry
// appends when disambiguating a display-name collision.
func isCollisionSuffix(s string) bool {
	if len(s) != 9 || s[0] != '-' {
		return false
	}
	for _, r := range s[1:] {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
