// Package directory resolves a machine's hierarchical group path.
//
// The real directory service is an external collaborator; the core only
// consumes the narrow Resolver port. Two local implementations exist: a
// mock directory seeded from configuration, and an agents-only resolver
// that synthesizes a flat tree when no directory service is available.
package directory

import "context"

// Resolver maps a machine display name to its hierarchical group path,
// an ordered ancestry string from leaf to root (e.g.
// "CN=Sales01,OU=Sales,DC=example,DC=com").
//
// Implementations return silentsync.GroupPathUnknown for names they
// cannot place. They never return a partial or corrupt path: a lookup
// that cannot produce a well-formed ancestry degrades to Unknown so the
// matcher simply sees no group membership.
type Resolver interface {
	Resolve(ctx context.Context, displayName string) (string, error)
}
