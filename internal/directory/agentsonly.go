package directory

import (
	"context"
	"strings"

	"silentsync"
)

// AgentsOnly synthesizes a flat tree under a single base: every machine
// resolves to "CN=<name>,<base>". Used when no directory service is
// configured so group targeting of the base still works.
type AgentsOnly struct {
	base string
}

func NewAgentsOnly(baseDN string) *AgentsOnly {
	return &AgentsOnly{base: strings.TrimSpace(baseDN)}
}

func (a *AgentsOnly) Resolve(_ context.Context, displayName string) (string, error) {
	name := strings.TrimSpace(displayName)
	if name == "" || a.base == "" {
		return silentsync.GroupPathUnknown, nil
	}
	// Escape separators in the name so the synthesized path stays
	// decomposable.
	name = strings.ReplaceAll(name, "\\", "\\\\")
	name = strings.ReplaceAll(name, ",", "\\,")
	return "CN=" + name + "," + a.base, nil
}
