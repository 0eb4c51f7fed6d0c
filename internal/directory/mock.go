package directory

import (
	"context"
	"strings"

	"silentsync"
)

// Mock is a directory resolver seeded with a fixed set of entry paths,
// typically from the server config in development deployments. Lookup is
// by the leaf component's value, case-insensitive.
type Mock struct {
	byName map[string]string
}

// NewMock builds a Mock from full entry paths such as
// "CN=Sales01,OU=Sales,DC=example,DC=com". Entries that do not split into
// a leaf "attr=value" component are skipped.
func NewMock(entries []string) *Mock {
	m := &Mock{byName: make(map[string]string, len(entries))}
	for _, entry := range entries {
		parts := SplitPath(entry)
		if parts == nil {
			continue
		}
		name, ok := leafValue(parts[0])
		if !ok {
			continue
		}
		m.byName[strings.ToLower(name)] = entry
	}
	return m
}

func (m *Mock) Resolve(_ context.Context, displayName string) (string, error) {
	if path, ok := m.byName[strings.ToLower(strings.TrimSpace(displayName))]; ok {
		return path, nil
	}
	return silentsync.GroupPathUnknown, nil
}

// leafValue extracts the value of an "attr=value" component.
func leafValue(component string) (string, bool) {
	_, value, found := strings.Cut(component, "=")
	value = strings.TrimSpace(value)
	if !found || value == "" {
		return "", false
	}
	return value, true
}
