// Package registry owns machine identity: mapping hardware ids to
// durable machine records, resolving display-name collisions, and
// provisioning per-machine tokens.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"silentsync"
	"silentsync/infra/sqlite"
	"silentsync/internal/directory"
	"silentsync/internal/logging"
	"silentsync/internal/match"
)

var (
	// ErrInvalidIdentity rejects malformed hardware ids or display names
	// before any state change.
	ErrInvalidIdentity = errors.New("invalid identity")
	// ErrTokenMismatch rejects a request whose per-machine token does not
	// match the provisioned one.
	ErrTokenMismatch = errors.New("machine token mismatch")
)

// Store is the slice of the datastore the registry writes through. It is
// satisfied by both *sqlite.Store and *sqlite.Tx; heartbeats pass the
// transaction so the upsert commits atomically with reconciliation.
type Store interface {
	MachineByHardwareID(ctx context.Context, hardwareID string) (silentsync.Machine, error)
	MachineByDisplayName(ctx context.Context, name string) (silentsync.Machine, error)
	InsertMachine(ctx context.Context, m silentsync.Machine) error
	UpdateMachine(ctx context.Context, m silentsync.Machine) error
}

// Registry performs identity upserts.
type Registry struct {
	Directory directory.Resolver
	Clock     silentsync.Clock
}

// UpsertInput is what an agent presents about itself on a heartbeat.
type UpsertInput struct {
	HardwareID  string
	DisplayName string
	OSInfo      string
	Origin      string
}

// NormalizeHardwareID is the canonical form hardware ids are stored and
// looked up under.
func NormalizeHardwareID(hardwareID string) string {
	return strings.ToLower(strings.TrimSpace(hardwareID))
}

func (r *Registry) now() time.Time {
	if r.Clock != nil {
		return r.Clock.Now()
	}
	return time.Now()
}

// Upsert finds or creates the machine record for the presented hardware
// id and refreshes its contact fields. It reports whether the record was
// newly created.
//
// A display name already claimed by a different hardware id is a naming
// collision, never an identity change: the presenting side gets a
// disambiguated name and the other owner's record is untouched. Racing
// upserts for the same hardware id retry once by re-reading the
// now-committed row.
func (r *Registry) Upsert(ctx context.Context, store Store, in UpsertInput) (silentsync.Machine, bool, error) {
	hardwareID := NormalizeHardwareID(in.HardwareID)
	name := strings.TrimSpace(in.DisplayName)
	if hardwareID == "" {
		return silentsync.Machine{}, false, fmt.Errorf("%w: empty hardware id", ErrInvalidIdentity)
	}
	if name == "" {
		return silentsync.Machine{}, false, fmt.Errorf("%w: empty display name", ErrInvalidIdentity)
	}

	m, err := store.MachineByHardwareID(ctx, hardwareID)
	switch {
	case errors.Is(err, sqlite.ErrNotFound):
		m, err = r.create(ctx, store, hardwareID, name, in)
		if err != nil {
			return silentsync.Machine{}, false, err
		}
		return m, true, nil
	case err != nil:
		return silentsync.Machine{}, false, err
	}

	m, err = r.refresh(ctx, store, m, name, in)
	if err != nil {
		return silentsync.Machine{}, false, err
	}
	return m, false, nil
}

func (r *Registry) create(ctx context.Context, store Store, hardwareID, name string, in UpsertInput) (silentsync.Machine, error) {
	now := r.now().UTC()

	finalName, err := r.claimName(ctx, store, hardwareID, name)
	if err != nil {
		return silentsync.Machine{}, err
	}

	token, err := mintToken()
	if err != nil {
		return silentsync.Machine{}, err
	}

	m := silentsync.Machine{
		ID:            uuid.NewString(),
		HardwareID:    hardwareID,
		DisplayName:   finalName,
		OSInfo:        strings.TrimSpace(in.OSInfo),
		GroupPath:     r.resolveGroupPath(ctx, finalName, silentsync.GroupPathUnknown),
		Token:         token,
		NetworkOrigin: in.Origin,
		LastContact:   now,
		CreatedAt:     now,
	}

	if err := store.InsertMachine(ctx, m); err == nil {
		return m, nil
	} else if !sqlite.IsUniqueViolation(err) {
		return silentsync.Machine{}, err
	}

	// Lost a race. Either the same hardware id got inserted concurrently
	// (re-read and refresh it) or the display name got claimed between
	// our check and the insert (disambiguate and retry once).
	if existing, err := store.MachineByHardwareID(ctx, hardwareID); err == nil {
		return r.refresh(ctx, store, existing, name, in)
	}

	m.DisplayName, err = disambiguate(name)
	if err != nil {
		return silentsync.Machine{}, err
	}
	slog.Info("display name collision on insert race, retrying disambiguated",
		"hardware_id", hardwareID, "name", name, "disambiguated", m.DisplayName)
	if err := store.InsertMachine(ctx, m); err != nil {
		return silentsync.Machine{}, fmt.Errorf("insert machine after retry: %w", err)
	}
	return m, nil
}

func (r *Registry) refresh(ctx context.Context, store Store, m silentsync.Machine, name string, in UpsertInput) (silentsync.Machine, error) {
	renamed := false
	if !strings.EqualFold(m.DisplayName, name) && !match.DisambiguatedFrom(m.DisplayName, name) {
		finalName, err := r.claimName(ctx, store, m.HardwareID, name)
		if err != nil {
			return silentsync.Machine{}, err
		}
		m.DisplayName = finalName
		renamed = true
	}

	if !m.Provisioned() {
		token, err := mintToken()
		if err != nil {
			return silentsync.Machine{}, err
		}
		m.Token = token
	}

	if m.GroupPath == silentsync.GroupPathUnknown || renamed {
		m.GroupPath = r.resolveGroupPath(ctx, m.DisplayName, m.GroupPath)
	}

	m.OSInfo = strings.TrimSpace(in.OSInfo)
	m.NetworkOrigin = in.Origin
	m.LastContact = r.now().UTC()

	if err := store.UpdateMachine(ctx, m); err == nil {
		return m, nil
	} else if !sqlite.IsUniqueViolation(err) {
		return silentsync.Machine{}, err
	}

	// Rename raced another machine claiming the same name: disambiguate
	// our side and retry once. The other owner's record stays untouched.
	disambiguated, err := disambiguate(name)
	if err != nil {
		return silentsync.Machine{}, err
	}
	logging.Security("display name collision on rename, disambiguating",
		"hardware_id", m.HardwareID, "requested", name, "assigned", disambiguated)
	m.DisplayName = disambiguated
	m.GroupPath = r.resolveGroupPath(ctx, m.DisplayName, silentsync.GroupPathUnknown)
	if err := store.UpdateMachine(ctx, m); err != nil {
		return silentsync.Machine{}, fmt.Errorf("update machine after rename retry: %w", err)
	}
	return m, nil
}

// claimName returns name if it is free (or already ours), otherwise a
// disambiguated variant. Claimed-by-another is resolved by renaming the
// requesting side only; reassigning the name would let one agent hijack
// another's record.
func (r *Registry) claimName(ctx context.Context, store Store, hardwareID, name string) (string, error) {
	owner, err := store.MachineByDisplayName(ctx, name)
	if errors.Is(err, sqlite.ErrNotFound) {
		return name, nil
	}
	if err != nil {
		return "", err
	}
	if owner.HardwareID == hardwareID {
		return name, nil
	}

	disambiguated, err := disambiguate(name)
	if err != nil {
		return "", err
	}
	logging.Security("display name collision",
		"hardware_id", hardwareID, "requested", name,
		"owner_hardware_id", owner.HardwareID, "assigned", disambiguated)
	return disambiguated, nil
}

// VerifyToken checks a presented per-machine token in constant time.
// Unprovisioned machines always fail: they have nothing to present yet.
func VerifyToken(m silentsync.Machine, presented string) error {
	if !m.Provisioned() || !tokenEqual(m.Token, presented) {
		return ErrTokenMismatch
	}
	return nil
}

func (r *Registry) resolveGroupPath(ctx context.Context, displayName, current string) string {
	if r.Directory == nil {
		return current
	}
	path, err := r.Directory.Resolve(ctx, displayName)
	if err != nil {
		slog.Warn("group path resolution failed", "name", displayName, "err", err)
		return current
	}
	return path
}
