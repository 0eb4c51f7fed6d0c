// Package silentsync holds the domain types shared between the server
// daemon, the datastore, and the operator CLI.
//
// The model is declarative: operators record DeploymentPolicy rows ("this
// software should be installed on this target"), agents poll in with
// heartbeats, and the reconciliation engine computes the tasks needed to
// move each machine toward the declared state. LinkState rows are the
// materialized actual state, one per (machine, software) pair.
package silentsync

import "time"

// GroupPathUnknown is the cached group path of a machine whose directory
// placement has not been resolved yet.
const GroupPathUnknown = "Unknown"

// Machine is a durable identity record for one endpoint, created on the
// first heartbeat from an unseen hardware id and mutated on every
// heartbeat after that. Machines are never deleted by the core.
type Machine struct {
	ID            string    `json:"id"`
	HardwareID    string    `json:"hardware_id"`
	DisplayName   string    `json:"display_name"`
	OSInfo        string    `json:"os_info,omitempty"`
	GroupPath     string    `json:"group_path"`
	Token         string    `json:"-"` // per-machine secret, never serialized
	NetworkOrigin string    `json:"network_origin,omitempty"`
	LastContact   time.Time `json:"last_contact"`
	CreatedAt     time.Time `json:"created_at"`
}

// Provisioned reports whether the machine has been issued its token.
// Unprovisioned machines cannot acknowledge task outcomes.
func (m Machine) Provisioned() bool { return m.Token != "" }

// PackageKind describes how the agent should drive the installer.
type PackageKind string

const (
	PackageEXE PackageKind = "exe"
	PackageMSI PackageKind = "msi"
)

// Software is a catalog entry. The catalog itself is managed through the
// management API; the core only reads it to materialize tasks.
type Software struct {
	ID            int64       `json:"id"`
	Name          string      `json:"name"`
	Version       string      `json:"version"`
	Description   string      `json:"description,omitempty"`
	DownloadURL   string      `json:"download_url"`
	SilentArgs    string      `json:"silent_args,omitempty"`
	UninstallArgs string      `json:"uninstall_args,omitempty"`
	PackageKind   PackageKind `json:"package_kind"`
}

// TargetKind says how a policy's target_value is interpreted.
type TargetKind string

const (
	// TargetMachine matches one machine by surrogate id or display name.
	TargetMachine TargetKind = "machine"
	// TargetGroup matches every machine whose group path ends with the
	// target value at a component boundary.
	TargetGroup TargetKind = "group"
)

// Action is the desired end state a policy declares.
type Action string

const (
	ActionInstall   Action = "install"
	ActionUninstall Action = "uninstall"
)

// DeploymentPolicy is a declared desired-state fact: software S should be
// in state Action on target T. Policies are immutable once created; the
// only mutation is deletion by an operator.
type DeploymentPolicy struct {
	ID          int64      `json:"id"`
	SoftwareID  int64      `json:"software_id"`
	TargetKind  TargetKind `json:"target_kind"`
	TargetValue string     `json:"target_value"`
	Action      Action     `json:"action"`
	// Optional validity window [ScheduleStart, ScheduleEnd). A zero bound
	// means the window is open on that side.
	ScheduleStart time.Time `json:"schedule_start,omitzero"`
	ScheduleEnd   time.Time `json:"schedule_end,omitzero"`
	CreatedBy     string    `json:"created_by,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// InWindow reports whether now falls inside the policy's schedule window.
func (p DeploymentPolicy) InWindow(now time.Time) bool {
	if !p.ScheduleStart.IsZero() && now.Before(p.ScheduleStart) {
		return false
	}
	if !p.ScheduleEnd.IsZero() && !now.Before(p.ScheduleEnd) {
		return false
	}
	return true
}

// LinkStatus is the recorded outcome for a (machine, software) pair.
type LinkStatus string

const (
	StatusPending     LinkStatus = "pending"
	StatusInstalled   LinkStatus = "installed"
	StatusFailed      LinkStatus = "failed"
	StatusUninstalled LinkStatus = "uninstalled"
)

// LinkState is the materialized actual state for one (machine, software)
// pair. It is the sole source of truth for "is this already done": the
// reconciliation engine reads it to decide whether a task must be
// (re)issued, and the acknowledgment handler writes it.
type LinkState struct {
	MachineID        string     `json:"machine_id"`
	SoftwareID       int64      `json:"software_id"`
	Status           LinkStatus `json:"status"`
	InstalledVersion string     `json:"installed_version,omitempty"`
	LastTransition   time.Time  `json:"last_transition"`
}

// Task is one unit of work handed to an agent in a heartbeat response.
// The id is the policy that produced it; agents echo it back in acks.
type Task struct {
	ID           int64       `json:"id"`
	Action       Action      `json:"action"`
	SoftwareName string      `json:"software_name"`
	Version      string      `json:"version"`
	DownloadURL  string      `json:"download_url"`
	Args         string      `json:"args,omitempty"`
	PackageKind  PackageKind `json:"package_kind"`
}

// Outcome is an agent's report of how a task went.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Clock abstracts time for components with time-dependent decisions
// (cooldown windows, schedule windows, rate-limit windows) so tests can
// inject a deterministic implementation.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// AgentLogEntry is a best-effort log line forwarded by an agent.
type AgentLogEntry struct {
	ID        int64     `json:"id"`
	MachineID string    `json:"machine_id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
