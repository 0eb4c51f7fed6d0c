// Package reconcile turns (machine, declared policies, recorded link
// state) into the task list an agent receives on a heartbeat, and applies
// reported task outcomes back onto the link state.
package reconcile

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"silentsync"
	"silentsync/internal/check"
	"silentsync/internal/directory"
	"silentsync/internal/match"
)

// defaultRetryCooldown suppresses re-issuing a failed task until the
// window since its last transition has elapsed.
const defaultRetryCooldown = time.Hour

// Engine computes the task list for one machine. It is stateless between
// calls; everything it reads comes from the Store snapshot it is given.
type Engine struct {
	Clock         silentsync.Clock
	RetryCooldown time.Duration // 0 means defaultRetryCooldown
	PublicBaseURL *url.URL      // base for relative download paths
	Skew          *SkewChecker  // optional; warns when schedule windows are enforced on a skewed clock
}

func (e *Engine) now() time.Time {
	if e.Clock != nil {
		return e.Clock.Now()
	}
	return time.Now()
}

func (e *Engine) cooldown() time.Duration {
	if e.RetryCooldown > 0 {
		return e.RetryCooldown
	}
	return defaultRetryCooldown
}

// Reconcile computes the tasks needed to move the machine toward the
// declared policies. At most one task per software is issued per pass;
// exact-machine policies beat group policies, and within a kind the
// oldest policy wins.
func (e *Engine) Reconcile(ctx context.Context, store Store, m silentsync.Machine) ([]silentsync.Task, error) {
	check.Assert(m.ID != "", "Reconcile: machine must be persisted")

	candidates, err := store.CandidatePolicies(ctx, directory.AncestorSuffixes(m.GroupPath))
	if err != nil {
		return nil, err
	}

	// Candidates arrive exact-machine first, then by age. The first
	// policy to claim a software id owns it for this pass.
	var matched []silentsync.DeploymentPolicy
	claimed := make(map[int64]bool)
	for _, p := range candidates {
		if claimed[p.SoftwareID] || !match.Matches(p, m) {
			continue
		}
		claimed[p.SoftwareID] = true
		matched = append(matched, p)
	}
	if len(matched) == 0 {
		return nil, nil
	}

	softwareIDs := make([]int64, len(matched))
	for i, p := range matched {
		softwareIDs[i] = p.SoftwareID
	}
	software, err := store.SoftwareByIDs(ctx, softwareIDs)
	if err != nil {
		return nil, err
	}
	links, err := store.LinksForMachine(ctx, m.ID, softwareIDs)
	if err != nil {
		return nil, err
	}

	now := e.now()
	var tasks []silentsync.Task
	for _, p := range matched {
		sw, ok := software[p.SoftwareID]
		if !ok {
			slog.Warn("policy references missing software", "policy", p.ID, "software", p.SoftwareID)
			continue
		}
		if !p.InWindow(now) {
			e.warnIfSkewed(p)
			continue
		}
		link, haveLink := links[p.SoftwareID]
		if !e.due(p, sw, link, haveLink, now) {
			continue
		}
		task, ok := e.materialize(p, sw)
		if !ok {
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// due is the decision table over recorded link state.
func (e *Engine) due(p silentsync.DeploymentPolicy, sw silentsync.Software, link silentsync.LinkState, haveLink bool, now time.Time) bool {
	switch p.Action {
	case silentsync.ActionInstall:
		if !haveLink {
			return true
		}
		switch link.Status {
		case silentsync.StatusInstalled:
			// Converged unless the catalog moved on (upgrade).
			return link.InstalledVersion != sw.Version
		case silentsync.StatusFailed:
			return e.cooldownElapsed(link, now)
		default: // pending, uninstalled
			return true
		}
	case silentsync.ActionUninstall:
		if !haveLink {
			// Nothing was ever installed here; nothing to remove.
			return false
		}
		switch link.Status {
		case silentsync.StatusInstalled:
			return true
		case silentsync.StatusFailed:
			return e.cooldownElapsed(link, now)
		default:
			return false
		}
	default:
		return false
	}
}

func (e *Engine) cooldownElapsed(link silentsync.LinkState, now time.Time) bool {
	return now.Sub(link.LastTransition) >= e.cooldown()
}

// materialize builds the wire task, resolving relative download paths
// against the configured public base address. Client-supplied host
// headers are never consulted here.
func (e *Engine) materialize(p silentsync.DeploymentPolicy, sw silentsync.Software) (silentsync.Task, bool) {
	ref, err := url.Parse(sw.DownloadURL)
	if err != nil {
		slog.Warn("unparseable download url, skipping task", "software", sw.ID, "url", sw.DownloadURL, "err", err)
		return silentsync.Task{}, false
	}
	downloadURL := sw.DownloadURL
	if !ref.IsAbs() {
		if e.PublicBaseURL == nil {
			slog.Warn("relative download url with no public base configured, skipping task", "software", sw.ID, "url", sw.DownloadURL)
			return silentsync.Task{}, false
		}
		downloadURL = e.PublicBaseURL.ResolveReference(ref).String()
	}

	args := sw.SilentArgs
	if p.Action == silentsync.ActionUninstall {
		args = sw.UninstallArgs
	}
	return silentsync.Task{
		ID:           p.ID,
		Action:       p.Action,
		SoftwareName: sw.Name,
		Version:      sw.Version,
		DownloadURL:  downloadURL,
		Args:         args,
		PackageKind:  sw.PackageKind,
	}, true
}

func (e *Engine) warnIfSkewed(p silentsync.DeploymentPolicy) {
	if e.Skew == nil || (p.ScheduleStart.IsZero() && p.ScheduleEnd.IsZero()) {
		return
	}
	if st := e.Skew.Status(); st.Checked() && !st.Healthy {
		slog.Warn("schedule window enforced on a skewed clock",
			"policy", p.ID, "offset", st.Offset)
	}
}
