package reconcile

import (
	"net/url"
	"testing"
	"time"

	"silentsync"
)

func TestDueDecisionTable(t *testing.T) {
	e := &Engine{RetryCooldown: time.Hour}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sw := silentsync.Software{Version: "2.0"}

	link := func(status silentsync.LinkStatus, version string, age time.Duration) silentsync.LinkState {
		return silentsync.LinkState{Status: status, InstalledVersion: version, LastTransition: now.Add(-age)}
	}

	tests := []struct {
		name     string
		action   silentsync.Action
		link     silentsync.LinkState
		haveLink bool
		want     bool
	}{
		{"install, no state", silentsync.ActionInstall, silentsync.LinkState{}, false, true},
		{"install, pending", silentsync.ActionInstall, link(silentsync.StatusPending, "", time.Minute), true, true},
		{"install, installed matching version", silentsync.ActionInstall, link(silentsync.StatusInstalled, "2.0", time.Minute), true, false},
		{"install, installed older version", silentsync.ActionInstall, link(silentsync.StatusInstalled, "1.0", time.Minute), true, true},
		{"install, previously uninstalled", silentsync.ActionInstall, link(silentsync.StatusUninstalled, "", time.Minute), true, true},
		{"install, failed inside cooldown", silentsync.ActionInstall, link(silentsync.StatusFailed, "", 59*time.Minute), true, false},
		{"install, failed past cooldown", silentsync.ActionInstall, link(silentsync.StatusFailed, "", time.Hour), true, true},
		{"uninstall, no state", silentsync.ActionUninstall, silentsync.LinkState{}, false, false},
		{"uninstall, pending", silentsync.ActionUninstall, link(silentsync.StatusPending, "", time.Minute), true, false},
		{"uninstall, installed", silentsync.ActionUninstall, link(silentsync.StatusInstalled, "2.0", time.Minute), true, true},
		{"uninstall, already uninstalled", silentsync.ActionUninstall, link(silentsync.StatusUninstalled, "", time.Minute), true, false},
		{"uninstall, failed inside cooldown", silentsync.ActionUninstall, link(silentsync.StatusFailed, "", time.Minute), true, false},
		{"uninstall, failed past cooldown", silentsync.ActionUninstall, link(silentsync.StatusFailed, "", 2*time.Hour), true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := silentsync.DeploymentPolicy{Action: tt.action}
			if got := e.due(p, sw, tt.link, tt.haveLink, now); got != tt.want {
				t.Errorf("due = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMaterializeDownloadURL(t *testing.T) {
	base, _ := url.Parse("https://sync.example.com")
	policy := silentsync.DeploymentPolicy{ID: 7, Action: silentsync.ActionInstall}

	tests := []struct {
		name    string
		engine  *Engine
		dlURL   string
		wantURL string
		wantOK  bool
	}{
		{"relative resolved against base", &Engine{PublicBaseURL: base}, "/files/tool.exe", "https://sync.example.com/files/tool.exe", true},
		{"absolute passes through", &Engine{PublicBaseURL: base}, "https://cdn.example.net/tool.exe", "https://cdn.example.net/tool.exe", true},
		{"relative without base is skipped", &Engine{}, "/files/tool.exe", "", false},
		{"malformed url is skipped", &Engine{PublicBaseURL: base}, "://bad", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task, ok := tt.engine.materialize(policy, silentsync.Software{ID: 1, Name: "tool", Version: "1.0", DownloadURL: tt.dlURL})
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && task.DownloadURL != tt.wantURL {
				t.Errorf("url = %q, want %q", task.DownloadURL, tt.wantURL)
			}
		})
	}
}
