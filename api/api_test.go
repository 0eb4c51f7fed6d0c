package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"silentsync"
	"silentsync/infra/sqlite"
	"silentsync/internal/directory"
	"silentsync/internal/ratelimit"
	"silentsync/internal/reconcile"
	"silentsync/internal/registry"
)

const testPoolToken = "test-pool-token"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type fixture struct {
	ts    *httptest.Server
	store *sqlite.Store
}

func newFixture(t *testing.T, limits ratelimit.Limits) *fixture {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	entries := []string{"CN=PC1,OU=Sales,DC=example,DC=com"}
	base, _ := url.Parse("https://sync.example.com")

	srv := &Server{
		Service: &reconcile.Service{
			Store:    store,
			Registry: &registry.Registry{Directory: directory.NewMock(entries), Clock: clock},
			Engine:   &reconcile.Engine{Clock: clock, PublicBaseURL: base},
		},
		Store:            store,
		Guard:            ratelimit.NewGuard(limits, clock),
		PoolToken:        testPoolToken,
		DirectoryEntries: entries,
		Clock:            clock,
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &fixture{ts: ts, store: store}
}

func defaultLimits() ratelimit.Limits {
	return ratelimit.Limits{
		Window:        time.Minute,
		HeartbeatsPer: 100,
		RegistersPer:  100,
		LogsPer:       100,
	}
}

// do sends a JSON request with the pool token plus any extra headers and
// decodes the JSON response into out (when out is non-nil).
func (f *fixture) do(t *testing.T, method, path string, body any, headers map[string]string, out any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, f.ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerAgentToken, testPoolToken)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return resp
}

func (f *fixture) createSoftware(t *testing.T, name, version string) silentsync.Software {
	t.Helper()
	var sw silentsync.Software
	resp := f.do(t, http.MethodPost, "/api/v1/management/software", map[string]string{
		"name":         name,
		"version":      version,
		"download_url": "/files/" + name + ".exe",
		"silent_args":  "/S",
	}, nil, &sw)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create software: status %d", resp.StatusCode)
	}
	return sw
}

func (f *fixture) createPolicy(t *testing.T, softwareID int64, kind, target, action string) silentsync.DeploymentPolicy {
	t.Helper()
	var p silentsync.DeploymentPolicy
	resp := f.do(t, http.MethodPost, "/api/v1/management/policies", map[string]any{
		"software_id":  softwareID,
		"target_kind":  kind,
		"target_value": target,
		"action":       action,
	}, nil, &p)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create policy: status %d", resp.StatusCode)
	}
	return p
}

func (f *fixture) heartbeat(t *testing.T, hwid, name, machineToken string) (heartbeatResponse, *http.Response) {
	t.Helper()
	headers := map[string]string{}
	if machineToken != "" {
		headers[headerMachineToken] = machineToken
	}
	var out heartbeatResponse
	resp := f.do(t, http.MethodPost, "/api/v1/agent/heartbeat", map[string]string{
		"hardware_id":  hwid,
		"display_name": name,
		"os_info":      "Windows 11 Pro",
	}, headers, &out)
	return out, resp
}

func TestPoolTokenGate(t *testing.T) {
	f := newFixture(t, defaultLimits())

	for _, token := range []string{"", "wrong"} {
		req, _ := http.NewRequest(http.MethodPost, f.ts.URL+"/api/v1/agent/heartbeat", bytes.NewBufferString("{}"))
		if token != "" {
			req.Header.Set(headerAgentToken, token)
		}
		resp, err := f.ts.Client().Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("pool token %q: status %d, want 401", token, resp.StatusCode)
		}
	}
}

func TestHeartbeatAckRoundTrip(t *testing.T) {
	f := newFixture(t, defaultLimits())
	sw := f.createSoftware(t, "7zip", "23.01")
	policy := f.createPolicy(t, sw.ID, "group", "OU=Sales", "install")

	hb, resp := f.heartbeat(t, "HW-001", "PC1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first heartbeat: status %d", resp.StatusCode)
	}
	if len(hb.MachineToken) != 64 {
		t.Fatalf("machine token length %d, want 64", len(hb.MachineToken))
	}
	if len(hb.Tasks) != 1 {
		t.Fatalf("tasks: %d, want 1", len(hb.Tasks))
	}
	task := hb.Tasks[0]
	if task.ID != policy.ID || task.SoftwareName != "7zip" {
		t.Errorf("task: %+v", task)
	}
	if task.DownloadURL != "https://sync.example.com/files/7zip.exe" {
		t.Errorf("relative download url not resolved: %q", task.DownloadURL)
	}

	var ackOut map[string]bool
	resp = f.do(t, http.MethodPost, "/api/v1/agent/ack", map[string]any{
		"hardware_id": "HW-001",
		"task_id":     task.ID,
		"outcome":     "success",
	}, map[string]string{headerMachineToken: hb.MachineToken}, &ackOut)
	if resp.StatusCode != http.StatusOK || !ackOut["acknowledged"] {
		t.Fatalf("ack: status %d body %v", resp.StatusCode, ackOut)
	}

	hb2, resp := f.heartbeat(t, "HW-001", "PC1", hb.MachineToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second heartbeat: status %d", resp.StatusCode)
	}
	if len(hb2.Tasks) != 0 {
		t.Errorf("tasks after successful ack: %d, want 0", len(hb2.Tasks))
	}
	if hb2.MachineToken != hb.MachineToken {
		t.Error("machine token changed across heartbeats")
	}
}

func TestVersionBumpReissuesInstall(t *testing.T) {
	f := newFixture(t, defaultLimits())
	sw := f.createSoftware(t, "7zip", "23.01")
	f.createPolicy(t, sw.ID, "machine", "PC1", "install")

	hb, _ := f.heartbeat(t, "HW-001", "PC1", "")
	f.do(t, http.MethodPost, "/api/v1/agent/ack", map[string]any{
		"hardware_id": "HW-001", "task_id": hb.Tasks[0].ID, "outcome": "success",
	}, map[string]string{headerMachineToken: hb.MachineToken}, nil)

	sw.Version = "24.00"
	resp := f.do(t, http.MethodPut, fmt.Sprintf("/api/v1/management/software/%d", sw.ID), sw, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update software: status %d", resp.StatusCode)
	}

	hb2, _ := f.heartbeat(t, "HW-001", "PC1", hb.MachineToken)
	if len(hb2.Tasks) != 1 || hb2.Tasks[0].Version != "24.00" {
		t.Fatalf("tasks after version bump: %+v", hb2.Tasks)
	}

	resp = f.do(t, http.MethodPut, "/api/v1/management/software/999", sw, nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("update unknown software: status %d, want 404", resp.StatusCode)
	}
}

func TestHeartbeatSpoofRejected(t *testing.T) {
	f := newFixture(t, defaultLimits())

	hb, _ := f.heartbeat(t, "HW-001", "PC1", "")

	// Same hardware id without the minted token: refused.
	_, resp := f.heartbeat(t, "HW-001", "PC1", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bare heartbeat for provisioned machine: status %d, want 401", resp.StatusCode)
	}
	_, resp = f.heartbeat(t, "HW-001", "PC1", "not-the-token")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong machine token: status %d, want 401", resp.StatusCode)
	}
	_, resp = f.heartbeat(t, "HW-001", "PC1", hb.MachineToken)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("correct machine token: status %d, want 200", resp.StatusCode)
	}
}

func TestAckValidation(t *testing.T) {
	f := newFixture(t, defaultLimits())
	sw := f.createSoftware(t, "7zip", "23.01")
	policy := f.createPolicy(t, sw.ID, "machine", "PC2", "install")

	hb, _ := f.heartbeat(t, "HW-001", "PC1", "")

	tests := []struct {
		name   string
		body   map[string]any
		token  string
		status int
	}{
		{"bad outcome", map[string]any{"hardware_id": "HW-001", "task_id": policy.ID, "outcome": "done"}, hb.MachineToken, http.StatusBadRequest},
		{"wrong token", map[string]any{"hardware_id": "HW-001", "task_id": policy.ID, "outcome": "success"}, "bogus", http.StatusUnauthorized},
		{"unknown task", map[string]any{"hardware_id": "HW-001", "task_id": int64(999), "outcome": "success"}, hb.MachineToken, http.StatusNotFound},
		{"not targeted", map[string]any{"hardware_id": "HW-001", "task_id": policy.ID, "outcome": "success"}, hb.MachineToken, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, "/api/v1/agent/ack", tt.body,
				map[string]string{headerMachineToken: tt.token}, nil)
			if resp.StatusCode != tt.status {
				t.Errorf("status %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}
}

func TestHeartbeatRateLimited(t *testing.T) {
	limits := defaultLimits()
	limits.HeartbeatsPer = 2
	f := newFixture(t, limits)

	hb, _ := f.heartbeat(t, "HW-001", "PC1", "")
	f.heartbeat(t, "HW-001", "PC1", hb.MachineToken)

	_, resp := f.heartbeat(t, "HW-001", "PC1", hb.MachineToken)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("429 without Retry-After header")
	}

	// Other identities are unaffected.
	_, resp = f.heartbeat(t, "HW-002", "PC9", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("other identity: status %d, want 200", resp.StatusCode)
	}
}

func TestAgentLogIngestion(t *testing.T) {
	f := newFixture(t, defaultLimits())
	hb, _ := f.heartbeat(t, "HW-001", "PC1", "")

	var machines []silentsync.Machine
	f.do(t, http.MethodGet, "/api/v1/management/machines", nil, nil, &machines)
	if len(machines) != 1 {
		t.Fatalf("machines: %d, want 1", len(machines))
	}
	machineID := machines[0].ID

	resp := f.do(t, http.MethodPost, "/api/v1/agent/log", map[string]string{
		"hardware_id": "HW-001", "level": "error", "message": "installer exited 1603",
	}, map[string]string{headerMachineToken: hb.MachineToken}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("log: status %d", resp.StatusCode)
	}

	resp = f.do(t, http.MethodPost, "/api/v1/agent/log", map[string]string{
		"hardware_id": "HW-001", "level": "verbose", "message": "x",
	}, map[string]string{headerMachineToken: hb.MachineToken}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad level: status %d, want 400", resp.StatusCode)
	}

	resp = f.do(t, http.MethodPost, "/api/v1/agent/log", map[string]string{
		"hardware_id": "HW-001", "level": "info", "message": "x",
	}, nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("log without machine token: status %d, want 401", resp.StatusCode)
	}

	var logs []silentsync.AgentLogEntry
	resp = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/management/machines/%s/logs", machineID), nil, nil, &logs)
	if resp.StatusCode != http.StatusOK || len(logs) != 1 {
		t.Fatalf("logs: status %d count %d", resp.StatusCode, len(logs))
	}
	if logs[0].Level != "ERROR" || logs[0].Message != "installer exited 1603" {
		t.Errorf("log entry: %+v", logs[0])
	}

	resp = f.do(t, http.MethodGet, "/api/v1/management/machines/no-such-id/logs", nil, nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("logs for unknown machine: status %d, want 404", resp.StatusCode)
	}
}

func TestManagementValidation(t *testing.T) {
	f := newFixture(t, defaultLimits())
	sw := f.createSoftware(t, "7zip", "23.01")

	tests := []struct {
		name   string
		path   string
		body   map[string]any
		status int
	}{
		{"software missing fields", "/api/v1/management/software",
			map[string]any{"name": "x"}, http.StatusBadRequest},
		{"software bad kind", "/api/v1/management/software",
			map[string]any{"name": "x", "version": "1", "download_url": "/x", "package_kind": "dmg"}, http.StatusBadRequest},
		{"policy bad target kind", "/api/v1/management/policies",
			map[string]any{"software_id": sw.ID, "target_kind": "ou", "target_value": "x"}, http.StatusBadRequest},
		{"policy bad action", "/api/v1/management/policies",
			map[string]any{"software_id": sw.ID, "target_kind": "group", "target_value": "x", "action": "wipe"}, http.StatusBadRequest},
		{"policy unknown software", "/api/v1/management/policies",
			map[string]any{"software_id": int64(999), "target_kind": "group", "target_value": "x", "action": "install"}, http.StatusNotFound},
		{"policy inverted schedule", "/api/v1/management/policies",
			map[string]any{
				"software_id": sw.ID, "target_kind": "group", "target_value": "x", "action": "install",
				"schedule_start": "2026-04-01T00:00:00Z", "schedule_end": "2026-03-01T00:00:00Z",
			}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, tt.path, tt.body, nil, nil)
			if resp.StatusCode != tt.status {
				t.Errorf("status %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}
}

func TestPolicyLifecycle(t *testing.T) {
	f := newFixture(t, defaultLimits())
	sw := f.createSoftware(t, "7zip", "23.01")
	p := f.createPolicy(t, sw.ID, "group", "OU=Sales", "install")

	var policies []silentsync.DeploymentPolicy
	f.do(t, http.MethodGet, "/api/v1/management/policies", nil, nil, &policies)
	if len(policies) != 1 {
		t.Fatalf("policies: %d, want 1", len(policies))
	}

	resp := f.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/management/policies/%d", p.ID), nil, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: status %d", resp.StatusCode)
	}
	resp = f.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/management/policies/%d", p.ID), nil, nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("delete again: status %d, want 404", resp.StatusCode)
	}

	f.do(t, http.MethodGet, "/api/v1/management/policies", nil, nil, &policies)
	if len(policies) != 0 {
		t.Errorf("policies after delete: %d, want 0", len(policies))
	}
}

func TestDirectoryTreeAndHealth(t *testing.T) {
	f := newFixture(t, defaultLimits())

	var tree map[string][]string
	resp := f.do(t, http.MethodGet, "/api/v1/management/directory/tree", nil, nil, &tree)
	if resp.StatusCode != http.StatusOK || len(tree["entries"]) != 1 {
		t.Errorf("tree: status %d entries %v", resp.StatusCode, tree)
	}

	// Health is unauthenticated.
	httpResp, err := f.ts.Client().Get(f.ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer httpResp.Body.Close()
	var health map[string]any
	if err := json.NewDecoder(httpResp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	if httpResp.StatusCode != http.StatusOK || health["status"] != "ok" {
		t.Errorf("health: status %d body %v", httpResp.StatusCode, health)
	}
}
