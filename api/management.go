package api

import (
	"net/http"
	"strconv"
	"strings"

	"silentsync"
)

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil && id > 0
}

func (s *Server) handleListSoftware(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer().Start(r.Context(), "management.software.list")
	defer span.End()

	list, err := s.Store.ListSoftware(ctx)
	if err != nil {
		s.writeFailure(w, span, err)
		return
	}
	if list == nil {
		list = []silentsync.Software{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateSoftware(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer().Start(r.Context(), "management.software.create")
	defer span.End()

	var sw silentsync.Software
	if err := decodeJSON(w, r, &sw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sw.Name = strings.TrimSpace(sw.Name)
	sw.Version = strings.TrimSpace(sw.Version)
	if sw.Name == "" || sw.Version == "" || sw.DownloadURL == "" {
		writeError(w, http.StatusBadRequest, "name, version and download_url are required")
		return
	}
	if sw.PackageKind == "" {
		sw.PackageKind = silentsync.PackageEXE
	}
	if sw.PackageKind != silentsync.PackageEXE && sw.PackageKind != silentsync.PackageMSI {
		writeError(w, http.StatusBadRequest, "package_kind must be exe or msi")
		return
	}

	created, err := s.Store.InsertSoftware(ctx, sw)
	if err != nil {
		s.writeFailure(w, span, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleUpdateSoftware rewrites a catalog entry. Bumping the version here
// is what drives installed machines to upgrade on their next heartbeat.
func (s *Server) handleUpdateSoftware(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer().Start(r.Context(), "management.software.update")
	defer span.End()

	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid software id")
		return
	}

	var sw silentsync.Software
	if err := decodeJSON(w, r, &sw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sw.ID = id
	sw.Name = strings.TrimSpace(sw.Name)
	sw.Version = strings.TrimSpace(sw.Version)
	if sw.Name == "" || sw.Version == "" || sw.DownloadURL == "" {
		writeError(w, http.StatusBadRequest, "name, version and download_url are required")
		return
	}
	if sw.PackageKind == "" {
		sw.PackageKind = silentsync.PackageEXE
	}
	if sw.PackageKind != silentsync.PackageEXE && sw.PackageKind != silentsync.PackageMSI {
		writeError(w, http.StatusBadRequest, "package_kind must be exe or msi")
		return
	}

	if _, err := s.Store.SoftwareByID(ctx, id); err != nil {
		s.writeFailure(w, span, err)
		return
	}
	if err := s.Store.UpdateSoftware(ctx, sw); err != nil {
		s.writeFailure(w, span, err)
		return
	}
	writeJSON(w, http.StatusOK, sw)
}

func (s *Server) handleDeleteSoftware(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer().Start(r.Context(), "management.software.delete")
	defer span.End()

	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid software id")
		return
	}
	if err := s.Store.DeleteSoftware(ctx, id); err != nil {
		s.writeFailure(w, span, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleListMachines(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer().Start(r.Context(), "management.machines.list")
	defer span.End()

	machines, err := s.Store.ListMachines(ctx)
	if err != nil {
		s.writeFailure(w, span, err)
		return
	}
	if machines == nil {
		machines = []silentsync.Machine{}
	}
	writeJSON(w, http.StatusOK, machines)
}

func (s *Server) handleMachineLogs(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer().Start(r.Context(), "management.machines.logs")
	defer span.End()

	machineID := r.PathValue("id")

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, 1000)
	}

	// 404 unknown machines instead of returning an empty log list.
	if _, err := s.Store.MachineByID(ctx, machineID); err != nil {
		s.writeFailure(w, span, err)
		return
	}

	logs, err := s.Store.AgentLogs(ctx, machineID, limit)
	if err != nil {
		s.writeFailure(w, span, err)
		return
	}
	if logs == nil {
		logs = []silentsync.AgentLogEntry{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer().Start(r.Context(), "management.policies.list")
	defer span.End()

	policies, err := s.Store.ListPolicies(ctx)
	if err != nil {
		s.writeFailure(w, span, err)
		return
	}
	if policies == nil {
		policies = []silentsync.DeploymentPolicy{}
	}
	writeJSON(w, http.StatusOK, policies)
}

func (s *Server) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer().Start(r.Context(), "management.policies.create")
	defer span.End()

	var p silentsync.DeploymentPolicy
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p.TargetValue = strings.TrimSpace(p.TargetValue)
	if p.SoftwareID <= 0 || p.TargetValue == "" {
		writeError(w, http.StatusBadRequest, "software_id and target_value are required")
		return
	}
	if p.TargetKind != silentsync.TargetMachine && p.TargetKind != silentsync.TargetGroup {
		writeError(w, http.StatusBadRequest, "target_kind must be machine or group")
		return
	}
	if p.Action == "" {
		p.Action = silentsync.ActionInstall
	}
	if p.Action != silentsync.ActionInstall && p.Action != silentsync.ActionUninstall {
		writeError(w, http.StatusBadRequest, "action must be install or uninstall")
		return
	}
	if !p.ScheduleStart.IsZero() && !p.ScheduleEnd.IsZero() && !p.ScheduleStart.Before(p.ScheduleEnd) {
		writeError(w, http.StatusBadRequest, "schedule_start must precede schedule_end")
		return
	}

	// A policy naming an unknown catalog entry is refused up front.
	if _, err := s.Store.SoftwareByID(ctx, p.SoftwareID); err != nil {
		s.writeFailure(w, span, err)
		return
	}
	p.CreatedAt = s.now()

	created, err := s.Store.InsertPolicy(ctx, p)
	if err != nil {
		s.writeFailure(w, span, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer().Start(r.Context(), "management.policies.delete")
	defer span.End()

	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid policy id")
		return
	}
	if err := s.Store.DeletePolicy(ctx, id); err != nil {
		s.writeFailure(w, span, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleDirectoryTree(w http.ResponseWriter, r *http.Request) {
	_, span := s.tracer().Start(r.Context(), "management.directory.tree")
	defer span.End()

	entries := s.DirectoryEntries
	if entries == nil {
		entries = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"entries": entries})
}
