package daemon

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	apihttp "github.com/mcpherd/mcpherd/internal/api/http"
	"github.com/mcpherd/mcpherd/internal/clientconfig"
	"github.com/mcpherd/mcpherd/internal/importer"
	"github.com/mcpherd/mcpherd/internal/registry"
	"github.com/mcpherd/mcpherd/internal/supervisor"
	"github.com/mcpherd/mcpherd/internal/version"
)

func (s *httpService) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/servers", s.handleListServers)
	mux.HandleFunc("POST /v1/servers", s.handleCreateServer)
	mux.HandleFunc("GET /v1/servers/{name}", s.handleGetServer)
	mux.HandleFunc("PATCH /v1/servers/{name}", s.handleUpdateServer)
	mux.HandleFunc("DELETE /v1/servers/{name}", s.handleDeleteServer)

	mux.HandleFunc("POST /v1/servers/{name}/start", s.handleStart)
	mux.HandleFunc("POST /v1/servers/{name}/stop", s.handleStop)
	mux.HandleFunc("POST /v1/servers/{name}/restart", s.handleRestart)
	mux.HandleFunc("GET /v1/servers/{name}/status", s.handleStatus)
	mux.HandleFunc("GET /v1/processes", s.handleListRunning)

	mux.HandleFunc("POST /v1/reconcile", s.handleReconcile)
	mux.HandleFunc("POST /v1/import", s.handleImport)

	mux.HandleFunc("GET /v1/daemon", s.handleDaemonInfo)
	mux.HandleFunc("POST /v1/daemon/shutdown", s.handleShutdown)

	mux.HandleFunc("GET /v1/logs/stream", s.handleLogStream)

	return mux
}

func (s *httpService) handleListServers(w http.ResponseWriter, r *http.Request) {
	defs, err := s.daemon.manager.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	list := apihttp.ServerList{Servers: make([]apihttp.Server, 0, len(defs))}
	for _, def := range defs {
		list.Servers = append(list.Servers, apihttp.FromDefinition(def))
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *httpService) handleCreateServer(w http.ResponseWriter, r *http.Request) {
	var req apihttp.Server
	if !decodeBody(w, r, &req) {
		return
	}
	created, err := s.daemon.manager.Create(r.Context(), req.ToDefinition())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, apihttp.FromDefinition(created))
}

func (s *httpService) handleGetServer(w http.ResponseWriter, r *http.Request) {
	def, err := s.daemon.manager.Get(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apihttp.FromDefinition(def))
}

func (s *httpService) handleUpdateServer(w http.ResponseWriter, r *http.Request) {
	var req apihttp.UpdateServerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	updated, err := s.daemon.manager.Update(r.Context(), r.PathValue("name"), req.ToPatch())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apihttp.FromDefinition(updated))
}

func (s *httpService) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.manager.Delete(r.Context(), r.PathValue("name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *httpService) handleStart(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.daemon.manager.Start(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	status, err := s.daemon.manager.Status(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apihttp.FromStatus(status))
}

func (s *httpService) handleStop(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	timeout, ok := stopTimeout(w, r)
	if !ok {
		return
	}
	if err := s.daemon.manager.Stop(r.Context(), name, timeout); err != nil {
		writeError(w, err)
		return
	}
	status, err := s.daemon.manager.Status(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apihttp.FromStatus(status))
}

func (s *httpService) handleRestart(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	timeout, ok := stopTimeout(w, r)
	if !ok {
		return
	}
	if err := s.daemon.manager.Restart(r.Context(), name, timeout); err != nil {
		writeError(w, err)
		return
	}
	status, err := s.daemon.manager.Status(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apihttp.FromStatus(status))
}

func (s *httpService) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.daemon.manager.Status(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apihttp.FromStatus(status))
}

func (s *httpService) handleListRunning(w http.ResponseWriter, r *http.Request) {
	names := s.daemon.manager.ListRunning()
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, apihttp.RunningList{Names: names})
}

func (s *httpService) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req apihttp.ReconcileRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	report, err := s.daemon.manager.Reconcile(r.Context(), req.DryRun)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *httpService) handleImport(w http.ResponseWriter, r *http.Request) {
	var req apihttp.ImportRequest
	if !decodeBody(w, r, &req) {
		return
	}
	def, err := s.daemon.manager.Import(r.Context(), req.Path, importer.Options{Name: req.Name})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, apihttp.FromDefinition(def))
}

func (s *httpService) handleDaemonInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, apihttp.DaemonInfo{
		Version:   version.String(),
		PID:       os.Getpid(),
		StartedAt: s.daemon.startedAt,
	})
}

func (s *httpService) handleShutdown(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusAccepted)
	if s.requestShutdown != nil {
		go s.requestShutdown()
	}
}

func stopTimeout(w http.ResponseWriter, r *http.Request) (time.Duration, bool) {
	var req apihttp.StopRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return 0, false
	}
	return time.Duration(req.TimeoutSeconds * float64(time.Second)), true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, apihttp.ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Kind:  apihttp.KindInternal,
		})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps the error taxonomy onto HTTP statuses and stable kinds so
// front ends can explain failures precisely.
func writeError(w http.ResponseWriter, err error) {
	kind := apihttp.KindInternal
	status := http.StatusInternalServerError

	switch {
	case registry.IsNotFound(err):
		kind, status = apihttp.KindNotFound, http.StatusNotFound
	case registry.IsInvalidDefinition(err):
		kind, status = apihttp.KindInvalidDefinition, http.StatusBadRequest
	case errors.Is(err, registry.ErrDuplicateName):
		kind, status = apihttp.KindDuplicateName, http.StatusConflict
	case errors.Is(err, registry.ErrProcessStillRunning):
		kind, status = apihttp.KindProcessStillRunning, http.StatusConflict
	case errors.Is(err, supervisor.ErrAlreadyRunning):
		kind, status = apihttp.KindAlreadyRunning, http.StatusConflict
	case errors.Is(err, supervisor.ErrNotRunning):
		kind, status = apihttp.KindNotRunning, http.StatusConflict
	case errors.Is(err, supervisor.ErrDisabled):
		kind, status = apihttp.KindDisabled, http.StatusConflict
	case errors.Is(err, supervisor.ErrStopTimeout):
		kind, status = apihttp.KindStopTimeout, http.StatusInternalServerError
	case supervisor.IsSpawnFailed(err):
		kind, status = apihttp.KindSpawnFailed, http.StatusBadGateway
	case importer.IsNameCollision(err):
		kind, status = apihttp.KindNameCollision, http.StatusConflict
	case importer.IsInvalidArtifact(err):
		kind, status = apihttp.KindInvalidArtifact, http.StatusBadRequest
	case clientconfig.IsUnreadable(err):
		kind, status = apihttp.KindConfigUnreadable, http.StatusInternalServerError
	case clientconfig.IsWriteFailed(err):
		kind, status = apihttp.KindConfigWriteFailed, http.StatusInternalServerError
	}

	writeJSON(w, status, apihttp.ErrorResponse{Error: err.Error(), Kind: kind})
}
