// Package http contains HTTP handlers for process definition operations.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/oerhub/editproc/engine/storage"
	"github.com/oerhub/editproc/http/api"
	"github.com/oerhub/editproc/logkeys"
	"github.com/oerhub/editproc/process"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

// errStatus maps storage and validation errors to HTTP status codes.
func errStatus(err error) int {
	var structErr *process.StructureError
	switch {
	case errors.As(err, &structErr):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrDuplicateName), errors.Is(err, storage.ErrInUse):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// idParam parses the named route parameter as an int64.
func idParam(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(flow.Param(r.Context(), name), 10, 64)
}

// versionJSON is the wire projection of a version.
type versionJSON struct {
	ID        int64     `json:"id"`
	Process   int64     `json:"process"`
	CreatedAt time.Time `json:"created_at"`
	Start     int64     `json:"start"`
}

func versionResp(v *storage.Version) *versionJSON {
	return &versionJSON{
		ID:        v.ID,
		Process:   v.ProcessID,
		CreatedAt: v.CreatedAt,
		Start:     v.Start,
	}
}

// CreateProcessHandler creates a HandlerFunc that creates a process
// with its first version from a submitted tree.
func CreateProcessHandler(store storage.DefinitionStore, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		var tree process.Tree
		if err := json.NewDecoder(r.Body).Decode(&tree); err != nil {
			logger.Info(logkeys.Message, "decoding request", logkeys.Error, err)
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}
		logger = logger.With(logkeys.ProcessName, tree.Name)

		version, err := store.CreateProcess(r.Context(), &tree)
		if err != nil {
			logger.Info(logkeys.Message, "creating process", logkeys.Error, err)
			api.JSONError(w, err, errStatus(err))
			return
		}

		logger.Debug(logkeys.Message, "created process", logkeys.ProcessID, version.ProcessID)
		w.WriteHeader(http.StatusCreated)
		if err = json.NewEncoder(w).Encode(versionResp(version)); err != nil {
			logger.Info(logkeys.Message, "encoding json response", logkeys.Error, err)
		}
	}
}

// ListProcessesHandler creates a HandlerFunc that lists all processes.
func ListProcessesHandler(store storage.DefinitionStore, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		procs, err := store.RetrieveProcesses(r.Context())
		if err != nil {
			logger.Info(logkeys.Message, "listing processes", logkeys.Error, err)
			api.JSONError(w, err, errStatus(err))
			return
		}
		jsonResp := make([]struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		}, 0, len(procs))
		for _, p := range procs {
			jsonResp = append(jsonResp, struct {
				ID   int64  `json:"id"`
				Name string `json:"name"`
			}{ID: p.ID, Name: p.Name})
		}
		if err = json.NewEncoder(w).Encode(jsonResp); err != nil {
			logger.Info(logkeys.Message, "encoding json response", logkeys.Error, err)
		}
	}
}

// GetProcessHandler creates a HandlerFunc that fetches one process.
func GetProcessHandler(store storage.DefinitionStore, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		id, err := idParam(r, "id")
		if err != nil {
			logger.Info(logkeys.Message, "parameters", logkeys.Error, err)
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}
		p, err := store.RetrieveProcess(r.Context(), id)
		if err != nil {
			logger.Info(logkeys.Message, "fetching process", logkeys.Error, err, logkeys.ProcessID, id)
			api.JSONError(w, err, errStatus(err))
			return
		}
		jsonResp := &struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		}{ID: p.ID, Name: p.Name}
		if err = json.NewEncoder(w).Encode(jsonResp); err != nil {
			logger.Info(logkeys.Message, "encoding json response", logkeys.Error, err)
		}
	}
}

// RenameProcessHandler creates a HandlerFunc that renames a process.
func RenameProcessHandler(store storage.DefinitionStore, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		id, err := idParam(r, "id")
		if err != nil {
			logger.Info(logkeys.Message, "parameters", logkeys.Error, err)
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}
		var req struct {
			Name string `json:"name"`
		}
		if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Info(logkeys.Message, "decoding request", logkeys.Error, err)
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}
		logger = logger.With(logkeys.ProcessID, id, logkeys.ProcessName, req.Name)

		if err = store.RenameProcess(r.Context(), id, req.Name); err != nil {
			logger.Info(logkeys.Message, "renaming process", logkeys.Error, err)
			api.JSONError(w, err, errStatus(err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// DeleteProcessHandler creates a HandlerFunc that deletes a process
// and all its versions.
func DeleteProcessHandler(store storage.DefinitionStore, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		id, err := idParam(r, "id")
		if err != nil {
			logger.Info(logkeys.Message, "parameters", logkeys.Error, err)
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}
		if err = store.DeleteProcess(r.Context(), id); err != nil {
			logger.Info(logkeys.Message, "deleting process", logkeys.Error, err, logkeys.ProcessID, id)
			api.JSONError(w, err, errStatus(err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// CreateVersionHandler creates a HandlerFunc that commits a new
// version of an existing process.
func CreateVersionHandler(store storage.DefinitionStore, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		id, err := idParam(r, "id")
		if err != nil {
			logger.Info(logkeys.Message, "parameters", logkeys.Error, err)
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}
		var tree process.Tree
		if err = json.NewDecoder(r.Body).Decode(&tree); err != nil {
			logger.Info(logkeys.Message, "decoding request", logkeys.Error, err)
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}
		logger = logger.With(logkeys.ProcessID, id)

		version, err := store.CreateVersion(r.Context(), id, &tree)
		if err != nil {
			logger.Info(logkeys.Message, "creating version", logkeys.Error, err)
			api.JSONError(w, err, errStatus(err))
			return
		}

		logger.Debug(logkeys.Message, "created version", logkeys.VersionID, version.ID)
		w.WriteHeader(http.StatusCreated)
		if err = json.NewEncoder(w).Encode(versionResp(version)); err != nil {
			logger.Info(logkeys.Message, "encoding json response", logkeys.Error, err)
		}
	}
}

// ListVersionsHandler creates a HandlerFunc that lists a process's
// versions, newest first.
func ListVersionsHandler(store storage.DefinitionStore, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		id, err := idParam(r, "id")
		if err != nil {
			logger.Info(logkeys.Message, "parameters", logkeys.Error, err)
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}
		versions, err := store.RetrieveVersions(r.Context(), id)
		if err != nil {
			logger.Info(logkeys.Message, "listing versions", logkeys.Error, err, logkeys.ProcessID, id)
			api.JSONError(w, err, errStatus(err))
			return
		}
		jsonResp := make([]*versionJSON, 0, len(versions))
		for i := range versions {
			jsonResp = append(jsonResp, versionResp(&versions[i]))
		}
		if err = json.NewEncoder(w).Encode(jsonResp); err != nil {
			logger.Info(logkeys.Message, "encoding json response", logkeys.Error, err)
		}
	}
}

// GetVersionHandler creates a HandlerFunc that fetches one version.
func GetVersionHandler(store storage.DefinitionStore, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		id, err := idParam(r, "id")
		if err != nil {
			logger.Info(logkeys.Message, "parameters", logkeys.Error, err)
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}
		versionID, err := idParam(r, "version")
		if err != nil {
			logger.Info(logkeys.Message, "parameters", logkeys.Error, err)
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}
		version, err := store.RetrieveVersion(r.Context(), id, versionID)
		if err != nil {
			logger.Info(logkeys.Message, "fetching version", logkeys.Error, err, logkeys.VersionID, versionID)
			api.JSONError(w, err, errStatus(err))
			return
		}
		if err = json.NewEncoder(w).Encode(versionResp(version)); err != nil {
			logger.Info(logkeys.Message, "encoding json response", logkeys.Error, err)
		}
	}
}

// StructureHandler creates a HandlerFunc that reads a version's tree
// back with assigned IDs. Without a version route parameter the
// process's latest version is used.
func StructureHandler(store storage.DefinitionStore, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		id, err := idParam(r, "id")
		if err != nil {
			logger.Info(logkeys.Message, "parameters", logkeys.Error, err)
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}
		logger = logger.With(logkeys.ProcessID, id)

		var version *storage.Version
		if param := flow.Param(r.Context(), "version"); param != "" {
			versionID, err := strconv.ParseInt(param, 10, 64)
			if err != nil {
				logger.Info(logkeys.Message, "parameters", logkeys.Error, err)
				api.JSONError(w, err, http.StatusBadRequest)
				return
			}
			version, err = store.RetrieveVersion(r.Context(), id, versionID)
			if err != nil {
				logger.Info(logkeys.Message, "fetching version", logkeys.Error, err)
				api.JSONError(w, err, errStatus(err))
				return
			}
		} else {
			version, err = store.LatestVersion(r.Context(), id)
			if err != nil {
				logger.Info(logkeys.Message, "fetching latest version", logkeys.Error, err)
				api.JSONError(w, err, errStatus(err))
				return
			}
		}

		tree, err := store.RetrieveStructure(r.Context(), version.ID)
		if err != nil {
			logger.Info(logkeys.Message, "fetching structure", logkeys.Error, err, logkeys.VersionID, version.ID)
			api.JSONError(w, err, errStatus(err))
			return
		}
		if err = json.NewEncoder(w).Encode(tree); err != nil {
			logger.Info(logkeys.Message, "encoding json response", logkeys.Error, err)
		}
	}
}

// DeleteVersionHandler creates a HandlerFunc that deletes one version.
func DeleteVersionHandler(store storage.DefinitionStore, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		versionID, err := idParam(r, "version")
		if err != nil {
			logger.Info(logkeys.Message, "parameters", logkeys.Error, err)
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}
		if err = store.DeleteVersion(r.Context(), versionID); err != nil {
			logger.Info(logkeys.Message, "deleting version", logkeys.Error, err, logkeys.VersionID, versionID)
			api.JSONError(w, err, errStatus(err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
