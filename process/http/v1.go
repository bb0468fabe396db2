package http

import (
	"net/http"

	"github.com/oerhub/editproc/engine/storage"

	"github.com/micromdm/nanolib/log"
)

// Mux can register HTTP handlers.
// Ostensibly this supports flow router.
type Mux interface {
	// Handle registers the handler for the given pattern.
	Handle(pattern string, handler http.Handler, methods ...string)
}

// HandleAPIv1 registers the process definition API handlers into mux.
// API endpoint paths are prepended with prefix.
// Authentication or any other layered handlers are not present.
// They are assumed to be layered with mux, possibly at the Handle call.
func HandleAPIv1(prefix string, mux Mux, logger log.Logger, store storage.DefinitionStore) {
	mux.Handle(
		prefix+"/processes",
		ListProcessesHandler(store, logger.With("handler", "list processes")),
		"GET",
	)
	mux.Handle(
		prefix+"/processes",
		CreateProcessHandler(store, logger.With("handler", "create process")),
		"POST",
	)
	mux.Handle(
		prefix+"/processes/:id",
		GetProcessHandler(store, logger.With("handler", "get process")),
		"GET",
	)
	mux.Handle(
		prefix+"/processes/:id",
		RenameProcessHandler(store, logger.With("handler", "rename process")),
		"PUT",
	)
	mux.Handle(
		prefix+"/processes/:id",
		DeleteProcessHandler(store, logger.With("handler", "delete process")),
		"DELETE",
	)
	mux.Handle(
		prefix+"/processes/:id/structure",
		StructureHandler(store, logger.With("handler", "latest structure")),
		"GET",
	)
	mux.Handle(
		prefix+"/processes/:id/versions",
		ListVersionsHandler(store, logger.With("handler", "list versions")),
		"GET",
	)
	mux.Handle(
		prefix+"/processes/:id/versions",
		CreateVersionHandler(store, logger.With("handler", "create version")),
		"POST",
	)
	mux.Handle(
		prefix+"/processes/:id/versions/:version",
		GetVersionHandler(store, logger.With("handler", "get version")),
		"GET",
	)
	mux.Handle(
		prefix+"/processes/:id/versions/:version",
		DeleteVersionHandler(store, logger.With("handler", "delete version")),
		"DELETE",
	)
	mux.Handle(
		prefix+"/processes/:id/versions/:version/structure",
		StructureHandler(store, logger.With("handler", "version structure")),
		"GET",
	)
}
