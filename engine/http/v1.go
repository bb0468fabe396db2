package http

import (
	"net/http"

	"github.com/micromdm/nanolib/log"
)

// APIEngine is the full draft surface the v1 API serves.
type APIEngine interface {
	DraftAdvancer
	DraftBeginner
	DraftCanceller
	SlotAssigner
	DraftQuerier
}

// Mux can register HTTP handlers.
// Ostensibly this supports flow router.
type Mux interface {
	// Handle registers the handler for the given pattern.
	Handle(pattern string, handler http.Handler, methods ...string)
}

// HandleAPIv1 registers the draft API handlers into mux.
// API endpoint paths are prepended with prefix.
// Authentication or any other layered handlers are not present.
// They are assumed to be layered with mux, possibly at the Handle call.
func HandleAPIv1(prefix string, mux Mux, logger log.Logger, e APIEngine) {
	mux.Handle(
		prefix+"/drafts",
		UserDraftsHandler(e, logger.With("handler", "user drafts")),
		"GET",
	)
	mux.Handle(
		prefix+"/drafts/:id/advance",
		AdvanceDraftHandler(e, logger.With("handler", "advance draft")),
		"POST",
	)
	mux.Handle(
		prefix+"/drafts/:id",
		CancelDraftHandler(e, logger.With("handler", "cancel draft")),
		"DELETE",
	)
	mux.Handle(
		prefix+"/drafts/:id/process",
		SeatingHandler(e, logger.With("handler", "seating")),
		"GET",
	)
	mux.Handle(
		prefix+"/drafts/:id/slots/:slot",
		AssignSlotHandler(e, logger.With("handler", "assign slot")),
		"PUT",
	)
	mux.Handle(
		prefix+"/drafts/:id/slots/:slot",
		UnassignSlotHandler(e, logger.With("handler", "unassign slot")),
		"DELETE",
	)
	mux.Handle(
		prefix+"/modules/:id/drafts",
		BeginProcessHandler(e, logger.With("handler", "begin process")),
		"POST",
	)
	mux.Handle(
		prefix+"/processes/slots",
		TakeSlotHandler(e, logger.With("handler", "take slot")),
		"POST",
	)
	mux.Handle(
		prefix+"/processes/slots/free",
		FreeSlotsHandler(e, logger.With("handler", "free slots")),
		"GET",
	)
}
