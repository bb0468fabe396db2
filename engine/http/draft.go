package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/oerhub/editproc/engine/storage"
	"github.com/oerhub/editproc/http/api"
	"github.com/oerhub/editproc/logkeys"
	"github.com/oerhub/editproc/process"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

var ErrNoUser = errors.New("no user provided")

// AdvanceDraftHandler creates a HandlerFunc that advances a draft.
func AdvanceDraftHandler(advancer DraftAdvancer, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		module, err := moduleID(flow.Param(r.Context(), "id"))
		if err != nil {
			logger.Info(logkeys.Message, "parameters", logkeys.Error, err)
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}
		var req struct {
			User int64 `json:"user"`
			Slot int64 `json:"slot"`
			To   int64 `json:"to"`
		}
		if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Info(logkeys.Message, "decoding request", logkeys.Error, err)
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}
		logger = logger.With(
			logkeys.ModuleID, module,
			logkeys.UserID, req.User,
			logkeys.SlotID, req.Slot,
			logkeys.StepID, req.To,
		)

		result, err := advancer.Advance(r.Context(), module, req.User, req.Slot, req.To)
		if err != nil {
			logger.Info(logkeys.Message, "advancing draft", logkeys.Error, err)
			api.JSONError(w, err, errStatus(err))
			return
		}

		jsonResp := &struct {
			Code        string                   `json:"code"`
			Draft       *draftJSON               `json:"draft,omitempty"`
			Permissions []process.SlotPermission `json:"permissions,omitempty"`
			Links       []linkJSON               `json:"links,omitempty"`
		}{Code: result.Code}
		if result.Draft != nil {
			jsonResp.Draft = draftResp(result.Draft)
			jsonResp.Permissions = result.Permissions.Slice()
			for _, link := range result.Links {
				jsonResp.Links = append(jsonResp.Links, linkJSON{
					Name: link.Name,
					To:   link.ToStepID,
					Slot: link.SlotID,
				})
			}
		}
		if err = json.NewEncoder(w).Encode(jsonResp); err != nil {
			logger.Info(logkeys.Message, "encoding json response", logkeys.Error, err)
		}
	}
}

// linkJSON is the wire projection of a usable transition.
type linkJSON struct {
	Name string `json:"name"`
	To   int64  `json:"to"`
	Slot int64  `json:"slot"`
}

// BeginProcessHandler creates a HandlerFunc that starts a process on a module.
func BeginProcessHandler(beginner DraftBeginner, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		module, err := moduleID(flow.Param(r.Context(), "id"))
		if err != nil {
			logger.Info(logkeys.Message, "parameters", logkeys.Error, err)
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}
		var req struct {
			Team        int64 `json:"team"`
			Version     int64 `json:"version"`
			Assignments []struct {
				Slot int64 `json:"slot"`
				User int64 `json:"user"`
			} `json:"assignments"`
		}
		if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Info(logkeys.Message, "decoding request", logkeys.Error, err)
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}
		logger = logger.With(
			logkeys.ModuleID, module,
			logkeys.VersionID, req.Version,
		)

		assignments := make([]storage.Assignment, 0, len(req.Assignments))
		for _, a := range req.Assignments {
			assignments = append(assignments, storage.Assignment{SlotID: a.Slot, UserID: a.User})
		}
		draft, err := beginner.BeginProcess(r.Context(), module, req.Team, req.Version, assignments)
		if err != nil {
			logger.Info(logkeys.Message, "beginning process", logkeys.Error, err)
			api.JSONError(w, err, errStatus(err))
			return
		}

		w.WriteHeader(http.StatusCreated)
		if err = json.NewEncoder(w).Encode(draftResp(draft)); err != nil {
			logger.Info(logkeys.Message, "encoding json response", logkeys.Error, err)
		}
	}
}

// CancelDraftHandler creates a HandlerFunc that discards a draft.
func CancelDraftHandler(canceller DraftCanceller, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		module, err := moduleID(flow.Param(r.Context(), "id"))
		if err != nil {
			logger.Info(logkeys.Message, "parameters", logkeys.Error, err)
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}
		if err = canceller.CancelProcess(r.Context(), module); err != nil {
			logger.Info(logkeys.Message, "cancelling process", logkeys.Error, err, logkeys.ModuleID, module)
			api.JSONError(w, err, errStatus(err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// AssignSlotHandler creates a HandlerFunc that seats a user in a draft slot.
func AssignSlotHandler(assigner SlotAssigner, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		module, slot, err := draftSlotParams(r)
		if err != nil {
			logger.Info(logkeys.Message, "parameters", logkeys.Error, err)
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}
		var req struct {
			User int64 `json:"user"`
		}
		if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Info(logkeys.Message, "decoding request", logkeys.Error, err)
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}
		logger = logger.With(logkeys.ModuleID, module, logkeys.SlotID, slot, logkeys.UserID, req.User)

		if err = assigner.AssignSlot(r.Context(), module, slot, req.User); err != nil {
			logger.Info(logkeys.Message, "assigning slot", logkeys.Error, err)
			api.JSONError(w, err, errStatus(err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// UnassignSlotHandler creates a HandlerFunc that vacates a draft slot.
func UnassignSlotHandler(assigner SlotAssigner, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		module, slot, err := draftSlotParams(r)
		if err != nil {
			logger.Info(logkeys.Message, "parameters", logkeys.Error, err)
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}
		if err = assigner.UnassignSlot(r.Context(), module, slot); err != nil {
			logger.Info(logkeys.Message, "vacating slot", logkeys.Error, err, logkeys.ModuleID, module)
			api.JSONError(w, err, errStatus(err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// TakeSlotHandler creates a HandlerFunc for self-assignment to a free slot.
func TakeSlotHandler(assigner SlotAssigner, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		var req struct {
			Draft string `json:"draft"`
			Slot  int64  `json:"slot"`
			User  int64  `json:"user"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Info(logkeys.Message, "decoding request", logkeys.Error, err)
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}
		module, err := moduleID(req.Draft)
		if err != nil {
			logger.Info(logkeys.Message, "parameters", logkeys.Error, err)
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}
		logger = logger.With(logkeys.ModuleID, module, logkeys.SlotID, req.Slot, logkeys.UserID, req.User)

		if err = assigner.TakeSlot(r.Context(), module, req.Slot, req.User); err != nil {
			logger.Info(logkeys.Message, "taking slot", logkeys.Error, err)
			api.JSONError(w, err, errStatus(err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// SeatingHandler creates a HandlerFunc reporting a draft's current seating.
func SeatingHandler(querier DraftQuerier, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		module, err := moduleID(flow.Param(r.Context(), "id"))
		if err != nil {
			logger.Info(logkeys.Message, "parameters", logkeys.Error, err)
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}
		seats, err := querier.Seating(r.Context(), module)
		if err != nil {
			logger.Info(logkeys.Message, "fetching seating", logkeys.Error, err, logkeys.ModuleID, module)
			api.JSONError(w, err, errStatus(err))
			return
		}
		jsonResp := make([]seatJSON, 0, len(seats))
		for _, seat := range seats {
			js := seatJSON{
				Slot:        slotResp(seat.Slot),
				Permissions: seat.Permissions.Slice(),
			}
			if seat.Occupied {
				user := seat.UserID
				js.User = &user
			}
			jsonResp = append(jsonResp, js)
		}
		if err = json.NewEncoder(w).Encode(jsonResp); err != nil {
			logger.Info(logkeys.Message, "encoding json response", logkeys.Error, err)
		}
	}
}

// FreeSlotsHandler creates a HandlerFunc listing the free slots the
// user could take across all drafts.
func FreeSlotsHandler(querier DraftQuerier, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		user, err := userParam(r)
		if err != nil {
			logger.Info(logkeys.Message, "parameters", logkeys.Error, err)
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}
		free, err := querier.FreeSlots(r.Context(), user)
		if err != nil {
			logger.Info(logkeys.Message, "listing free slots", logkeys.Error, err, logkeys.UserID, user)
			api.JSONError(w, err, errStatus(err))
			return
		}
		jsonResp := make([]struct {
			Module string   `json:"module"`
			Slot   slotJSON `json:"slot"`
		}, 0, len(free))
		for _, f := range free {
			jsonResp = append(jsonResp, struct {
				Module string   `json:"module"`
				Slot   slotJSON `json:"slot"`
			}{Module: f.ModuleID, Slot: slotResp(f.Slot)})
		}
		if err = json.NewEncoder(w).Encode(jsonResp); err != nil {
			logger.Info(logkeys.Message, "encoding json response", logkeys.Error, err)
		}
	}
}

// UserDraftsHandler creates a HandlerFunc listing the drafts a user
// participates in.
func UserDraftsHandler(querier DraftQuerier, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		user, err := userParam(r)
		if err != nil {
			logger.Info(logkeys.Message, "parameters", logkeys.Error, err)
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}
		drafts, err := querier.DraftsForUser(r.Context(), user)
		if err != nil {
			logger.Info(logkeys.Message, "listing drafts", logkeys.Error, err, logkeys.UserID, user)
			api.JSONError(w, err, errStatus(err))
			return
		}
		jsonResp := make([]*draftJSON, 0, len(drafts))
		for i := range drafts {
			jsonResp = append(jsonResp, draftResp(&drafts[i]))
		}
		if err = json.NewEncoder(w).Encode(jsonResp); err != nil {
			logger.Info(logkeys.Message, "encoding json response", logkeys.Error, err)
		}
	}
}

// draftSlotParams extracts the module UUID and slot ID route parameters.
func draftSlotParams(r *http.Request) (string, int64, error) {
	module, err := moduleID(flow.Param(r.Context(), "id"))
	if err != nil {
		return "", 0, err
	}
	slot, err := strconv.ParseInt(flow.Param(r.Context(), "slot"), 10, 64)
	if err != nil {
		return "", 0, err
	}
	return module, slot, nil
}

// userParam extracts the acting user from the query string.
// Authentication happens in an outer layer; these APIs trust the caller.
func userParam(r *http.Request) (int64, error) {
	param := r.URL.Query().Get("user")
	if param == "" {
		return 0, ErrNoUser
	}
	return strconv.ParseInt(param, 10, 64)
}
