// Package http contains HTTP handlers for draft operations.
package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/oerhub/editproc/engine"
	"github.com/oerhub/editproc/engine/storage"
	"github.com/oerhub/editproc/process"

	"github.com/google/uuid"
)

var ErrBadModuleID = errors.New("module ID is not a UUID")

// DraftAdvancer advances drafts along their version's links.
type DraftAdvancer interface {
	Advance(ctx context.Context, moduleID string, userID, slotID, targetStepID int64) (*engine.AdvanceResult, error)
}

// DraftBeginner creates drafts bound to a process version.
type DraftBeginner interface {
	BeginProcess(ctx context.Context, moduleID string, teamID, versionID int64, assignments []storage.Assignment) (*storage.Draft, error)
}

// DraftCanceller discards drafts without merging.
type DraftCanceller interface {
	CancelProcess(ctx context.Context, moduleID string) error
}

// SlotAssigner seats and vacates users in draft slots.
type SlotAssigner interface {
	AssignSlot(ctx context.Context, moduleID string, slotID, userID int64) error
	TakeSlot(ctx context.Context, moduleID string, slotID, userID int64) error
	UnassignSlot(ctx context.Context, moduleID string, slotID int64) error
}

// DraftQuerier answers read-only draft questions.
type DraftQuerier interface {
	Seating(ctx context.Context, moduleID string) ([]engine.Seat, error)
	FreeSlots(ctx context.Context, userID int64) ([]engine.FreeSlot, error)
	DraftsForUser(ctx context.Context, userID int64) ([]storage.Draft, error)
}

// errStatus maps engine and storage errors to HTTP status codes.
func errStatus(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrBadUser), errors.Is(err, engine.ErrBadRole):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrBadLink),
		errors.Is(err, engine.ErrBadSlot),
		errors.Is(err, engine.ErrSlotOccupied),
		errors.Is(err, storage.ErrDraftExists),
		errors.Is(err, storage.ErrStepChanged):
		return http.StatusConflict
	case errors.Is(err, ErrBadModuleID):
		return http.StatusBadRequest
	}
	// merge failures and everything else are server errors
	return http.StatusInternalServerError
}

// moduleID extracts and validates the module UUID route parameter.
func moduleID(param string) (string, error) {
	id, err := uuid.Parse(param)
	if err != nil {
		return "", ErrBadModuleID
	}
	return id.String(), nil
}

// draftJSON is the wire projection of a draft.
type draftJSON struct {
	Module  string `json:"module"`
	Team    int64  `json:"team"`
	Version int64  `json:"version"`
	Step    int64  `json:"step"`
}

func draftResp(d *storage.Draft) *draftJSON {
	return &draftJSON{
		Module:  d.ModuleID,
		Team:    d.TeamID,
		Version: d.VersionID,
		Step:    d.StepID,
	}
}

// slotJSON is the wire projection of a slot.
type slotJSON struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Roles    []int64 `json:"roles,omitempty"`
	Autofill bool    `json:"autofill,omitempty"`
}

func slotResp(s storage.Slot) slotJSON {
	return slotJSON{ID: s.ID, Name: s.Name, Roles: s.Roles, Autofill: s.Autofill}
}

// seatJSON is the wire projection of one seat.
type seatJSON struct {
	Slot        slotJSON                 `json:"slot"`
	Permissions []process.SlotPermission `json:"permissions"`
	User        *int64                   `json:"user,omitempty"`
}
