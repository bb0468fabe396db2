package engine

import (
	"context"

	"github.com/oerhub/editproc/engine/storage"
	"github.com/oerhub/editproc/process"
)

// Permissions derives the permissions user holds on moduleID's draft:
// the union of the grants at the draft's current step for every slot
// the user occupies. Pure function of current state, never cached.
func (e *Engine) Permissions(ctx context.Context, moduleID string, userID int64) (process.PermissionSet, error) {
	draft, err := e.store.RetrieveDraft(ctx, moduleID)
	if err != nil {
		return 0, err
	}
	assignments, err := e.store.RetrieveAssignments(ctx, moduleID)
	if err != nil {
		return 0, err
	}
	stepSlots, err := e.store.RetrieveStepSlots(ctx, draft.StepID)
	if err != nil {
		return 0, err
	}
	return permissionsAt(stepSlots, assignments, userID), nil
}

// Seat is one slot active at a draft's current step together with its
// permission grants there and its occupant, if any.
type Seat struct {
	Slot        storage.Slot
	Permissions process.PermissionSet
	UserID      int64
	Occupied    bool
}

// Seating reports the slots active at the current step of moduleID's
// draft with their occupants.
func (e *Engine) Seating(ctx context.Context, moduleID string) ([]Seat, error) {
	draft, err := e.store.RetrieveDraft(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	assignments, err := e.store.RetrieveAssignments(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	stepSlots, err := e.store.RetrieveStepSlots(ctx, draft.StepID)
	if err != nil {
		return nil, err
	}
	seats := make([]Seat, 0, len(stepSlots))
	for _, stepSlot := range stepSlots {
		seat := Seat{Slot: stepSlot.Slot, Permissions: stepSlot.Permissions}
		for _, a := range assignments {
			if a.SlotID == stepSlot.Slot.ID {
				seat.UserID = a.UserID
				seat.Occupied = true
				break
			}
		}
		seats = append(seats, seat)
	}
	return seats, nil
}

// FreeSlot is an unoccupied slot a user could take in some draft.
type FreeSlot struct {
	ModuleID string
	Slot     storage.Slot
}

// FreeSlots lists, across all drafts, the slots active at each draft's
// current step that are unoccupied and whose role constraint userID
// satisfies.
func (e *Engine) FreeSlots(ctx context.Context, userID int64) ([]FreeSlot, error) {
	drafts, err := e.store.RetrieveDrafts(ctx)
	if err != nil {
		return nil, err
	}
	var free []FreeSlot
	for _, draft := range drafts {
		assignments, err := e.store.RetrieveAssignments(ctx, draft.ModuleID)
		if err != nil {
			return nil, err
		}
		stepSlots, err := e.store.RetrieveStepSlots(ctx, draft.StepID)
		if err != nil {
			return nil, err
		}
		for _, stepSlot := range stepSlots {
			occupied := false
			for _, a := range assignments {
				if a.SlotID == stepSlot.Slot.ID {
					occupied = true
					break
				}
			}
			if occupied {
				continue
			}
			ok, err := e.userHoldsRole(ctx, &stepSlot.Slot, userID, draft.TeamID)
			if err != nil {
				return nil, err
			}
			if ok {
				free = append(free, FreeSlot{ModuleID: draft.ModuleID, Slot: stepSlot.Slot})
			}
		}
	}
	return free, nil
}

// DraftsForUser lists the drafts in which userID holds at least one slot.
func (e *Engine) DraftsForUser(ctx context.Context, userID int64) ([]storage.Draft, error) {
	return e.store.RetrieveDraftsForUser(ctx, userID)
}
