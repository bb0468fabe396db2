package engine

import (
	"context"
	"fmt"

	"github.com/oerhub/editproc/logkeys"
	"github.com/oerhub/editproc/process"

	"github.com/micromdm/nanolib/log/ctxlog"
)

// AssignSlot seats userID in slotID of moduleID's draft, replacing any
// current occupant. The slot must belong to the draft's process version
// and the user must satisfy the slot's role constraint.
func (e *Engine) AssignSlot(ctx context.Context, moduleID string, slotID, userID int64) error {
	unlock := e.lockDraft(moduleID)
	defer unlock()
	return e.assign(ctx, moduleID, slotID, userID, false)
}

// TakeSlot seats userID in a currently free slot of moduleID's draft.
// Unlike AssignSlot it never displaces an occupant: a taken slot fails
// with ErrSlotOccupied.
func (e *Engine) TakeSlot(ctx context.Context, moduleID string, slotID, userID int64) error {
	unlock := e.lockDraft(moduleID)
	defer unlock()
	return e.assign(ctx, moduleID, slotID, userID, true)
}

// assign performs the seating. Caller must hold the draft lock.
func (e *Engine) assign(ctx context.Context, moduleID string, slotID, userID int64, requireFree bool) error {
	draft, err := e.store.RetrieveDraft(ctx, moduleID)
	if err != nil {
		return err
	}
	slot, err := e.store.RetrieveSlot(ctx, slotID)
	if err != nil {
		return err
	}
	if slot.VersionID != draft.VersionID {
		return fmt.Errorf("slot %d: %w", slotID, ErrBadSlot)
	}
	ok, err := e.userHoldsRole(ctx, slot, userID, draft.TeamID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user %d in slot %d: %w", userID, slotID, ErrBadRole)
	}
	if requireFree {
		assignments, err := e.store.RetrieveAssignments(ctx, moduleID)
		if err != nil {
			return err
		}
		for _, a := range assignments {
			if a.SlotID == slotID {
				return fmt.Errorf("slot %d: %w", slotID, ErrSlotOccupied)
			}
		}
	}

	prev, replaced, err := e.store.PutAssignment(ctx, moduleID, slotID, userID)
	if err != nil {
		return err
	}
	if replaced && prev == userID {
		return nil
	}

	ctxlog.Logger(ctx, e.logger).Debug(
		logkeys.Message, "assigned slot",
		logkeys.ModuleID, moduleID,
		logkeys.SlotID, slotID,
		logkeys.UserID, userID,
	)

	if replaced {
		e.emit(ctx, process.Event{
			Kind: process.EventSlotVacated,
			Data: process.SlotVacatedData{Slot: slotID, Module: moduleID},
		}, []int64{prev})
	}
	e.emit(ctx, process.Event{
		Kind: process.EventSlotFilled,
		Data: process.SlotFilledData{Slot: slotID, Module: moduleID},
	}, []int64{userID})
	e.emit(ctx, process.Event{
		Kind: process.EventAssigned,
		Data: process.AssignedData{Who: userID, Module: moduleID},
	}, []int64{userID})
	return nil
}

// UnassignSlot vacates slotID of moduleID's draft. Vacating an already
// empty slot is a no-op.
func (e *Engine) UnassignSlot(ctx context.Context, moduleID string, slotID int64) error {
	unlock := e.lockDraft(moduleID)
	defer unlock()

	if _, err := e.store.RetrieveDraft(ctx, moduleID); err != nil {
		return err
	}
	prev, removed, err := e.store.DeleteAssignment(ctx, moduleID, slotID)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}

	ctxlog.Logger(ctx, e.logger).Debug(
		logkeys.Message, "vacated slot",
		logkeys.ModuleID, moduleID,
		logkeys.SlotID, slotID,
		logkeys.UserID, prev,
	)

	e.emit(ctx, process.Event{
		Kind: process.EventSlotVacated,
		Data: process.SlotVacatedData{Slot: slotID, Module: moduleID},
	}, []int64{prev})
	return nil
}
