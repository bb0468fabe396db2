package engine

import (
	"context"
	"fmt"

	"github.com/oerhub/editproc/engine/storage"
	"github.com/oerhub/editproc/logkeys"
	"github.com/oerhub/editproc/process"

	"github.com/micromdm/nanolib/log/ctxlog"
)

// BeginProcess creates a draft of moduleID bound to versionID, placed
// at the version's start step with the given initial assignments. Each
// initial slot must belong to the version and each user must satisfy
// its role constraint within teamID.
func (e *Engine) BeginProcess(ctx context.Context, moduleID string, teamID, versionID int64, assignments []storage.Assignment) (*storage.Draft, error) {
	unlock := e.lockDraft(moduleID)
	defer unlock()

	version, err := e.store.RetrieveVersionByID(ctx, versionID)
	if err != nil {
		return nil, err
	}
	for _, a := range assignments {
		slot, err := e.store.RetrieveSlot(ctx, a.SlotID)
		if err != nil {
			return nil, err
		}
		if slot.VersionID != versionID {
			return nil, fmt.Errorf("slot %d: %w", a.SlotID, ErrBadSlot)
		}
		ok, err := e.userHoldsRole(ctx, slot, a.UserID, teamID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("user %d in slot %d: %w", a.UserID, a.SlotID, ErrBadRole)
		}
	}

	draft := &storage.Draft{
		ModuleID:  moduleID,
		TeamID:    teamID,
		VersionID: versionID,
		StepID:    version.Start,
	}
	if err = e.store.CreateDraft(ctx, draft, assignments); err != nil {
		return nil, err
	}

	ctxlog.Logger(ctx, e.logger).Debug(
		logkeys.Message, "began process",
		logkeys.ModuleID, moduleID,
		logkeys.VersionID, versionID,
		logkeys.StepID, version.Start,
	)

	for _, a := range assignments {
		e.emit(ctx, process.Event{
			Kind: process.EventSlotFilled,
			Data: process.SlotFilledData{Slot: a.SlotID, Module: moduleID},
		}, []int64{a.UserID})
		e.emit(ctx, process.Event{
			Kind: process.EventAssigned,
			Data: process.AssignedData{Who: a.UserID, Module: moduleID},
		}, []int64{a.UserID})
	}
	return draft, nil
}

// CancelProcess discards moduleID's draft without merging. Everybody
// who held a slot is told the process was cancelled.
func (e *Engine) CancelProcess(ctx context.Context, moduleID string) error {
	unlock := e.lockDraft(moduleID)
	defer unlock()

	if _, err := e.store.RetrieveDraft(ctx, moduleID); err != nil {
		return err
	}
	assignments, err := e.store.RetrieveAssignments(ctx, moduleID)
	if err != nil {
		return err
	}
	if err = e.store.DeleteDraft(ctx, moduleID); err != nil {
		return err
	}

	ctxlog.Logger(ctx, e.logger).Debug(
		logkeys.Message, "cancelled process",
		logkeys.ModuleID, moduleID,
	)

	e.emit(ctx, process.Event{
		Kind: process.EventProcessCancelled,
		Data: process.ProcessCancelledData{Module: moduleID},
	}, holders(assignments))
	return nil
}

// holders extracts the distinct user IDs from assignments.
func holders(assignments []storage.Assignment) []int64 {
	var users []int64
	seen := make(map[int64]bool)
	for _, a := range assignments {
		if !seen[a.UserID] {
			seen[a.UserID] = true
			users = append(users, a.UserID)
		}
	}
	return users
}
