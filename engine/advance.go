package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/oerhub/editproc/engine/storage"
	"github.com/oerhub/editproc/logkeys"
	"github.com/oerhub/editproc/process"

	"github.com/micromdm/nanolib/log/ctxlog"
)

// Advance result codes reported to callers.
const (
	AdvanceResultAdvanced = "draft:process:advanced"
	AdvanceResultFinished = "draft:process:finished"
)

// AdvanceResult describes the outcome of a successful advancement.
type AdvanceResult struct {
	Code string

	// Draft is the advanced draft. Nil when the draft concluded.
	Draft *storage.Draft

	// Permissions are the acting user's permissions at the new step.
	Permissions process.PermissionSet

	// Links are the transitions out of the new step usable by the
	// acting user through slots they now hold.
	Links []storage.Link
}

// Advance moves moduleID's draft along the link matching (current
// step, targetStepID, slotID). The acting user must hold slotID;
// validation failures leave the draft untouched.
//
// A target step with no outgoing links concludes the draft: its
// content is merged into the module, the draft and its assignments
// are deleted, and every user who held a slot is told the process
// ended. The merge runs before any mutation, so a merge failure
// (reported as *MergeError, retryable) leaves the draft unchanged.
//
// Otherwise the step change and any autofill assignments commit as
// one atomic storage operation, then events fire.
func (e *Engine) Advance(ctx context.Context, moduleID string, userID, slotID, targetStepID int64) (*AdvanceResult, error) {
	unlock := e.lockDraft(moduleID)
	defer unlock()

	draft, err := e.store.RetrieveDraft(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	assignments, err := e.store.RetrieveAssignments(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	held := false
	for _, a := range assignments {
		if a.SlotID == slotID && a.UserID == userID {
			held = true
			break
		}
	}
	if !held {
		return nil, fmt.Errorf("user %d, slot %d: %w", userID, slotID, ErrBadUser)
	}
	if _, err = e.store.RetrieveLink(ctx, draft.StepID, targetStepID, slotID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("step %d to %d via slot %d: %w",
				draft.StepID, targetStepID, slotID, ErrBadLink)
		}
		return nil, err
	}

	targetLinks, err := e.store.RetrieveLinks(ctx, targetStepID)
	if err != nil {
		return nil, err
	}
	logger := ctxlog.Logger(ctx, e.logger)

	if len(targetLinks) < 1 {
		// terminal step: merge first so a failure leaves the
		// draft untouched, then conclude
		if err = e.docs.MergeDraftIntoModule(ctx, moduleID); err != nil {
			return nil, &MergeError{Err: err}
		}
		if err = e.store.DeleteDraft(ctx, moduleID); err != nil {
			return nil, err
		}
		logger.Info(
			logkeys.Message, "process finished",
			logkeys.ModuleID, moduleID,
			logkeys.StepID, targetStepID,
		)
		e.emit(ctx, process.Event{
			Kind: process.EventProcessEnded,
			Data: process.ProcessEndedData{Module: moduleID},
		}, holders(assignments))
		return &AdvanceResult{Code: AdvanceResultFinished}, nil
	}

	stepSlots, err := e.store.RetrieveStepSlots(ctx, targetStepID)
	if err != nil {
		return nil, err
	}
	fills, err := e.autofill(ctx, draft, stepSlots, assignments)
	if err != nil {
		return nil, err
	}

	err = e.store.CommitAdvance(ctx, moduleID, draft.StepID, targetStepID, fills)
	if err != nil {
		return nil, err
	}
	draft.StepID = targetStepID
	assignments = append(assignments, fills...)

	logger.Info(
		logkeys.Message, "draft advanced",
		logkeys.ModuleID, moduleID,
		logkeys.StepID, targetStepID,
		logkeys.SlotID, slotID,
		logkeys.UserID, userID,
	)

	for _, fill := range fills {
		e.emit(ctx, process.Event{
			Kind: process.EventSlotFilled,
			Data: process.SlotFilledData{Slot: fill.SlotID, Module: moduleID},
		}, []int64{fill.UserID})
	}
	for _, user := range holders(assignments) {
		perms := permissionsAt(stepSlots, assignments, user)
		e.emit(ctx, process.Event{
			Kind: process.EventDraftAdvanced,
			Data: process.DraftAdvancedData{
				Module:      moduleID,
				Step:        targetStepID,
				Permissions: perms.Slice(),
			},
		}, []int64{user})
	}

	return &AdvanceResult{
		Code:        AdvanceResultAdvanced,
		Draft:       draft,
		Permissions: permissionsAt(stepSlots, assignments, userID),
		Links:       usableLinks(targetLinks, assignments, userID),
	}, nil
}

// autofill selects users for the autofill slots active at the target
// step that have no occupant yet. Eligible candidates are team members
// satisfying the slot's role constraint; the smallest eligible user ID
// wins. A slot with no eligible candidate stays unfilled.
func (e *Engine) autofill(ctx context.Context, draft *storage.Draft, stepSlots []storage.StepSlot, assignments []storage.Assignment) ([]storage.Assignment, error) {
	var want []storage.Slot
	for _, stepSlot := range stepSlots {
		if !stepSlot.Slot.Autofill {
			continue
		}
		occupied := false
		for _, a := range assignments {
			if a.SlotID == stepSlot.Slot.ID {
				occupied = true
				break
			}
		}
		if !occupied {
			want = append(want, stepSlot.Slot)
		}
	}
	if len(want) < 1 {
		return nil, nil
	}

	members, err := e.users.MembersOf(ctx, draft.TeamID)
	if err != nil {
		return nil, fmt.Errorf("resolving members of team %d: %w", draft.TeamID, err)
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })

	var fills []storage.Assignment
	for i := range want {
		for _, member := range members {
			ok, err := e.userHoldsRole(ctx, &want[i], member, draft.TeamID)
			if err != nil {
				return nil, err
			}
			if ok {
				fills = append(fills, storage.Assignment{SlotID: want[i].ID, UserID: member})
				break
			}
		}
	}
	return fills, nil
}

// permissionsAt unions the permissions granted at a step to the slots
// user holds.
func permissionsAt(stepSlots []storage.StepSlot, assignments []storage.Assignment, user int64) process.PermissionSet {
	var perms process.PermissionSet
	for _, a := range assignments {
		if a.UserID != user {
			continue
		}
		for _, stepSlot := range stepSlots {
			if stepSlot.Slot.ID == a.SlotID {
				perms = perms.Union(stepSlot.Permissions)
			}
		}
	}
	return perms
}

// usableLinks filters links down to those whose slot user holds.
func usableLinks(links []storage.Link, assignments []storage.Assignment, user int64) []storage.Link {
	var usable []storage.Link
	for _, link := range links {
		for _, a := range assignments {
			if a.SlotID == link.SlotID && a.UserID == user {
				usable = append(usable, link)
				break
			}
		}
	}
	return usable
}
