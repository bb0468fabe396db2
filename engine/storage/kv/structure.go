package kv

import (
	"context"
	"fmt"
	"sort"

	"github.com/oerhub/editproc/engine/storage"
	"github.com/oerhub/editproc/process"
)

// RetrieveStep implements the storage interface method.
func (s *KV) RetrieveStep(ctx context.Context, stepID int64) (*storage.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.step(ctx, stepID)
}

// step fetches one step record. Caller must hold the lock.
func (s *KV) step(ctx context.Context, stepID int64) (*storage.Step, error) {
	var rec stepRecord
	ok, err := kvGetJSON(ctx, s.defStore, keyStep+itoa(stepID), &rec)
	if err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("step %d: %w", stepID, storage.ErrNotFound)
	}
	return &storage.Step{ID: stepID, VersionID: rec.Version, Name: rec.Name}, nil
}

// RetrieveSlot implements the storage interface method.
func (s *KV) RetrieveSlot(ctx context.Context, slotID int64) (*storage.Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slot(ctx, slotID)
}

// slot fetches one slot record. Caller must hold the lock.
func (s *KV) slot(ctx context.Context, slotID int64) (*storage.Slot, error) {
	var rec slotRecord
	ok, err := kvGetJSON(ctx, s.defStore, keySlot+itoa(slotID), &rec)
	if err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("slot %d: %w", slotID, storage.ErrNotFound)
	}
	return &storage.Slot{
		ID:        slotID,
		VersionID: rec.Version,
		Name:      rec.Name,
		Roles:     rec.Roles,
		Autofill:  rec.Autofill,
	}, nil
}

// RetrieveStepSlots implements the storage interface method.
func (s *KV) RetrieveStepSlots(ctx context.Context, stepID int64) ([]storage.StepSlot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.step(ctx, stepID); err != nil {
		return nil, err
	}
	var grants []grantRecord
	if _, err := kvGetJSON(ctx, s.defStore, keyGrants+itoa(stepID), &grants); err != nil {
		return nil, err
	}
	// fold individual grants into per-slot permission sets
	perms := make(map[int64]process.PermissionSet)
	for _, g := range grants {
		perms[g.Slot] = perms[g.Slot].Add(g.Permission)
	}
	stepSlots := make([]storage.StepSlot, 0, len(perms))
	for slotID, set := range perms {
		slot, err := s.slot(ctx, slotID)
		if err != nil {
			return nil, err
		}
		stepSlots = append(stepSlots, storage.StepSlot{Slot: *slot, Permissions: set})
	}
	sort.Slice(stepSlots, func(i, j int) bool {
		return stepSlots[i].Slot.ID < stepSlots[j].Slot.ID
	})
	return stepSlots, nil
}

// RetrieveLinks implements the storage interface method.
func (s *KV) RetrieveLinks(ctx context.Context, stepID int64) ([]storage.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.links(ctx, stepID)
}

// links fetches a step's outgoing links, ordered. Caller must hold the lock.
func (s *KV) links(ctx context.Context, stepID int64) ([]storage.Link, error) {
	if _, err := s.step(ctx, stepID); err != nil {
		return nil, err
	}
	var recs []linkRecord
	if _, err := kvGetJSON(ctx, s.defStore, keyLinks+itoa(stepID), &recs); err != nil {
		return nil, err
	}
	links := make([]storage.Link, 0, len(recs))
	for _, rec := range recs {
		links = append(links, storage.Link{
			FromStepID: stepID,
			ToStepID:   rec.To,
			Name:       rec.Name,
			SlotID:     rec.Slot,
		})
	}
	sort.Slice(links, func(i, j int) bool {
		if links[i].SlotID != links[j].SlotID {
			return links[i].SlotID < links[j].SlotID
		}
		return links[i].ToStepID < links[j].ToStepID
	})
	return links, nil
}

// RetrieveLink implements the storage interface method.
func (s *KV) RetrieveLink(ctx context.Context, fromStepID, toStepID, slotID int64) (*storage.Link, error) {
	links, err := s.RetrieveLinks(ctx, fromStepID)
	if err != nil {
		return nil, err
	}
	for _, link := range links {
		if link.ToStepID == toStepID && link.SlotID == slotID {
			return &link, nil
		}
	}
	return nil, fmt.Errorf("link %d-%d via slot %d: %w", fromStepID, toStepID, slotID, storage.ErrNotFound)
}

// RetrieveStructure implements the storage interface method.
func (s *KV) RetrieveStructure(ctx context.Context, versionID int64) (*process.Tree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	version, err := s.versionByID(ctx, versionID)
	if err != nil {
		return nil, err
	}
	procName, err := s.processName(ctx, version.ProcessID)
	if err != nil {
		return nil, err
	}
	stepIDs, slotIDs, err := s.versionMembers(ctx, versionID)
	if err != nil {
		return nil, err
	}
	// IDs are allocated sequentially at creation, so sorted ID
	// order reproduces the original slice order.
	slotIdx := make(map[int64]int, len(slotIDs))
	for i, id := range slotIDs {
		slotIdx[id] = i
	}
	stepIdx := make(map[int64]int, len(stepIDs))
	for i, id := range stepIDs {
		stepIdx[id] = i
	}

	tree := &process.Tree{
		Name:  procName,
		Start: stepIdx[version.Start],
		Slots: make([]process.TreeSlot, 0, len(slotIDs)),
		Steps: make([]process.TreeStep, 0, len(stepIDs)),
	}
	for _, id := range slotIDs {
		slot, err := s.slot(ctx, id)
		if err != nil {
			return nil, err
		}
		tree.Slots = append(tree.Slots, process.TreeSlot{
			ID:       slot.ID,
			Name:     slot.Name,
			Roles:    slot.Roles,
			Autofill: slot.Autofill,
		})
	}
	for _, id := range stepIDs {
		step, err := s.step(ctx, id)
		if err != nil {
			return nil, err
		}
		var grants []grantRecord
		if _, err = kvGetJSON(ctx, s.defStore, keyGrants+itoa(id), &grants); err != nil {
			return nil, err
		}
		treeStep := process.TreeStep{ID: id, Name: step.Name}
		for _, g := range grants {
			treeStep.Slots = append(treeStep.Slots, process.TreeStepSlot{
				Slot:       slotIdx[g.Slot],
				Permission: g.Permission,
			})
		}
		links, err := s.links(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, link := range links {
			treeStep.Links = append(treeStep.Links, process.TreeLink{
				Name: link.Name,
				To:   stepIdx[link.ToStepID],
				Slot: slotIdx[link.SlotID],
			})
		}
		tree.Steps = append(tree.Steps, treeStep)
	}
	return tree, nil
}
