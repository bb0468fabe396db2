package kv

import (
	"context"
	"fmt"
	"sort"

	"github.com/oerhub/editproc/engine/storage"
)

// CreateDraft implements the storage interface method.
func (s *KV) CreateDraft(ctx context.Context, d *storage.Draft, assignments []storage.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ok, err := s.draftStore.Has(ctx, keyDraft+d.ModuleID); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("module %s: %w", d.ModuleID, storage.ErrDraftExists)
	}
	err := kvSetJSON(ctx, s.draftStore, keyDraft+d.ModuleID, &draftRecord{
		Team:    d.TeamID,
		Version: d.VersionID,
		Step:    d.StepID,
	})
	if err != nil {
		return err
	}
	for _, a := range assignments {
		err = s.draftStore.Set(ctx, assignKey(d.ModuleID, a.SlotID), []byte(itoa(a.UserID)))
		if err != nil {
			return err
		}
	}
	// permanent usage mark consulted by the deletion guards
	return s.defStore.Set(ctx, keyUsed+itoa(d.VersionID), []byte{'1'})
}

func assignKey(moduleID string, slotID int64) string {
	return keyAssign + moduleID + "." + itoa(slotID)
}

// RetrieveDraft implements the storage interface method.
func (s *KV) RetrieveDraft(ctx context.Context, moduleID string) (*storage.Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.draft(ctx, moduleID)
}

// draft fetches one draft record. Caller must hold the lock.
func (s *KV) draft(ctx context.Context, moduleID string) (*storage.Draft, error) {
	var rec draftRecord
	ok, err := kvGetJSON(ctx, s.draftStore, keyDraft+moduleID, &rec)
	if err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("draft of module %s: %w", moduleID, storage.ErrNotFound)
	}
	return &storage.Draft{
		ModuleID:  moduleID,
		TeamID:    rec.Team,
		VersionID: rec.Version,
		StepID:    rec.Step,
	}, nil
}

// RetrieveDrafts implements the storage interface method.
func (s *KV) RetrieveDrafts(ctx context.Context) ([]storage.Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var drafts []storage.Draft
	for _, k := range kvKeysWithPrefix(s.draftStore, keyDraft) {
		d, err := s.draft(ctx, k[len(keyDraft):])
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, *d)
	}
	sort.Slice(drafts, func(i, j int) bool { return drafts[i].ModuleID < drafts[j].ModuleID })
	return drafts, nil
}

// RetrieveDraftsForUser implements the storage interface method.
func (s *KV) RetrieveDraftsForUser(ctx context.Context, userID int64) ([]storage.Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := itoa(userID)
	modules := make(map[string]bool)
	for _, k := range kvKeysWithPrefix(s.draftStore, keyAssign) {
		raw, err := s.draftStore.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if string(raw) != want {
			continue
		}
		// key shape: assign.<module>.<slot>
		rest := k[len(keyAssign):]
		if i := lastDot(rest); i > 0 {
			modules[rest[:i]] = true
		}
	}
	var drafts []storage.Draft
	for moduleID := range modules {
		d, err := s.draft(ctx, moduleID)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, *d)
	}
	sort.Slice(drafts, func(i, j int) bool { return drafts[i].ModuleID < drafts[j].ModuleID })
	return drafts, nil
}

func lastDot(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return i
		}
	}
	return -1
}

// RetrieveAssignments implements the storage interface method.
func (s *KV) RetrieveAssignments(ctx context.Context, moduleID string) ([]storage.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.draft(ctx, moduleID); err != nil {
		return nil, err
	}
	return s.assignments(ctx, moduleID)
}

// assignments fetches a draft's assignments, ordered by slot ID.
// Caller must hold the lock.
func (s *KV) assignments(ctx context.Context, moduleID string) ([]storage.Assignment, error) {
	prefix := keyAssign + moduleID + "."
	var assignments []storage.Assignment
	for _, k := range kvKeysWithPrefix(s.draftStore, prefix) {
		slotID, err := atoi(k[len(prefix):])
		if err != nil {
			continue
		}
		raw, err := s.draftStore.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		userID, err := atoi(string(raw))
		if err != nil {
			return nil, fmt.Errorf("parsing assignment %s: %w", k, err)
		}
		assignments = append(assignments, storage.Assignment{SlotID: slotID, UserID: userID})
	}
	sort.Slice(assignments, func(i, j int) bool {
		return assignments[i].SlotID < assignments[j].SlotID
	})
	return assignments, nil
}

// PutAssignment implements the storage interface method.
func (s *KV) PutAssignment(ctx context.Context, moduleID string, slotID, userID int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.draft(ctx, moduleID); err != nil {
		return 0, false, err
	}
	k := assignKey(moduleID, slotID)
	var prev int64
	var replaced bool
	if ok, err := s.draftStore.Has(ctx, k); err != nil {
		return 0, false, err
	} else if ok {
		raw, err := s.draftStore.Get(ctx, k)
		if err != nil {
			return 0, false, err
		}
		if prev, err = atoi(string(raw)); err != nil {
			return 0, false, fmt.Errorf("parsing assignment %s: %w", k, err)
		}
		replaced = true
	}
	if err := s.draftStore.Set(ctx, k, []byte(itoa(userID))); err != nil {
		return 0, false, err
	}
	return prev, replaced, nil
}

// DeleteAssignment implements the storage interface method.
func (s *KV) DeleteAssignment(ctx context.Context, moduleID string, slotID int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.draft(ctx, moduleID); err != nil {
		return 0, false, err
	}
	k := assignKey(moduleID, slotID)
	if ok, err := s.draftStore.Has(ctx, k); err != nil {
		return 0, false, err
	} else if !ok {
		return 0, false, nil
	}
	raw, err := s.draftStore.Get(ctx, k)
	if err != nil {
		return 0, false, err
	}
	prev, err := atoi(string(raw))
	if err != nil {
		return 0, false, fmt.Errorf("parsing assignment %s: %w", k, err)
	}
	if err = s.draftStore.Delete(ctx, k); err != nil {
		return 0, false, err
	}
	return prev, true, nil
}

// CommitAdvance implements the storage interface method.
func (s *KV) CommitAdvance(ctx context.Context, moduleID string, fromStepID, toStepID int64, fills []storage.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.draft(ctx, moduleID)
	if err != nil {
		return err
	}
	if d.StepID != fromStepID {
		return fmt.Errorf("draft of module %s at step %d, not %d: %w",
			moduleID, d.StepID, fromStepID, storage.ErrStepChanged)
	}
	err = kvSetJSON(ctx, s.draftStore, keyDraft+moduleID, &draftRecord{
		Team:    d.TeamID,
		Version: d.VersionID,
		Step:    toStepID,
	})
	if err != nil {
		return err
	}
	for _, fill := range fills {
		err = s.draftStore.Set(ctx, assignKey(moduleID, fill.SlotID), []byte(itoa(fill.UserID)))
		if err != nil {
			return err
		}
	}
	return nil
}

// DeleteDraft implements the storage interface method.
func (s *KV) DeleteDraft(ctx context.Context, moduleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.draft(ctx, moduleID); err != nil {
		return err
	}
	prefix := keyAssign + moduleID + "."
	for _, k := range kvKeysWithPrefix(s.draftStore, prefix) {
		if err := s.draftStore.Delete(ctx, k); err != nil {
			return err
		}
	}
	return s.draftStore.Delete(ctx, keyDraft+moduleID)
}
