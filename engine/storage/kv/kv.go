// Package kv implements an editing process storage backend using a key-value interface.
package kv

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oerhub/editproc/engine/storage"
	"github.com/oerhub/editproc/process"
	"github.com/oerhub/editproc/utils/kv"
)

// KV is an editing process storage backend using a key-value interface.
// A single lock serializes mutations; reads share it. Atomicity of the
// compound operations (version creation, draft creation, advance
// commits) follows from the lock, not from the underlying buckets.
type KV struct {
	mu         sync.RWMutex
	defStore   kv.TraversingBucket
	draftStore kv.TraversingBucket
}

// New creates a new key-value editing process storage backend.
func New(defStore, draftStore kv.TraversingBucket) *KV {
	return &KV{defStore: defStore, draftStore: draftStore}
}

// nextID allocates n sequential IDs and returns the first.
// Caller must hold the write lock.
func (s *KV) nextID(ctx context.Context, n int64) (int64, error) {
	var last int64
	if ok, err := s.defStore.Has(ctx, keySeq); err != nil {
		return 0, err
	} else if ok {
		raw, err := s.defStore.Get(ctx, keySeq)
		if err != nil {
			return 0, err
		}
		if last, err = atoi(string(raw)); err != nil {
			return 0, fmt.Errorf("parsing sequence: %w", err)
		}
	}
	if err := s.defStore.Set(ctx, keySeq, []byte(itoa(last+n))); err != nil {
		return 0, err
	}
	return last + 1, nil
}

// CreateProcess implements the storage interface method.
func (s *KV) CreateProcess(ctx context.Context, tree *process.Tree) (*storage.Version, error) {
	if err := process.ValidateTree(tree); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	taken, err := s.processNameTaken(ctx, tree.Name, 0)
	if err != nil {
		return nil, err
	} else if taken {
		return nil, storage.ErrDuplicateName
	}
	id, err := s.nextID(ctx, 1)
	if err != nil {
		return nil, err
	}
	if err = s.defStore.Set(ctx, keyProcess+itoa(id), []byte(tree.Name)); err != nil {
		return nil, err
	}
	return s.storeVersion(ctx, id, tree)
}

// CreateVersion implements the storage interface method.
func (s *KV) CreateVersion(ctx context.Context, processID int64, tree *process.Tree) (*storage.Version, error) {
	if err := process.ValidateTree(tree); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	name, err := s.processName(ctx, processID)
	if err != nil {
		return nil, err
	}
	if tree.Name != name {
		taken, err := s.processNameTaken(ctx, tree.Name, processID)
		if err != nil {
			return nil, err
		} else if taken {
			return nil, storage.ErrDuplicateName
		}
		if err = s.defStore.Set(ctx, keyProcess+itoa(processID), []byte(tree.Name)); err != nil {
			return nil, err
		}
	}
	return s.storeVersion(ctx, processID, tree)
}

// storeVersion persists a validated tree as a new version of processID.
// Caller must hold the write lock.
func (s *KV) storeVersion(ctx context.Context, processID int64, tree *process.Tree) (*storage.Version, error) {
	// one ID for the version, then one per slot and per step
	first, err := s.nextID(ctx, int64(1+len(tree.Slots)+len(tree.Steps)))
	if err != nil {
		return nil, err
	}
	versionID := first
	slotIDs := make([]int64, len(tree.Slots))
	for i := range tree.Slots {
		slotIDs[i] = first + 1 + int64(i)
	}
	stepIDs := make([]int64, len(tree.Steps))
	for i := range tree.Steps {
		stepIDs[i] = first + 1 + int64(len(tree.Slots)+i)
	}

	for i, slot := range tree.Slots {
		err = kvSetJSON(ctx, s.defStore, keySlot+itoa(slotIDs[i]), &slotRecord{
			Version:  versionID,
			Name:     slot.Name,
			Roles:    slot.Roles,
			Autofill: slot.Autofill,
		})
		if err != nil {
			return nil, err
		}
	}

	for i, step := range tree.Steps {
		sid := stepIDs[i]
		err = kvSetJSON(ctx, s.defStore, keyStep+itoa(sid), &stepRecord{
			Version: versionID,
			Name:    step.Name,
		})
		if err != nil {
			return nil, err
		}
		grants := make([]grantRecord, 0, len(step.Slots))
		for _, grant := range step.Slots {
			grants = append(grants, grantRecord{
				Slot:       slotIDs[grant.Slot],
				Permission: grant.Permission,
			})
		}
		if err = kvSetJSON(ctx, s.defStore, keyGrants+itoa(sid), grants); err != nil {
			return nil, err
		}
		links := make([]linkRecord, 0, len(step.Links))
		for _, link := range step.Links {
			links = append(links, linkRecord{
				Name: link.Name,
				To:   stepIDs[link.To],
				Slot: slotIDs[link.Slot],
			})
		}
		if err = kvSetJSON(ctx, s.defStore, keyLinks+itoa(sid), links); err != nil {
			return nil, err
		}
	}

	version := &storage.Version{
		ID:        versionID,
		ProcessID: processID,
		CreatedAt: time.Now().UTC(),
		Start:     stepIDs[tree.Start],
	}
	err = kvSetJSON(ctx, s.defStore, keyVersion+itoa(versionID), &versionRecord{
		Process:   processID,
		CreatedAt: version.CreatedAt.UnixNano(),
		Start:     version.Start,
	})
	if err != nil {
		return nil, err
	}
	return version, nil
}

// processName fetches the name of a process, or storage.ErrNotFound.
// Caller must hold the lock.
func (s *KV) processName(ctx context.Context, id int64) (string, error) {
	ok, err := s.defStore.Has(ctx, keyProcess+itoa(id))
	if err != nil {
		return "", err
	} else if !ok {
		return "", fmt.Errorf("process %d: %w", id, storage.ErrNotFound)
	}
	raw, err := s.defStore.Get(ctx, keyProcess+itoa(id))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// processNameTaken reports whether another process uses name.
// Caller must hold the lock.
func (s *KV) processNameTaken(ctx context.Context, name string, selfID int64) (bool, error) {
	for _, k := range kvKeysWithPrefix(s.defStore, keyProcess) {
		id, err := atoi(k[len(keyProcess):])
		if err != nil || id == selfID {
			continue
		}
		raw, err := s.defStore.Get(ctx, k)
		if err != nil {
			return false, err
		}
		if string(raw) == name {
			return true, nil
		}
	}
	return false, nil
}

// RetrieveProcesses implements the storage interface method.
func (s *KV) RetrieveProcesses(ctx context.Context) ([]storage.Process, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var procs []storage.Process
	for _, k := range kvKeysWithPrefix(s.defStore, keyProcess) {
		id, err := atoi(k[len(keyProcess):])
		if err != nil {
			continue
		}
		raw, err := s.defStore.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		procs = append(procs, storage.Process{ID: id, Name: string(raw)})
	}
	sort.Slice(procs, func(i, j int) bool { return procs[i].ID < procs[j].ID })
	return procs, nil
}

// RetrieveProcess implements the storage interface method.
func (s *KV) RetrieveProcess(ctx context.Context, id int64) (*storage.Process, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, err := s.processName(ctx, id)
	if err != nil {
		return nil, err
	}
	return &storage.Process{ID: id, Name: name}, nil
}

// RenameProcess implements the storage interface method.
func (s *KV) RenameProcess(ctx context.Context, id int64, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.processName(ctx, id); err != nil {
		return err
	}
	taken, err := s.processNameTaken(ctx, name, id)
	if err != nil {
		return err
	} else if taken {
		return storage.ErrDuplicateName
	}
	return s.defStore.Set(ctx, keyProcess+itoa(id), []byte(name))
}

// versionsOf collects the versions of a process, unsorted.
// Caller must hold the lock.
func (s *KV) versionsOf(ctx context.Context, processID int64) ([]storage.Version, error) {
	var versions []storage.Version
	for _, k := range kvKeysWithPrefix(s.defStore, keyVersion) {
		id, err := atoi(k[len(keyVersion):])
		if err != nil {
			continue
		}
		var rec versionRecord
		if _, err = kvGetJSON(ctx, s.defStore, k, &rec); err != nil {
			return nil, err
		}
		if rec.Process != processID {
			continue
		}
		versions = append(versions, storage.Version{
			ID:        id,
			ProcessID: rec.Process,
			CreatedAt: time.Unix(0, rec.CreatedAt).UTC(),
			Start:     rec.Start,
		})
	}
	return versions, nil
}

// RetrieveVersions implements the storage interface method.
func (s *KV) RetrieveVersions(ctx context.Context, processID int64) ([]storage.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.processName(ctx, processID); err != nil {
		return nil, err
	}
	versions, err := s.versionsOf(ctx, processID)
	if err != nil {
		return nil, err
	}
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].CreatedAt.After(versions[j].CreatedAt)
	})
	return versions, nil
}

// RetrieveVersion implements the storage interface method.
func (s *KV) RetrieveVersion(ctx context.Context, processID, versionID int64) (*storage.Version, error) {
	version, err := s.RetrieveVersionByID(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if version.ProcessID != processID {
		return nil, fmt.Errorf("version %d of process %d: %w", versionID, processID, storage.ErrNotFound)
	}
	return version, nil
}

// RetrieveVersionByID implements the storage interface method.
func (s *KV) RetrieveVersionByID(ctx context.Context, versionID int64) (*storage.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.versionByID(ctx, versionID)
}

// versionByID fetches one version record. Caller must hold the lock.
func (s *KV) versionByID(ctx context.Context, versionID int64) (*storage.Version, error) {
	var rec versionRecord
	ok, err := kvGetJSON(ctx, s.defStore, keyVersion+itoa(versionID), &rec)
	if err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("version %d: %w", versionID, storage.ErrNotFound)
	}
	return &storage.Version{
		ID:        versionID,
		ProcessID: rec.Process,
		CreatedAt: time.Unix(0, rec.CreatedAt).UTC(),
		Start:     rec.Start,
	}, nil
}

// LatestVersion implements the storage interface method.
func (s *KV) LatestVersion(ctx context.Context, processID int64) (*storage.Version, error) {
	versions, err := s.RetrieveVersions(ctx, processID)
	if err != nil {
		return nil, err
	}
	if len(versions) < 1 {
		return nil, fmt.Errorf("no versions of process %d: %w", processID, storage.ErrNotFound)
	}
	return &versions[0], nil
}

// DeleteProcess implements the storage interface method.
func (s *KV) DeleteProcess(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.processName(ctx, id); err != nil {
		return err
	}
	versions, err := s.versionsOf(ctx, id)
	if err != nil {
		return err
	}
	for _, version := range versions {
		if used, err := s.versionUsed(ctx, version.ID); err != nil {
			return err
		} else if used {
			return fmt.Errorf("process %d: %w", id, storage.ErrInUse)
		}
	}
	for _, version := range versions {
		if err = s.deleteVersionRows(ctx, version.ID); err != nil {
			return err
		}
	}
	return s.defStore.Delete(ctx, keyProcess+itoa(id))
}

// DeleteVersion implements the storage interface method.
func (s *KV) DeleteVersion(ctx context.Context, versionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.versionByID(ctx, versionID); err != nil {
		return err
	}
	if used, err := s.versionUsed(ctx, versionID); err != nil {
		return err
	} else if used {
		return fmt.Errorf("version %d: %w", versionID, storage.ErrInUse)
	}
	return s.deleteVersionRows(ctx, versionID)
}

// versionUsed reports whether a draft ever referenced the version.
// Caller must hold the lock.
func (s *KV) versionUsed(ctx context.Context, versionID int64) (bool, error) {
	return s.defStore.Has(ctx, keyUsed+itoa(versionID))
}

// deleteVersionRows removes a version and its steps, slots, grants,
// and links. Caller must hold the write lock.
func (s *KV) deleteVersionRows(ctx context.Context, versionID int64) error {
	stepIDs, slotIDs, err := s.versionMembers(ctx, versionID)
	if err != nil {
		return err
	}
	for _, sid := range stepIDs {
		for _, k := range []string{keyStep + itoa(sid), keyGrants + itoa(sid), keyLinks + itoa(sid)} {
			if err = s.defStore.Delete(ctx, k); err != nil {
				return err
			}
		}
	}
	for _, sid := range slotIDs {
		if err = s.defStore.Delete(ctx, keySlot+itoa(sid)); err != nil {
			return err
		}
	}
	return s.defStore.Delete(ctx, keyVersion+itoa(versionID))
}

// versionMembers collects the sorted step and slot IDs of a version.
// Caller must hold the lock.
func (s *KV) versionMembers(ctx context.Context, versionID int64) (stepIDs, slotIDs []int64, err error) {
	for _, k := range kvKeysWithPrefix(s.defStore, keyStep) {
		id, perr := atoi(k[len(keyStep):])
		if perr != nil {
			continue
		}
		var rec stepRecord
		if _, err = kvGetJSON(ctx, s.defStore, k, &rec); err != nil {
			return nil, nil, err
		}
		if rec.Version == versionID {
			stepIDs = append(stepIDs, id)
		}
	}
	for _, k := range kvKeysWithPrefix(s.defStore, keySlot) {
		id, perr := atoi(k[len(keySlot):])
		if perr != nil {
			continue
		}
		var rec slotRecord
		if _, err = kvGetJSON(ctx, s.defStore, k, &rec); err != nil {
			return nil, nil, err
		}
		if rec.Version == versionID {
			slotIDs = append(slotIDs, id)
		}
	}
	sort.Slice(stepIDs, func(i, j int) bool { return stepIDs[i] < stepIDs[j] })
	sort.Slice(slotIDs, func(i, j int) bool { return slotIDs[i] < slotIDs[j] })
	return stepIDs, slotIDs, nil
}
