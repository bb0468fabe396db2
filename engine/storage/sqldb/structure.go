package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/oerhub/editproc/engine/storage"
	"github.com/oerhub/editproc/process"
)

// queryer covers *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// RetrieveStep implements the storage interface method.
func (s *SQLStorage) RetrieveStep(ctx context.Context, stepID int64) (*storage.Step, error) {
	return selectStep(ctx, s.db, stepID)
}

func selectStep(ctx context.Context, q queryer, stepID int64) (*storage.Step, error) {
	step := &storage.Step{ID: stepID}
	err := q.QueryRowContext(
		ctx,
		`SELECT version_id, name FROM steps WHERE id = ?;`,
		stepID,
	).Scan(&step.VersionID, &step.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("step %d: %w", stepID, storage.ErrNotFound)
	} else if err != nil {
		return nil, err
	}
	return step, nil
}

// RetrieveSlot implements the storage interface method.
func (s *SQLStorage) RetrieveSlot(ctx context.Context, slotID int64) (*storage.Slot, error) {
	return selectSlot(ctx, s.db, slotID)
}

func selectSlot(ctx context.Context, q queryer, slotID int64) (*storage.Slot, error) {
	slot := &storage.Slot{ID: slotID}
	var roles string
	err := q.QueryRowContext(
		ctx,
		`SELECT version_id, name, roles, autofill FROM slots WHERE id = ?;`,
		slotID,
	).Scan(&slot.VersionID, &slot.Name, &roles, &slot.Autofill)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("slot %d: %w", slotID, storage.ErrNotFound)
	} else if err != nil {
		return nil, err
	}
	if err = json.Unmarshal([]byte(roles), &slot.Roles); err != nil {
		return nil, fmt.Errorf("unmarshal roles of slot %d: %w", slotID, err)
	}
	return slot, nil
}

// RetrieveStepSlots implements the storage interface method.
func (s *SQLStorage) RetrieveStepSlots(ctx context.Context, stepID int64) ([]storage.StepSlot, error) {
	return selectStepSlots(ctx, s.db, stepID)
}

func selectStepSlots(ctx context.Context, q queryer, stepID int64) ([]storage.StepSlot, error) {
	if _, err := selectStep(ctx, q, stepID); err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(
		ctx,
		`SELECT s.id, s.version_id, s.name, s.roles, s.autofill, g.permission
		   FROM step_grants g JOIN slots s ON s.id = g.slot_id
		  WHERE g.step_id = ?
		  ORDER BY s.id;`,
		stepID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var stepSlots []storage.StepSlot
	for rows.Next() {
		var slot storage.Slot
		var roles string
		var perm int64
		err = rows.Scan(&slot.ID, &slot.VersionID, &slot.Name, &roles, &slot.Autofill, &perm)
		if err != nil {
			return nil, err
		}
		// grant rows for one slot arrive adjacent; fold them
		if n := len(stepSlots); n > 0 && stepSlots[n-1].Slot.ID == slot.ID {
			stepSlots[n-1].Permissions = stepSlots[n-1].Permissions.Add(process.SlotPermission(perm))
			continue
		}
		if err = json.Unmarshal([]byte(roles), &slot.Roles); err != nil {
			return nil, fmt.Errorf("unmarshal roles of slot %d: %w", slot.ID, err)
		}
		stepSlots = append(stepSlots, storage.StepSlot{
			Slot:        slot,
			Permissions: process.PermissionSet(0).Add(process.SlotPermission(perm)),
		})
	}
	return stepSlots, rows.Err()
}

// RetrieveLinks implements the storage interface method.
func (s *SQLStorage) RetrieveLinks(ctx context.Context, stepID int64) ([]storage.Link, error) {
	return selectLinks(ctx, s.db, stepID)
}

func selectLinks(ctx context.Context, q queryer, stepID int64) ([]storage.Link, error) {
	if _, err := selectStep(ctx, q, stepID); err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(
		ctx,
		`SELECT to_step_id, slot_id, name FROM links WHERE from_step_id = ? ORDER BY slot_id, to_step_id;`,
		stepID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var links []storage.Link
	for rows.Next() {
		link := storage.Link{FromStepID: stepID}
		if err = rows.Scan(&link.ToStepID, &link.SlotID, &link.Name); err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

// RetrieveLink implements the storage interface method.
func (s *SQLStorage) RetrieveLink(ctx context.Context, fromStepID, toStepID, slotID int64) (*storage.Link, error) {
	link := &storage.Link{FromStepID: fromStepID, ToStepID: toStepID, SlotID: slotID}
	err := s.db.QueryRowContext(
		ctx,
		`SELECT name FROM links WHERE from_step_id = ? AND to_step_id = ? AND slot_id = ?;`,
		fromStepID, toStepID, slotID,
	).Scan(&link.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("link %d-%d via slot %d: %w", fromStepID, toStepID, slotID, storage.ErrNotFound)
	} else if err != nil {
		return nil, err
	}
	return link, nil
}

// RetrieveStructure implements the storage interface method.
func (s *SQLStorage) RetrieveStructure(ctx context.Context, versionID int64) (*process.Tree, error) {
	version, err := s.RetrieveVersionByID(ctx, versionID)
	if err != nil {
		return nil, err
	}
	proc, err := s.RetrieveProcess(ctx, version.ProcessID)
	if err != nil {
		return nil, err
	}

	tree := &process.Tree{Name: proc.Name}

	// IDs are allocated in insertion order, so sorted ID order
	// reproduces the original slice order.
	slotIdx := make(map[int64]int)
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, name, roles, autofill FROM slots WHERE version_id = ? ORDER BY id;`,
		versionID,
	)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var slot process.TreeSlot
		var roles string
		if err = rows.Scan(&slot.ID, &slot.Name, &roles, &slot.Autofill); err != nil {
			rows.Close()
			return nil, err
		}
		if err = json.Unmarshal([]byte(roles), &slot.Roles); err != nil {
			rows.Close()
			return nil, fmt.Errorf("unmarshal roles of slot %d: %w", slot.ID, err)
		}
		slotIdx[slot.ID] = len(tree.Slots)
		tree.Slots = append(tree.Slots, slot)
	}
	if err = rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	stepIdx := make(map[int64]int)
	rows, err = s.db.QueryContext(
		ctx,
		`SELECT id, name FROM steps WHERE version_id = ? ORDER BY id;`,
		versionID,
	)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var step process.TreeStep
		if err = rows.Scan(&step.ID, &step.Name); err != nil {
			rows.Close()
			return nil, err
		}
		stepIdx[step.ID] = len(tree.Steps)
		tree.Steps = append(tree.Steps, step)
	}
	if err = rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	tree.Start = stepIdx[version.Start]

	for i := range tree.Steps {
		stepID := tree.Steps[i].ID
		grants, err := s.db.QueryContext(
			ctx,
			`SELECT slot_id, permission FROM step_grants WHERE step_id = ? ORDER BY slot_id, permission;`,
			stepID,
		)
		if err != nil {
			return nil, err
		}
		for grants.Next() {
			var slotID, perm int64
			if err = grants.Scan(&slotID, &perm); err != nil {
				grants.Close()
				return nil, err
			}
			tree.Steps[i].Slots = append(tree.Steps[i].Slots, process.TreeStepSlot{
				Slot:       slotIdx[slotID],
				Permission: process.SlotPermission(perm),
			})
		}
		if err = grants.Err(); err != nil {
			grants.Close()
			return nil, err
		}
		grants.Close()

		links, err := selectLinks(ctx, s.db, stepID)
		if err != nil {
			return nil, err
		}
		for _, link := range links {
			tree.Steps[i].Links = append(tree.Steps[i].Links, process.TreeLink{
				Name: link.Name,
				To:   stepIdx[link.ToStepID],
				Slot: slotIdx[link.SlotID],
			})
		}
	}
	return tree, nil
}
