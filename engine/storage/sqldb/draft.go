package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/oerhub/editproc/engine/storage"
)

// CreateDraft implements the storage interface method.
func (s *SQLStorage) CreateDraft(ctx context.Context, d *storage.Draft, assignments []storage.Assignment) error {
	return tx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx, `SELECT module_id FROM drafts WHERE module_id = ?;`, d.ModuleID).Scan(&existing)
		if err == nil {
			return fmt.Errorf("module %s: %w", d.ModuleID, storage.ErrDraftExists)
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO drafts (module_id, team_id, version_id, step_id) VALUES (?, ?, ?, ?);`,
			d.ModuleID, d.TeamID, d.VersionID, d.StepID,
		)
		if err != nil {
			return err
		}
		for _, a := range assignments {
			_, err = tx.ExecContext(
				ctx,
				`INSERT INTO assignments (module_id, slot_id, user_id) VALUES (?, ?, ?);`,
				d.ModuleID, a.SlotID, a.UserID,
			)
			if err != nil {
				return err
			}
		}
		// permanent usage mark consulted by the deletion guards
		_, err = tx.ExecContext(ctx, `UPDATE versions SET used = 1 WHERE id = ?;`, d.VersionID)
		return err
	})
}

// RetrieveDraft implements the storage interface method.
func (s *SQLStorage) RetrieveDraft(ctx context.Context, moduleID string) (*storage.Draft, error) {
	return selectDraft(ctx, s.db, moduleID)
}

func selectDraft(ctx context.Context, q queryer, moduleID string) (*storage.Draft, error) {
	d := &storage.Draft{ModuleID: moduleID}
	err := q.QueryRowContext(
		ctx,
		`SELECT team_id, version_id, step_id FROM drafts WHERE module_id = ?;`,
		moduleID,
	).Scan(&d.TeamID, &d.VersionID, &d.StepID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("draft of module %s: %w", moduleID, storage.ErrNotFound)
	} else if err != nil {
		return nil, err
	}
	return d, nil
}

// RetrieveDrafts implements the storage interface method.
func (s *SQLStorage) RetrieveDrafts(ctx context.Context) ([]storage.Draft, error) {
	return s.selectDrafts(
		ctx,
		`SELECT module_id, team_id, version_id, step_id FROM drafts ORDER BY module_id;`,
	)
}

// RetrieveDraftsForUser implements the storage interface method.
func (s *SQLStorage) RetrieveDraftsForUser(ctx context.Context, userID int64) ([]storage.Draft, error) {
	return s.selectDrafts(
		ctx,
		`SELECT DISTINCT d.module_id, d.team_id, d.version_id, d.step_id
		   FROM drafts d JOIN assignments a ON a.module_id = d.module_id
		  WHERE a.user_id = ?
		  ORDER BY d.module_id;`,
		userID,
	)
}

func (s *SQLStorage) selectDrafts(ctx context.Context, query string, args ...interface{}) ([]storage.Draft, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var drafts []storage.Draft
	for rows.Next() {
		var d storage.Draft
		if err = rows.Scan(&d.ModuleID, &d.TeamID, &d.VersionID, &d.StepID); err != nil {
			return nil, err
		}
		drafts = append(drafts, d)
	}
	return drafts, rows.Err()
}

// RetrieveAssignments implements the storage interface method.
func (s *SQLStorage) RetrieveAssignments(ctx context.Context, moduleID string) ([]storage.Assignment, error) {
	if _, err := s.RetrieveDraft(ctx, moduleID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT slot_id, user_id FROM assignments WHERE module_id = ? ORDER BY slot_id;`,
		moduleID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var assignments []storage.Assignment
	for rows.Next() {
		var a storage.Assignment
		if err = rows.Scan(&a.SlotID, &a.UserID); err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// PutAssignment implements the storage interface method.
func (s *SQLStorage) PutAssignment(ctx context.Context, moduleID string, slotID, userID int64) (prev int64, replaced bool, err error) {
	err = tx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := selectDraft(ctx, tx, moduleID); err != nil {
			return err
		}
		err := tx.QueryRowContext(
			ctx,
			`SELECT user_id FROM assignments WHERE module_id = ? AND slot_id = ?;`,
			moduleID, slotID,
		).Scan(&prev)
		if errors.Is(err, sql.ErrNoRows) {
			_, err = tx.ExecContext(
				ctx,
				`INSERT INTO assignments (module_id, slot_id, user_id) VALUES (?, ?, ?);`,
				moduleID, slotID, userID,
			)
			return err
		} else if err != nil {
			return err
		}
		replaced = true
		_, err = tx.ExecContext(
			ctx,
			`UPDATE assignments SET user_id = ? WHERE module_id = ? AND slot_id = ?;`,
			userID, moduleID, slotID,
		)
		return err
	})
	if err != nil {
		return 0, false, err
	}
	return prev, replaced, nil
}

// DeleteAssignment implements the storage interface method.
func (s *SQLStorage) DeleteAssignment(ctx context.Context, moduleID string, slotID int64) (prev int64, removed bool, err error) {
	err = tx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := selectDraft(ctx, tx, moduleID); err != nil {
			return err
		}
		err := tx.QueryRowContext(
			ctx,
			`SELECT user_id FROM assignments WHERE module_id = ? AND slot_id = ?;`,
			moduleID, slotID,
		).Scan(&prev)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		} else if err != nil {
			return err
		}
		removed = true
		_, err = tx.ExecContext(
			ctx,
			`DELETE FROM assignments WHERE module_id = ? AND slot_id = ?;`,
			moduleID, slotID,
		)
		return err
	})
	if err != nil {
		return 0, false, err
	}
	return prev, removed, nil
}

// CommitAdvance implements the storage interface method.
func (s *SQLStorage) CommitAdvance(ctx context.Context, moduleID string, fromStepID, toStepID int64, fills []storage.Assignment) error {
	return tx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		d, err := selectDraft(ctx, tx, moduleID)
		if err != nil {
			return err
		}
		if d.StepID != fromStepID {
			return fmt.Errorf("draft of module %s at step %d, not %d: %w",
				moduleID, d.StepID, fromStepID, storage.ErrStepChanged)
		}
		result, err := tx.ExecContext(
			ctx,
			`UPDATE drafts SET step_id = ? WHERE module_id = ? AND step_id = ?;`,
			toStepID, moduleID, fromStepID,
		)
		if err != nil {
			return err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if n < 1 {
			return fmt.Errorf("draft of module %s: %w", moduleID, storage.ErrStepChanged)
		}
		for _, fill := range fills {
			_, err = tx.ExecContext(
				ctx,
				`INSERT INTO assignments (module_id, slot_id, user_id) VALUES (?, ?, ?);`,
				moduleID, fill.SlotID, fill.UserID,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteDraft implements the storage interface method.
func (s *SQLStorage) DeleteDraft(ctx context.Context, moduleID string) error {
	return tx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := selectDraft(ctx, tx, moduleID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE module_id = ?;`, moduleID)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM drafts WHERE module_id = ?;`, moduleID)
		return err
	})
}
