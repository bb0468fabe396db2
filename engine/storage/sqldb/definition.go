package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oerhub/editproc/engine/storage"
	"github.com/oerhub/editproc/process"
)

// CreateProcess implements the storage interface method.
func (s *SQLStorage) CreateProcess(ctx context.Context, tree *process.Tree) (*storage.Version, error) {
	if err := process.ValidateTree(tree); err != nil {
		return nil, err
	}
	var version *storage.Version
	err := tx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		taken, err := nameTaken(ctx, tx, tree.Name, 0)
		if err != nil {
			return err
		} else if taken {
			return storage.ErrDuplicateName
		}
		result, err := tx.ExecContext(ctx, `INSERT INTO processes (name) VALUES (?);`, tree.Name)
		if err != nil {
			return err
		}
		processID, err := result.LastInsertId()
		if err != nil {
			return err
		}
		version, err = insertVersion(ctx, tx, processID, tree)
		return err
	})
	return version, err
}

// CreateVersion implements the storage interface method.
func (s *SQLStorage) CreateVersion(ctx context.Context, processID int64, tree *process.Tree) (*storage.Version, error) {
	if err := process.ValidateTree(tree); err != nil {
		return nil, err
	}
	var version *storage.Version
	err := tx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		var name string
		err := tx.QueryRowContext(ctx, `SELECT name FROM processes WHERE id = ?;`, processID).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("process %d: %w", processID, storage.ErrNotFound)
		} else if err != nil {
			return err
		}
		if tree.Name != name {
			taken, err := nameTaken(ctx, tx, tree.Name, processID)
			if err != nil {
				return err
			} else if taken {
				return storage.ErrDuplicateName
			}
			_, err = tx.ExecContext(ctx, `UPDATE processes SET name = ? WHERE id = ?;`, tree.Name, processID)
			if err != nil {
				return err
			}
		}
		version, err = insertVersion(ctx, tx, processID, tree)
		return err
	})
	return version, err
}

func nameTaken(ctx context.Context, tx *sql.Tx, name string, selfID int64) (bool, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM processes WHERE name = ? AND id != ?;`, name, selfID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// insertVersion persists a validated tree as a new version of processID
// within tx.
func insertVersion(ctx context.Context, tx *sql.Tx, processID int64, tree *process.Tree) (*storage.Version, error) {
	createdAt := time.Now().UTC()
	result, err := tx.ExecContext(
		ctx,
		`INSERT INTO versions (process_id, created_at) VALUES (?, ?);`,
		processID, createdAt.UnixNano(),
	)
	if err != nil {
		return nil, err
	}
	versionID, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	slotIDs := make([]int64, len(tree.Slots))
	for i, slot := range tree.Slots {
		roles, err := json.Marshal(slot.Roles)
		if err != nil {
			return nil, err
		}
		result, err = tx.ExecContext(
			ctx,
			`INSERT INTO slots (version_id, name, roles, autofill) VALUES (?, ?, ?, ?);`,
			versionID, slot.Name, string(roles), slot.Autofill,
		)
		if err != nil {
			return nil, err
		}
		if slotIDs[i], err = result.LastInsertId(); err != nil {
			return nil, err
		}
	}

	stepIDs := make([]int64, len(tree.Steps))
	for i, step := range tree.Steps {
		result, err = tx.ExecContext(
			ctx,
			`INSERT INTO steps (version_id, name) VALUES (?, ?);`,
			versionID, step.Name,
		)
		if err != nil {
			return nil, err
		}
		if stepIDs[i], err = result.LastInsertId(); err != nil {
			return nil, err
		}
	}

	for i, step := range tree.Steps {
		for _, grant := range step.Slots {
			_, err = tx.ExecContext(
				ctx,
				`INSERT INTO step_grants (step_id, slot_id, permission) VALUES (?, ?, ?);`,
				stepIDs[i], slotIDs[grant.Slot], int64(grant.Permission),
			)
			if err != nil {
				return nil, err
			}
		}
		for _, link := range step.Links {
			_, err = tx.ExecContext(
				ctx,
				`INSERT INTO links (from_step_id, to_step_id, slot_id, name) VALUES (?, ?, ?, ?);`,
				stepIDs[i], stepIDs[link.To], slotIDs[link.Slot], link.Name,
			)
			if err != nil {
				return nil, err
			}
		}
	}

	start := stepIDs[tree.Start]
	_, err = tx.ExecContext(ctx, `UPDATE versions SET start_step_id = ? WHERE id = ?;`, start, versionID)
	if err != nil {
		return nil, err
	}
	return &storage.Version{
		ID:        versionID,
		ProcessID: processID,
		CreatedAt: createdAt,
		Start:     start,
	}, nil
}

// RetrieveProcesses implements the storage interface method.
func (s *SQLStorage) RetrieveProcesses(ctx context.Context) ([]storage.Process, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM processes ORDER BY id;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var procs []storage.Process
	for rows.Next() {
		var p storage.Process
		if err = rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, err
		}
		procs = append(procs, p)
	}
	return procs, rows.Err()
}

// RetrieveProcess implements the storage interface method.
func (s *SQLStorage) RetrieveProcess(ctx context.Context, id int64) (*storage.Process, error) {
	p := &storage.Process{ID: id}
	err := s.db.QueryRowContext(ctx, `SELECT name FROM processes WHERE id = ?;`, id).Scan(&p.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("process %d: %w", id, storage.ErrNotFound)
	} else if err != nil {
		return nil, err
	}
	return p, nil
}

// RenameProcess implements the storage interface method.
func (s *SQLStorage) RenameProcess(ctx context.Context, id int64, name string) error {
	return tx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		taken, err := nameTaken(ctx, tx, name, id)
		if err != nil {
			return err
		} else if taken {
			return storage.ErrDuplicateName
		}
		result, err := tx.ExecContext(ctx, `UPDATE processes SET name = ? WHERE id = ?;`, name, id)
		if err != nil {
			return err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if n < 1 {
			// the update may also have been a no-op rename
			var found int64
			err = tx.QueryRowContext(ctx, `SELECT id FROM processes WHERE id = ?;`, id).Scan(&found)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("process %d: %w", id, storage.ErrNotFound)
			}
			return err
		}
		return nil
	})
}

// RetrieveVersions implements the storage interface method.
func (s *SQLStorage) RetrieveVersions(ctx context.Context, processID int64) ([]storage.Version, error) {
	if _, err := s.RetrieveProcess(ctx, processID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, created_at, start_step_id FROM versions WHERE process_id = ? ORDER BY created_at DESC, id DESC;`,
		processID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var versions []storage.Version
	for rows.Next() {
		v := storage.Version{ProcessID: processID}
		var createdAt int64
		if err = rows.Scan(&v.ID, &createdAt, &v.Start); err != nil {
			return nil, err
		}
		v.CreatedAt = time.Unix(0, createdAt).UTC()
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// RetrieveVersion implements the storage interface method.
func (s *SQLStorage) RetrieveVersion(ctx context.Context, processID, versionID int64) (*storage.Version, error) {
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
func (s *SQLStorage) RetrieveVersionByID(ctx context.Context, versionID int64) (*storage.Version, error) {
	v := &storage.Version{ID: versionID}
	var createdAt int64
	err := s.db.QueryRowContext(
		ctx,
		`SELECT process_id, created_at, start_step_id FROM versions WHERE id = ?;`,
		versionID,
	).Scan(&v.ProcessID, &createdAt, &v.Start)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("version %d: %w", versionID, storage.ErrNotFound)
	} else if err != nil {
		return nil, err
	}
	v.CreatedAt = time.Unix(0, createdAt).UTC()
	return v, nil
}

// LatestVersion implements the storage interface method.
func (s *SQLStorage) LatestVersion(ctx context.Context, processID int64) (*storage.Version, error) {
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
func (s *SQLStorage) DeleteProcess(ctx context.Context, id int64) error {
	return tx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		var found int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM processes WHERE id = ?;`, id).Scan(&found)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("process %d: %w", id, storage.ErrNotFound)
		} else if err != nil {
			return err
		}
		var used int64
		err = tx.QueryRowContext(
			ctx,
			`SELECT COUNT(*) FROM versions WHERE process_id = ? AND used != 0;`,
			id,
		).Scan(&used)
		if err != nil {
			return err
		}
		if used > 0 {
			return fmt.Errorf("process %d: %w", id, storage.ErrInUse)
		}
		rows, err := tx.QueryContext(ctx, `SELECT id FROM versions WHERE process_id = ?;`, id)
		if err != nil {
			return err
		}
		var versionIDs []int64
		for rows.Next() {
			var vid int64
			if err = rows.Scan(&vid); err != nil {
				rows.Close()
				return err
			}
			versionIDs = append(versionIDs, vid)
		}
		if err = rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()
		for _, vid := range versionIDs {
			if err = deleteVersionRows(ctx, tx, vid); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM processes WHERE id = ?;`, id)
		return err
	})
}

// DeleteVersion implements the storage interface method.
func (s *SQLStorage) DeleteVersion(ctx context.Context, versionID int64) error {
	return tx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		var used int64
		err := tx.QueryRowContext(ctx, `SELECT used FROM versions WHERE id = ?;`, versionID).Scan(&used)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("version %d: %w", versionID, storage.ErrNotFound)
		} else if err != nil {
			return err
		}
		if used != 0 {
			return fmt.Errorf("version %d: %w", versionID, storage.ErrInUse)
		}
		return deleteVersionRows(ctx, tx, versionID)
	})
}

// deleteVersionRows removes a version and its steps, slots, grants,
// and links within tx.
func deleteVersionRows(ctx context.Context, tx *sql.Tx, versionID int64) error {
	for _, stmt := range []string{
		`DELETE FROM step_grants WHERE step_id IN (SELECT id FROM steps WHERE version_id = ?);`,
		`DELETE FROM links WHERE from_step_id IN (SELECT id FROM steps WHERE version_id = ?);`,
		`DELETE FROM steps WHERE version_id = ?;`,
		`DELETE FROM slots WHERE version_id = ?;`,
		`DELETE FROM versions WHERE id = ?;`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, versionID); err != nil {
			return err
		}
	}
	return nil
}
