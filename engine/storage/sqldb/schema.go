package sqldb

import (
	"context"
	"strings"
)

// creation times are stored as unix nanoseconds so both dialects
// compare and order them identically

const schemaMySQL = `
CREATE TABLE IF NOT EXISTS processes (
    id   BIGINT NOT NULL AUTO_INCREMENT,
    name VARCHAR(255) NOT NULL,
    PRIMARY KEY (id),
    UNIQUE KEY (name)
);

CREATE TABLE IF NOT EXISTS versions (
    id            BIGINT NOT NULL AUTO_INCREMENT,
    process_id    BIGINT NOT NULL,
    created_at    BIGINT NOT NULL,
    start_step_id BIGINT NOT NULL DEFAULT 0,
    used          TINYINT(1) NOT NULL DEFAULT 0,
    PRIMARY KEY (id),
    FOREIGN KEY (process_id) REFERENCES processes (id)
);

CREATE TABLE IF NOT EXISTS slots (
    id         BIGINT NOT NULL AUTO_INCREMENT,
    version_id BIGINT NOT NULL,
    name       VARCHAR(255) NOT NULL,
    roles      TEXT NOT NULL,
    autofill   TINYINT(1) NOT NULL DEFAULT 0,
    PRIMARY KEY (id),
    FOREIGN KEY (version_id) REFERENCES versions (id)
);

CREATE TABLE IF NOT EXISTS steps (
    id         BIGINT NOT NULL AUTO_INCREMENT,
    version_id BIGINT NOT NULL,
    name       VARCHAR(255) NOT NULL,
    PRIMARY KEY (id),
    FOREIGN KEY (version_id) REFERENCES versions (id)
);

CREATE TABLE IF NOT EXISTS step_grants (
    step_id    BIGINT NOT NULL,
    slot_id    BIGINT NOT NULL,
    permission INT NOT NULL,
    PRIMARY KEY (step_id, slot_id, permission),
    FOREIGN KEY (step_id) REFERENCES steps (id),
    FOREIGN KEY (slot_id) REFERENCES slots (id)
);

CREATE TABLE IF NOT EXISTS links (
    from_step_id BIGINT NOT NULL,
    to_step_id   BIGINT NOT NULL,
    slot_id      BIGINT NOT NULL,
    name         VARCHAR(255) NOT NULL,
    PRIMARY KEY (from_step_id, to_step_id, slot_id),
    FOREIGN KEY (from_step_id) REFERENCES steps (id),
    FOREIGN KEY (to_step_id) REFERENCES steps (id),
    FOREIGN KEY (slot_id) REFERENCES slots (id)
);

CREATE TABLE IF NOT EXISTS drafts (
    module_id  VARCHAR(36) NOT NULL,
    team_id    BIGINT NOT NULL,
    version_id BIGINT NOT NULL,
    step_id    BIGINT NOT NULL,
    PRIMARY KEY (module_id),
    FOREIGN KEY (version_id) REFERENCES versions (id),
    FOREIGN KEY (step_id) REFERENCES steps (id)
);

CREATE TABLE IF NOT EXISTS assignments (
    module_id VARCHAR(36) NOT NULL,
    slot_id   BIGINT NOT NULL,
    user_id   BIGINT NOT NULL,
    PRIMARY KEY (module_id, slot_id),
    FOREIGN KEY (module_id) REFERENCES drafts (module_id),
    FOREIGN KEY (slot_id) REFERENCES slots (id)
);
`

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS processes (
    id   INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS versions (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    process_id    INTEGER NOT NULL REFERENCES processes (id),
    created_at    INTEGER NOT NULL,
    start_step_id INTEGER NOT NULL DEFAULT 0,
    used          INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS slots (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    version_id INTEGER NOT NULL REFERENCES versions (id),
    name       TEXT NOT NULL,
    roles      TEXT NOT NULL,
    autofill   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS steps (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    version_id INTEGER NOT NULL REFERENCES versions (id),
    name       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS step_grants (
    step_id    INTEGER NOT NULL REFERENCES steps (id),
    slot_id    INTEGER NOT NULL REFERENCES slots (id),
    permission INTEGER NOT NULL,
    PRIMARY KEY (step_id, slot_id, permission)
);

CREATE TABLE IF NOT EXISTS links (
    from_step_id INTEGER NOT NULL REFERENCES steps (id),
    to_step_id   INTEGER NOT NULL REFERENCES steps (id),
    slot_id      INTEGER NOT NULL REFERENCES slots (id),
    name         TEXT NOT NULL,
    PRIMARY KEY (from_step_id, to_step_id, slot_id)
);

CREATE TABLE IF NOT EXISTS drafts (
    module_id  TEXT PRIMARY KEY,
    team_id    INTEGER NOT NULL,
    version_id INTEGER NOT NULL REFERENCES versions (id),
    step_id    INTEGER NOT NULL REFERENCES steps (id)
);

CREATE TABLE IF NOT EXISTS assignments (
    module_id TEXT NOT NULL REFERENCES drafts (module_id),
    slot_id   INTEGER NOT NULL REFERENCES slots (id),
    user_id   INTEGER NOT NULL,
    PRIMARY KEY (module_id, slot_id)
);
`

// CreateTables creates the storage schema for the configured dialect.
// Statements are idempotent.
func (s *SQLStorage) CreateTables(ctx context.Context) error {
	schema := schemaMySQL
	if s.dialect == DialectSQLite {
		schema = schemaSQLite
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
