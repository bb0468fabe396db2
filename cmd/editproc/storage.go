package main

import (
	"context"
	"fmt"

	"github.com/oerhub/editproc/engine/storage"
	storagediskv "github.com/oerhub/editproc/engine/storage/diskv"
	storageinmem "github.com/oerhub/editproc/engine/storage/inmem"
	storagesql "github.com/oerhub/editproc/engine/storage/sqldb"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

func parseStorage(name, dsn string) (storage.AllStorage, error) {
	switch name {
	case "inmem":
		return storageinmem.New(), nil
	case "file", "diskv":
		if dsn == "" {
			dsn = "db"
		}
		return storagediskv.New(dsn), nil
	case "mysql":
		return storagesql.New(storagesql.WithDSN(dsn))
	case "sqlite":
		s, err := storagesql.New(
			storagesql.WithDriver("sqlite"),
			storagesql.WithDSN(dsn),
			storagesql.WithDialect(storagesql.DialectSQLite),
		)
		if err != nil {
			return nil, err
		}
		if err = s.CreateTables(context.Background()); err != nil {
			return nil, fmt.Errorf("creating tables: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown storage: %s", name)
}
