package sqldb

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/oerhub/editproc/engine/storage"
	"github.com/oerhub/editproc/engine/storage/test"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

func TestMySQLStorage(t *testing.T) {
	testDSN := os.Getenv("EDITPROC_MYSQL_STORAGE_TEST_DSN")
	if testDSN == "" {
		t.Skip("EDITPROC_MYSQL_STORAGE_TEST_DSN not set")
	}

	s, err := New(WithDSN(testDSN))
	if err != nil {
		t.Fatal(err)
	}
	if err = s.CreateTables(context.Background()); err != nil {
		t.Fatal(err)
	}

	test.TestProcessStorage(t, func() storage.AllStorage { return s })
}

func TestSQLiteStorage(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "editproc.db")
	s, err := New(WithDriver("sqlite"), WithDSN(dsn), WithDialect(DialectSQLite))
	if err != nil {
		t.Fatal(err)
	}
	if err = s.CreateTables(context.Background()); err != nil {
		t.Fatal(err)
	}

	test.TestProcessStorage(t, func() storage.AllStorage { return s })
}
