package inmem

import (
	"testing"

	"github.com/oerhub/editproc/engine/storage"
	"github.com/oerhub/editproc/engine/storage/test"
)

func TestInmemStorage(t *testing.T) {
	test.TestProcessStorage(t, func() storage.AllStorage { return New() })
}
