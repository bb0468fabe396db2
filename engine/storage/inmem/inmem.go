// Package inmem implements an editing process storage backend using a map-based key-value store.
package inmem

import (
	"github.com/oerhub/editproc/engine/storage/kv"
	"github.com/oerhub/editproc/utils/kv/kvmap"
)

// InMem is an in-memory editing process storage backend.
type InMem struct {
	*kv.KV
}

func New() *InMem {
	return &InMem{KV: kv.New(
		kvmap.NewBucket(),
		kvmap.NewBucket(),
	)}
}
