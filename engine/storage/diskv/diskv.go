// Package diskv implements an editing process storage backend using the diskv key-value store.
package diskv

import (
	"path/filepath"

	"github.com/oerhub/editproc/engine/storage/kv"
	"github.com/oerhub/editproc/utils/kv/kvdiskv"
	"github.com/peterbourgon/diskv/v3"
)

// Diskv is a diskv-backed editing process storage backend.
type Diskv struct {
	*kv.KV
}

func New(path string) *Diskv {
	flatTransform := func(s string) []string { return []string{} }
	return &Diskv{KV: kv.New(
		kvdiskv.NewBucket(diskv.New(diskv.Options{
			BasePath:     filepath.Join(path, "process", "definition"),
			Transform:    flatTransform,
			CacheSizeMax: 1024 * 1024,
		})),
		kvdiskv.NewBucket(diskv.New(diskv.Options{
			BasePath:     filepath.Join(path, "process", "draft"),
			Transform:    flatTransform,
			CacheSizeMax: 1024 * 1024,
		})),
	)}
}
