package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/oerhub/editproc/process"
	"github.com/oerhub/editproc/utils/kv"
)

// key prefixes within the definition bucket
const (
	keySeq     = "seq"
	keyProcess = "process."
	keyVersion = "version."
	keyStep    = "step."
	keySlot    = "slot."
	keyGrants  = "grants."
	keyLinks   = "links."
	keyUsed    = "used."
)

// key prefixes within the draft bucket
const (
	keyDraft  = "draft."
	keyAssign = "assign."
)

// versionRecord is the stored form of a storage.Version.
type versionRecord struct {
	Process   int64 `json:"process"`
	CreatedAt int64 `json:"created_at"` // unix nanoseconds
	Start     int64 `json:"start"`
}

// stepRecord is the stored form of a storage.Step.
type stepRecord struct {
	Version int64  `json:"version"`
	Name    string `json:"name"`
}

// slotRecord is the stored form of a storage.Slot.
type slotRecord struct {
	Version  int64   `json:"version"`
	Name     string  `json:"name"`
	Roles    []int64 `json:"roles,omitempty"`
	Autofill bool    `json:"autofill,omitempty"`
}

// grantRecord is one permission grant of a step.
type grantRecord struct {
	Slot       int64                  `json:"slot"`
	Permission process.SlotPermission `json:"permission"`
}

// linkRecord is one outgoing link of a step.
type linkRecord struct {
	Name string `json:"name"`
	To   int64  `json:"to"`
	Slot int64  `json:"slot"`
}

// draftRecord is the stored form of a storage.Draft (sans module ID).
type draftRecord struct {
	Team    int64 `json:"team"`
	Version int64 `json:"version"`
	Step    int64 `json:"step"`
}

func itoa(i int64) string {
	return strconv.FormatInt(i, 10)
}

func atoi(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

// kvSetJSON marshals v and stores it under k.
func kvSetJSON(ctx context.Context, b kv.Bucket, k string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", k, err)
	}
	return b.Set(ctx, k, raw)
}

// kvGetJSON fetches k and unmarshals it into v.
// found is false (with nil error) when k does not exist.
func kvGetJSON(ctx context.Context, b kv.Bucket, k string, v interface{}) (bool, error) {
	ok, err := b.Has(ctx, k)
	if err != nil || !ok {
		return false, err
	}
	raw, err := b.Get(ctx, k)
	if err != nil {
		return false, fmt.Errorf("get %s: %w", k, err)
	}
	if err = json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", k, err)
	}
	return true, nil
}

// kvKeysWithPrefix collects the bucket keys beginning with prefix.
func kvKeysWithPrefix(b kv.TraversingBucket, prefix string) []string {
	var keys []string
	cancel := make(chan struct{})
	defer close(cancel)
	for k := range b.Keys(cancel) {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys
}
