package process

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestSlotPermissionStrings(t *testing.T) {
	for p := PermissionView; p < maxSlotPermission; p <<= 1 {
		if have, want := SlotPermissionForString(p.String()), p; have != want {
			t.Errorf("round trip failed: have: %v, want: %v", have, want)
		}
	}
	if SlotPermissionForString("nope").Valid() {
		t.Error("unknown permission string parsed as valid")
	}
}

func TestPermissionSet(t *testing.T) {
	var s PermissionSet
	s = s.Add(PermissionView).Add(PermissionAcceptChanges)
	if !s.Has(PermissionView) || !s.Has(PermissionAcceptChanges) {
		t.Error("added permissions missing from set")
	}
	if s.Has(PermissionEdit) {
		t.Error("set contains permission that was not added")
	}
	want := []SlotPermission{PermissionView, PermissionAcceptChanges}
	if have := s.Slice(); !reflect.DeepEqual(have, want) {
		t.Errorf("unexpected slice: have: %v, want: %v", have, want)
	}
}

func TestSlotPermissionJSON(t *testing.T) {
	b, err := json.Marshal(PermissionProposeChanges)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := string(b), `"propose-changes"`; have != want {
		t.Errorf("unexpected JSON: have: %v, want: %v", have, want)
	}
	var p SlotPermission
	if err = json.Unmarshal(b, &p); err != nil {
		t.Fatal(err)
	}
	if have, want := p, PermissionProposeChanges; have != want {
		t.Errorf("unexpected permission: have: %v, want: %v", have, want)
	}
}

func TestEventKindStrings(t *testing.T) {
	for e := EventAssigned; e < maxEventKind; e <<= 1 {
		if have, want := EventKindForString(e.String()), e; have != want {
			t.Errorf("round trip failed: have: %v, want: %v", have, want)
		}
	}
}
