package process

import "fmt"

// SlotPermission is a single permission a slot grants at a step.
type SlotPermission uint

// Storage backends (persistent storage) are likely to use these numeric
// values. Treat these as append-only: order and position matter.
const (
	PermissionView SlotPermission = 1 << iota
	PermissionEdit
	PermissionProposeChanges
	PermissionAcceptChanges
	maxSlotPermission
)

func (p SlotPermission) Valid() bool {
	return p > 0 && p < maxSlotPermission && p&(p-1) == 0
}

func (p SlotPermission) String() string {
	switch p {
	case PermissionView:
		return "view"
	case PermissionEdit:
		return "edit"
	case PermissionProposeChanges:
		return "propose-changes"
	case PermissionAcceptChanges:
		return "accept-changes"
	default:
		return fmt.Sprintf("unknown permission: %d", uint(p))
	}
}

func SlotPermissionForString(s string) SlotPermission {
	switch s {
	case "view":
		return PermissionView
	case "edit":
		return PermissionEdit
	case "propose-changes":
		return PermissionProposeChanges
	case "accept-changes":
		return PermissionAcceptChanges
	default:
		return 0
	}
}

// MarshalText marshals p to its kebab-case wire name.
func (p SlotPermission) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid slot permission: %d", uint(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText unmarshals p from its kebab-case wire name.
func (p *SlotPermission) UnmarshalText(text []byte) error {
	parsed := SlotPermissionForString(string(text))
	if !parsed.Valid() {
		return fmt.Errorf("invalid slot permission: %s", string(text))
	}
	*p = parsed
	return nil
}

// PermissionSet is a union of slot permissions.
// Permission derivation is a set operation over the closed enumeration
// above: the permissions a user has to a draft are the union of the
// grants of every slot they occupy at the draft's current step.
type PermissionSet uint

// Add returns s with p added.
func (s PermissionSet) Add(p SlotPermission) PermissionSet {
	return s | PermissionSet(p)
}

// Union returns the union of s and o.
func (s PermissionSet) Union(o PermissionSet) PermissionSet {
	return s | o
}

// Has reports whether p is in s.
func (s PermissionSet) Has(p SlotPermission) bool {
	return uint(s)&uint(p) != 0
}

// Slice expands s into individual permissions in declaration order.
func (s PermissionSet) Slice() []SlotPermission {
	var r []SlotPermission
	for p := PermissionView; p < maxSlotPermission; p <<= 1 {
		if s.Has(p) {
			r = append(r, p)
		}
	}
	return r
}
