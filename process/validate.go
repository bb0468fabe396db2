package process

import "fmt"

// StructureErrorCode distinguishes the ways a tree can be invalid.
type StructureErrorCode string

const (
	// a link, permission grant, or the start marker references a step
	// or slot index outside the tree.
	StructureBadReference StructureErrorCode = "bad-reference"

	// a link from a step to itself.
	StructureSelfLoop StructureErrorCode = "self-loop"

	// a step, slot, or outgoing-link name is not unique.
	StructureDuplicateName StructureErrorCode = "duplicate-name"

	// more than one link reaches the same step through the same slot.
	StructureAmbiguousTarget StructureErrorCode = "ambiguous-target"

	// a step cannot be reached from the start step.
	StructureUnreachableStep StructureErrorCode = "unreachable-step"
)

// StructureError reports why a submitted tree was rejected.
// Element names the offending step, slot, or link.
type StructureError struct {
	Code    StructureErrorCode
	Element string
}

func (e *StructureError) Error() string {
	return fmt.Sprintf("invalid structure (%s): %s", e.Code, e.Element)
}

func structureErr(code StructureErrorCode, format string, args ...interface{}) error {
	return &StructureError{Code: code, Element: fmt.Sprintf(format, args...)}
}

// ValidateTree checks a tree submitted for version creation.
// It returns a *StructureError describing the first problem found, or
// nil for a tree that is safe to persist.
func ValidateTree(t *Tree) error {
	if len(t.Steps) < 1 {
		return structureErr(StructureBadReference, "tree has no steps")
	}
	if t.Start < 0 || t.Start >= len(t.Steps) {
		return structureErr(StructureBadReference, "start step %d", t.Start)
	}

	slotNames := make(map[string]struct{}, len(t.Slots))
	for _, slot := range t.Slots {
		if _, ok := slotNames[slot.Name]; ok {
			return structureErr(StructureDuplicateName, "slot %q", slot.Name)
		}
		slotNames[slot.Name] = struct{}{}
	}

	stepNames := make(map[string]struct{}, len(t.Steps))
	// one link per (target step, slot) across the whole version
	targets := make(map[[2]int]struct{})
	for i, step := range t.Steps {
		if _, ok := stepNames[step.Name]; ok {
			return structureErr(StructureDuplicateName, "step %q", step.Name)
		}
		stepNames[step.Name] = struct{}{}

		for _, grant := range step.Slots {
			if grant.Slot < 0 || grant.Slot >= len(t.Slots) {
				return structureErr(StructureBadReference,
					"step %q references slot %d", step.Name, grant.Slot)
			}
			if !grant.Permission.Valid() {
				return structureErr(StructureBadReference,
					"step %q grants unknown permission to slot %d", step.Name, grant.Slot)
			}
		}

		linkNames := make(map[string]struct{}, len(step.Links))
		for _, link := range step.Links {
			if link.To < 0 || link.To >= len(t.Steps) {
				return structureErr(StructureBadReference,
					"link %q from step %q targets step %d", link.Name, step.Name, link.To)
			}
			if link.Slot < 0 || link.Slot >= len(t.Slots) {
				return structureErr(StructureBadReference,
					"link %q from step %q references slot %d", link.Name, step.Name, link.Slot)
			}
			if link.To == i {
				return structureErr(StructureSelfLoop,
					"link %q from step %q", link.Name, step.Name)
			}
			if _, ok := linkNames[link.Name]; ok {
				return structureErr(StructureDuplicateName,
					"link %q from step %q", link.Name, step.Name)
			}
			linkNames[link.Name] = struct{}{}
			key := [2]int{link.To, link.Slot}
			if _, ok := targets[key]; ok {
				return structureErr(StructureAmbiguousTarget,
					"step %q reachable by slot %q through more than one link",
					t.Steps[link.To].Name, t.Slots[link.Slot].Name)
			}
			targets[key] = struct{}{}
		}
	}

	if unreached := unreachable(t); unreached >= 0 {
		return structureErr(StructureUnreachableStep, "step %q", t.Steps[unreached].Name)
	}

	return nil
}

// unreachable returns the index of a step not reachable from start, or -1.
func unreachable(t *Tree) int {
	seen := make([]bool, len(t.Steps))
	queue := []int{t.Start}
	seen[t.Start] = true
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, link := range t.Steps[cur].Links {
			if !seen[link.To] {
				seen[link.To] = true
				queue = append(queue, link.To)
			}
		}
	}
	for i, ok := range seen {
		if !ok {
			return i
		}
	}
	return -1
}
