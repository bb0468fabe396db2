package process

// Tree is a complete description of one version of an editing process.
//
// When a tree is submitted to create a new version the ID fields are
// ignored: steps and slots are addressed by index into Steps and Slots.
// Trees read back from storage carry the assigned identifiers.
type Tree struct {
	Name  string     `json:"name"`
	Start int        `json:"start"`
	Slots []TreeSlot `json:"slots"`
	Steps []TreeStep `json:"steps"`
}

// TreeSlot describes a slot of a process version.
// An empty Roles list means the slot is unrestricted.
type TreeSlot struct {
	ID       int64   `json:"id,omitempty"`
	Name     string  `json:"name"`
	Roles    []int64 `json:"roles,omitempty"`
	Autofill bool    `json:"autofill,omitempty"`
}

// TreeStep describes a step and the grants and transitions defined at it.
type TreeStep struct {
	ID    int64          `json:"id,omitempty"`
	Name  string         `json:"name"`
	Slots []TreeStepSlot `json:"slots,omitempty"`
	Links []TreeLink     `json:"links,omitempty"`
}

// TreeStepSlot grants one permission to one slot at the enclosing step.
type TreeStepSlot struct {
	Slot       int            `json:"slot"`
	Permission SlotPermission `json:"permission"`
}

// TreeLink is a named transition from the enclosing step, usable by one slot.
type TreeLink struct {
	Name string `json:"name"`
	To   int    `json:"to"`
	Slot int    `json:"slot"`
}
