package process

import (
	"errors"
	"testing"
)

// twoStep returns a minimal valid tree: Writing -> Review, one slot.
func twoStep() *Tree {
	return &Tree{
		Name:  "review",
		Start: 0,
		Slots: []TreeSlot{
			{Name: "Author"},
			{Name: "Reviewer", Roles: []int64{7}},
		},
		Steps: []TreeStep{
			{
				Name:  "Writing",
				Slots: []TreeStepSlot{{Slot: 0, Permission: PermissionEdit}},
				Links: []TreeLink{{Name: "Submit", To: 1, Slot: 0}},
			},
			{
				Name:  "Review",
				Slots: []TreeStepSlot{{Slot: 1, Permission: PermissionAcceptChanges}},
			},
		},
	}
}

func TestValidateTree(t *testing.T) {
	if err := ValidateTree(twoStep()); err != nil {
		t.Fatalf("valid tree rejected: %v", err)
	}

	for _, test := range []struct {
		name   string
		mutate func(*Tree)
		code   StructureErrorCode
	}{
		{
			"no_steps",
			func(tr *Tree) { tr.Steps = nil },
			StructureBadReference,
		},
		{
			"start_out_of_range",
			func(tr *Tree) { tr.Start = 2 },
			StructureBadReference,
		},
		{
			"grant_bad_slot",
			func(tr *Tree) { tr.Steps[0].Slots[0].Slot = 9 },
			StructureBadReference,
		},
		{
			"grant_bad_permission",
			func(tr *Tree) { tr.Steps[0].Slots[0].Permission = 0 },
			StructureBadReference,
		},
		{
			"link_bad_target",
			func(tr *Tree) { tr.Steps[0].Links[0].To = 5 },
			StructureBadReference,
		},
		{
			"link_bad_slot",
			func(tr *Tree) { tr.Steps[0].Links[0].Slot = -1 },
			StructureBadReference,
		},
		{
			"self_loop",
			func(tr *Tree) { tr.Steps[0].Links[0].To = 0 },
			StructureSelfLoop,
		},
		{
			"duplicate_step_name",
			func(tr *Tree) { tr.Steps[1].Name = "Writing" },
			StructureDuplicateName,
		},
		{
			"duplicate_slot_name",
			func(tr *Tree) { tr.Slots[1].Name = "Author" },
			StructureDuplicateName,
		},
		{
			"duplicate_link_name",
			func(tr *Tree) {
				tr.Steps = append(tr.Steps, TreeStep{Name: "Done"})
				tr.Steps[0].Links = append(tr.Steps[0].Links,
					TreeLink{Name: "Submit", To: 2, Slot: 1})
			},
			StructureDuplicateName,
		},
		{
			"ambiguous_target",
			func(tr *Tree) {
				tr.Steps = append(tr.Steps, TreeStep{
					Name:  "Rework",
					Links: []TreeLink{{Name: "Resubmit", To: 1, Slot: 0}},
				})
				tr.Steps[0].Links = append(tr.Steps[0].Links,
					TreeLink{Name: "Park", To: 2, Slot: 0})
			},
			StructureAmbiguousTarget,
		},
		{
			"unreachable_step",
			func(tr *Tree) { tr.Steps = append(tr.Steps, TreeStep{Name: "Island"}) },
			StructureUnreachableStep,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			tree := twoStep()
			test.mutate(tree)
			err := ValidateTree(tree)
			if err == nil {
				t.Fatal("expected validation error")
			}
			var serr *StructureError
			if !errors.As(err, &serr) {
				t.Fatalf("expected *StructureError, got %T", err)
			}
			if have, want := serr.Code, test.code; have != want {
				t.Errorf("unexpected code: have: %v, want: %v", have, want)
			}
		})
	}
}

func TestValidateTreeCycleReachability(t *testing.T) {
	// a cycle back to start must not confuse the reachability walk
	tree := twoStep()
	tree.Steps[1].Links = []TreeLink{{Name: "Reject", To: 0, Slot: 1}}
	if err := ValidateTree(tree); err != nil {
		t.Fatalf("cyclic tree rejected: %v", err)
	}
}
