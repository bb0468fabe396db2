// Package test offers a battery of tests for storage.AllStorage implementations.
package test

import (
	"context"
	"errors"
	"testing"

	"github.com/oerhub/editproc/engine/storage"
	"github.com/oerhub/editproc/process"
)

// reviewTree builds a two-step tree: Writing (start) with an Author
// slot that can edit, linked to Review where a Reviewer decides.
func reviewTree(name string) *process.Tree {
	return &process.Tree{
		Name:  name,
		Start: 0,
		Slots: []process.TreeSlot{
			{Name: "Author", Autofill: true},
			{Name: "Reviewer", Roles: []int64{7}},
		},
		Steps: []process.TreeStep{
			{
				Name: "Writing",
				Slots: []process.TreeStepSlot{
					{Slot: 0, Permission: process.PermissionView},
					{Slot: 0, Permission: process.PermissionEdit},
				},
				Links: []process.TreeLink{
					{Name: "Submit", To: 1, Slot: 0},
				},
			},
			{
				Name: "Review",
				Slots: []process.TreeStepSlot{
					{Slot: 1, Permission: process.PermissionView},
					{Slot: 1, Permission: process.PermissionAcceptChanges},
				},
			},
		},
	}
}

// TestProcessStorage runs the storage test battery against s.
func TestProcessStorage(t *testing.T, newStorage func() storage.AllStorage) {
	s := newStorage()

	t.Run("definitions", func(t *testing.T) {
		testDefinitions(t, s)
	})

	t.Run("structure", func(t *testing.T) {
		testStructure(t, s)
	})

	t.Run("drafts", func(t *testing.T) {
		testDrafts(t, s)
	})

	t.Run("advance-commit", func(t *testing.T) {
		testAdvanceCommit(t, newStorage())
	})
}

func testDefinitions(t *testing.T, s storage.AllStorage) {
	ctx := context.Background()

	v1, err := s.CreateProcess(ctx, reviewTree("Peer review"))
	if err != nil {
		t.Fatal(err)
	}
	if v1.ID == 0 || v1.ProcessID == 0 {
		t.Error("expected non-zero IDs")
	}

	if _, err = s.CreateProcess(ctx, reviewTree("Peer review")); !errors.Is(err, storage.ErrDuplicateName) {
		t.Errorf("have %v, want ErrDuplicateName", err)
	}

	// invalid tree: start out of range
	bad := reviewTree("Broken")
	bad.Start = 9
	var structErr *process.StructureError
	if _, err = s.CreateProcess(ctx, bad); !errors.As(err, &structErr) {
		t.Errorf("have %v, want StructureError", err)
	}
	if _, err = s.RetrieveProcesses(ctx); err != nil {
		t.Fatal(err)
	}

	p, err := s.RetrieveProcess(ctx, v1.ProcessID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := p.Name, "Peer review"; have != want {
		t.Errorf("have %q, want %q", have, want)
	}

	v2, err := s.CreateVersion(ctx, v1.ProcessID, reviewTree("Peer review"))
	if err != nil {
		t.Fatal(err)
	}
	if v2.ID == v1.ID {
		t.Error("expected a fresh version ID")
	}

	versions, err := s.RetrieveVersions(ctx, v1.ProcessID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(versions), 2; have != want {
		t.Fatalf("have %d versions, want %d", have, want)
	}
	if versions[0].ID != v2.ID {
		t.Error("expected newest version first")
	}

	latest, err := s.LatestVersion(ctx, v1.ProcessID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := latest.ID, v2.ID; have != want {
		t.Errorf("have %d, want %d", have, want)
	}

	if _, err = s.RetrieveVersion(ctx, v1.ProcessID, v1.ID); err != nil {
		t.Fatal(err)
	}
	if _, err = s.RetrieveVersion(ctx, v1.ProcessID+999, v1.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("have %v, want ErrNotFound", err)
	}

	// a version whose tree carries a new name renames the process
	if _, err = s.CreateVersion(ctx, v1.ProcessID, reviewTree("Fast review")); err != nil {
		t.Fatal(err)
	}
	p, err = s.RetrieveProcess(ctx, v1.ProcessID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := p.Name, "Fast review"; have != want {
		t.Errorf("have %q, want %q", have, want)
	}

	if err = s.RenameProcess(ctx, v1.ProcessID, "Careful review"); err != nil {
		t.Fatal(err)
	}
	other, err := s.CreateProcess(ctx, reviewTree("Translation"))
	if err != nil {
		t.Fatal(err)
	}
	if err = s.RenameProcess(ctx, other.ProcessID, "Careful review"); !errors.Is(err, storage.ErrDuplicateName) {
		t.Errorf("have %v, want ErrDuplicateName", err)
	}

	// unused versions and processes delete cleanly
	if err = s.DeleteVersion(ctx, v2.ID); err != nil {
		t.Fatal(err)
	}
	if _, err = s.RetrieveVersionByID(ctx, v2.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("have %v, want ErrNotFound", err)
	}
	if err = s.DeleteProcess(ctx, other.ProcessID); err != nil {
		t.Fatal(err)
	}
	if _, err = s.RetrieveProcess(ctx, other.ProcessID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("have %v, want ErrNotFound", err)
	}
}

func testStructure(t *testing.T, s storage.AllStorage) {
	ctx := context.Background()

	v, err := s.CreateProcess(ctx, reviewTree("Structure probe"))
	if err != nil {
		t.Fatal(err)
	}

	tree, err := s.RetrieveStructure(ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := tree.Name, "Structure probe"; have != want {
		t.Errorf("have %q, want %q", have, want)
	}
	if have, want := len(tree.Slots), 2; have != want {
		t.Fatalf("have %d slots, want %d", have, want)
	}
	if have, want := len(tree.Steps), 2; have != want {
		t.Fatalf("have %d steps, want %d", have, want)
	}
	if tree.Start != 0 {
		t.Errorf("have start %d, want 0", tree.Start)
	}
	if tree.Slots[0].ID == 0 || tree.Steps[0].ID == 0 {
		t.Error("expected assigned IDs in structure")
	}
	if have, want := len(tree.Steps[0].Links), 1; have != want {
		t.Fatalf("have %d links, want %d", have, want)
	}
	if have, want := tree.Steps[0].Links[0].To, 1; have != want {
		t.Errorf("have link target %d, want %d", have, want)
	}

	start, err := s.RetrieveStep(ctx, v.Start)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := start.Name, "Writing"; have != want {
		t.Errorf("have %q, want %q", have, want)
	}

	stepSlots, err := s.RetrieveStepSlots(ctx, v.Start)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(stepSlots), 1; have != want {
		t.Fatalf("have %d step slots, want %d", have, want)
	}
	// the two grants for the Author slot fold into one set
	perms := stepSlots[0].Permissions
	if !perms.Has(process.PermissionView) || !perms.Has(process.PermissionEdit) {
		t.Errorf("have %v, want view and edit", perms.Slice())
	}
	if perms.Has(process.PermissionAcceptChanges) {
		t.Error("did not expect accept-changes at the start step")
	}

	authorID := stepSlots[0].Slot.ID
	slot, err := s.RetrieveSlot(ctx, authorID)
	if err != nil {
		t.Fatal(err)
	}
	if !slot.Autofill {
		t.Error("expected the Author slot to autofill")
	}

	links, err := s.RetrieveLinks(ctx, v.Start)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(links), 1; have != want {
		t.Fatalf("have %d links, want %d", have, want)
	}
	reviewID := links[0].ToStepID

	if _, err = s.RetrieveLink(ctx, v.Start, reviewID, authorID); err != nil {
		t.Fatal(err)
	}
	if _, err = s.RetrieveLink(ctx, reviewID, v.Start, authorID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("have %v, want ErrNotFound", err)
	}

	// the final step has no outgoing links
	final, err := s.RetrieveLinks(ctx, reviewID)
	if err != nil {
		t.Fatal(err)
	}
	if len(final) != 0 {
		t.Errorf("have %d links at the final step, want none", len(final))
	}
}

func testDrafts(t *testing.T, s storage.AllStorage) {
	ctx := context.Background()

	v, err := s.CreateProcess(ctx, reviewTree("Draft probe"))
	if err != nil {
		t.Fatal(err)
	}
	slots, err := s.RetrieveStepSlots(ctx, v.Start)
	if err != nil {
		t.Fatal(err)
	}
	authorID := slots[0].Slot.ID

	const module = "a6f2e0aa-0001-4a7e-9c7e-000000000001"
	d := &storage.Draft{ModuleID: module, TeamID: 3, VersionID: v.ID, StepID: v.Start}
	err = s.CreateDraft(ctx, d, []storage.Assignment{{SlotID: authorID, UserID: 11}})
	if err != nil {
		t.Fatal(err)
	}
	if err = s.CreateDraft(ctx, d, nil); !errors.Is(err, storage.ErrDraftExists) {
		t.Errorf("have %v, want ErrDraftExists", err)
	}

	// the version is now in use; deletion guards engage
	if err = s.DeleteVersion(ctx, v.ID); !errors.Is(err, storage.ErrInUse) {
		t.Errorf("have %v, want ErrInUse", err)
	}
	if err = s.DeleteProcess(ctx, v.ProcessID); !errors.Is(err, storage.ErrInUse) {
		t.Errorf("have %v, want ErrInUse", err)
	}

	got, err := s.RetrieveDraft(ctx, module)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := got.StepID, v.Start; have != want {
		t.Errorf("have step %d, want %d", have, want)
	}
	if _, err = s.RetrieveDraft(ctx, "ffffffff-dead-4bad-8888-000000000000"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("have %v, want ErrNotFound", err)
	}

	assignments, err := s.RetrieveAssignments(ctx, module)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(assignments), 1; have != want {
		t.Fatalf("have %d assignments, want %d", have, want)
	}
	if have, want := assignments[0].UserID, int64(11); have != want {
		t.Errorf("have user %d, want %d", have, want)
	}

	prev, replaced, err := s.PutAssignment(ctx, module, authorID, 12)
	if err != nil {
		t.Fatal(err)
	}
	if !replaced || prev != 11 {
		t.Errorf("have (%d, %t), want (11, true)", prev, replaced)
	}

	forUser, err := s.RetrieveDraftsForUser(ctx, 12)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(forUser), 1; have != want {
		t.Fatalf("have %d drafts, want %d", have, want)
	}
	forUser, err = s.RetrieveDraftsForUser(ctx, 11)
	if err != nil {
		t.Fatal(err)
	}
	if len(forUser) != 0 {
		t.Errorf("have %d drafts for the replaced user, want none", len(forUser))
	}

	prev, removed, err := s.DeleteAssignment(ctx, module, authorID)
	if err != nil {
		t.Fatal(err)
	}
	if !removed || prev != 12 {
		t.Errorf("have (%d, %t), want (12, true)", prev, removed)
	}
	if _, removed, err = s.DeleteAssignment(ctx, module, authorID); err != nil {
		t.Fatal(err)
	} else if removed {
		t.Error("expected an empty slot to report removed=false")
	}

	all, err := s.RetrieveDrafts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(all), 1; have != want {
		t.Fatalf("have %d drafts, want %d", have, want)
	}

	if err = s.DeleteDraft(ctx, module); err != nil {
		t.Fatal(err)
	}
	if _, err = s.RetrieveDraft(ctx, module); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("have %v, want ErrNotFound", err)
	}

	// usage marks persist beyond the draft's life
	if err = s.DeleteVersion(ctx, v.ID); !errors.Is(err, storage.ErrInUse) {
		t.Errorf("have %v, want ErrInUse", err)
	}
}

func testAdvanceCommit(t *testing.T, s storage.AllStorage) {
	ctx := context.Background()

	v, err := s.CreateProcess(ctx, reviewTree("Advance probe"))
	if err != nil {
		t.Fatal(err)
	}
	links, err := s.RetrieveLinks(ctx, v.Start)
	if err != nil {
		t.Fatal(err)
	}
	reviewID := links[0].ToStepID
	stepSlots, err := s.RetrieveStepSlots(ctx, reviewID)
	if err != nil {
		t.Fatal(err)
	}
	reviewerID := stepSlots[0].Slot.ID

	const module = "a6f2e0aa-0002-4a7e-9c7e-000000000002"
	d := &storage.Draft{ModuleID: module, TeamID: 3, VersionID: v.ID, StepID: v.Start}
	if err = s.CreateDraft(ctx, d, nil); err != nil {
		t.Fatal(err)
	}

	fills := []storage.Assignment{{SlotID: reviewerID, UserID: 21}}
	if err = s.CommitAdvance(ctx, module, v.Start, reviewID, fills); err != nil {
		t.Fatal(err)
	}

	got, err := s.RetrieveDraft(ctx, module)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := got.StepID, reviewID; have != want {
		t.Errorf("have step %d, want %d", have, want)
	}
	assignments, err := s.RetrieveAssignments(ctx, module)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(assignments), 1; have != want {
		t.Fatalf("have %d assignments, want %d", have, want)
	}

	// stale from-step loses the race
	err = s.CommitAdvance(ctx, module, v.Start, reviewID, nil)
	if !errors.Is(err, storage.ErrStepChanged) {
		t.Errorf("have %v, want ErrStepChanged", err)
	}
}
