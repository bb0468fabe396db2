package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/oerhub/editproc/engine/storage"
	"github.com/oerhub/editproc/engine/storage/inmem"
	"github.com/oerhub/editproc/process"
)

const roleReviewer int64 = 7

type fakeDocs struct {
	merged []string
	fail   error
}

func (d *fakeDocs) MergeDraftIntoModule(_ context.Context, moduleID string) error {
	if d.fail != nil {
		return d.fail
	}
	d.merged = append(d.merged, moduleID)
	return nil
}

type fakeUsers struct {
	members []int64
	roles   map[int64][]int64
}

func (u *fakeUsers) RolesOf(_ context.Context, user, _ int64) ([]int64, error) {
	return u.roles[user], nil
}

func (u *fakeUsers) MembersOf(_ context.Context, _ int64) ([]int64, error) {
	return u.members, nil
}

type emitted struct {
	ev process.Event
	to []int64
}

type fakeSink struct {
	events []emitted
}

func (s *fakeSink) Emit(_ context.Context, ev process.Event, recipients []int64) error {
	s.events = append(s.events, emitted{ev: ev, to: recipients})
	return nil
}

func (s *fakeSink) ofKind(kind process.EventKind) []emitted {
	var r []emitted
	for _, e := range s.events {
		if e.ev.Kind == kind {
			r = append(r, e)
		}
	}
	return r
}

// editorialTree is the Draft -> Review -> Done scenario: an Author
// slot that edits at Draft and submits, and a role-constrained
// autofilling Reviewer slot deciding at Review.
func editorialTree() *process.Tree {
	return &process.Tree{
		Name:  "Editorial",
		Start: 0,
		Slots: []process.TreeSlot{
			{Name: "Author"},
			{Name: "Reviewer", Roles: []int64{roleReviewer}, Autofill: true},
		},
		Steps: []process.TreeStep{
			{
				Name: "Draft",
				Slots: []process.TreeStepSlot{
					{Slot: 0, Permission: process.PermissionEdit},
				},
				Links: []process.TreeLink{
					{Name: "Submit", To: 1, Slot: 0},
				},
			},
			{
				Name: "Review",
				Slots: []process.TreeStepSlot{
					{Slot: 1, Permission: process.PermissionAcceptChanges},
				},
				Links: []process.TreeLink{
					{Name: "Approve", To: 2, Slot: 1},
				},
			},
			{Name: "Done"},
		},
	}
}

type fixture struct {
	engine *Engine
	store  storage.AllStorage
	docs   *fakeDocs
	users  *fakeUsers
	sink   *fakeSink

	version *storage.Version
	tree    *process.Tree // structure with assigned IDs

	authorSlot   int64
	reviewerSlot int64
	draftStep    int64
	reviewStep   int64
	doneStep     int64
}

func newFixture(t *testing.T, users *fakeUsers) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		store: inmem.New(),
		docs:  &fakeDocs{},
		users: users,
		sink:  &fakeSink{},
	}
	f.engine = New(f.store, f.docs, f.users, WithEventSink(f.sink))

	var err error
	if f.version, err = f.store.CreateProcess(ctx, editorialTree()); err != nil {
		t.Fatal(err)
	}
	if f.tree, err = f.store.RetrieveStructure(ctx, f.version.ID); err != nil {
		t.Fatal(err)
	}
	f.authorSlot = f.tree.Slots[0].ID
	f.reviewerSlot = f.tree.Slots[1].ID
	f.draftStep = f.tree.Steps[0].ID
	f.reviewStep = f.tree.Steps[1].ID
	f.doneStep = f.tree.Steps[2].ID
	return f
}

const module = "1b166de4-dd32-4b49-a1a9-537f0d0d2c70"

func TestAdvanceLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeUsers{
		members: []int64{1, 2},
		roles:   map[int64][]int64{2: {roleReviewer}},
	})
	_, err := f.engine.BeginProcess(ctx, module, 1, f.version.ID,
		[]storage.Assignment{{SlotID: f.authorSlot, UserID: 1}})
	if err != nil {
		t.Fatal(err)
	}

	perms, err := f.engine.Permissions(ctx, module, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !perms.Has(process.PermissionEdit) {
		t.Error("expected the author to edit at the start step")
	}

	result, err := f.engine.Advance(ctx, module, 1, f.authorSlot, f.reviewStep)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := result.Code, AdvanceResultAdvanced; have != want {
		t.Errorf("have %q, want %q", have, want)
	}
	if have, want := result.Draft.StepID, f.reviewStep; have != want {
		t.Errorf("have step %d, want %d", have, want)
	}
	// the author holds no slot granting anything at Review
	if result.Permissions != 0 {
		t.Errorf("have %v, want no permissions", result.Permissions.Slice())
	}
	if len(result.Links) != 0 {
		t.Errorf("have %d usable links for the author, want none", len(result.Links))
	}

	// user 2 is the only reviewer; autofill seated them
	filled := f.sink.ofKind(process.EventSlotFilled)
	foundReviewerFill := false
	for _, e := range filled {
		data := e.ev.Data.(process.SlotFilledData)
		if data.Slot == f.reviewerSlot && len(e.to) == 1 && e.to[0] == 2 {
			foundReviewerFill = true
		}
	}
	if !foundReviewerFill {
		t.Error("expected a slot-filled event to the autofilled reviewer")
	}
	if advanced := f.sink.ofKind(process.EventDraftAdvanced); len(advanced) != 2 {
		t.Errorf("have %d draft-advanced events, want 2", len(advanced))
	}

	perms, err = f.engine.Permissions(ctx, module, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !perms.Has(process.PermissionAcceptChanges) {
		t.Error("expected the reviewer to accept changes at Review")
	}
	// purity: a repeated query yields the identical result
	again, err := f.engine.Permissions(ctx, module, 2)
	if err != nil {
		t.Fatal(err)
	}
	if perms != again {
		t.Errorf("have %v then %v, want identical permission sets", perms, again)
	}

	result, err = f.engine.Advance(ctx, module, 2, f.reviewerSlot, f.doneStep)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := result.Code, AdvanceResultFinished; have != want {
		t.Errorf("have %q, want %q", have, want)
	}
	if have, want := len(f.docs.merged), 1; have != want {
		t.Fatalf("have %d merges, want %d", have, want)
	}
	if _, err = f.store.RetrieveDraft(ctx, module); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("have %v, want ErrNotFound after conclusion", err)
	}

	ended := f.sink.ofKind(process.EventProcessEnded)
	if len(ended) != 1 {
		t.Fatalf("have %d process-ended events, want 1", len(ended))
	}
	if have, want := len(ended[0].to), 2; have != want {
		t.Errorf("have %d recipients, want %d", have, want)
	}
}

func TestAdvanceValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeUsers{members: []int64{1}})
	_, err := f.engine.BeginProcess(ctx, module, 1, f.version.ID,
		[]storage.Assignment{{SlotID: f.authorSlot, UserID: 1}})
	if err != nil {
		t.Fatal(err)
	}

	// user 2 does not hold the Author slot
	_, err = f.engine.Advance(ctx, module, 2, f.authorSlot, f.reviewStep)
	if !errors.Is(err, ErrBadUser) {
		t.Errorf("have %v, want ErrBadUser", err)
	}

	// no Draft -> Done link exists for the Author slot
	_, err = f.engine.Advance(ctx, module, 1, f.authorSlot, f.doneStep)
	if !errors.Is(err, ErrBadLink) {
		t.Errorf("have %v, want ErrBadLink", err)
	}

	// neither failure moved the draft
	d, err := f.store.RetrieveDraft(ctx, module)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := d.StepID, f.draftStep; have != want {
		t.Errorf("have step %d, want %d", have, want)
	}
	assignments, err := f.store.RetrieveAssignments(ctx, module)
	if err != nil {
		t.Fatal(err)
	}
	if len(assignments) != 1 || assignments[0].UserID != 1 {
		t.Errorf("have %v, want the original assignment intact", assignments)
	}
}

func TestMergeFailureLeavesDraftUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeUsers{
		members: []int64{1, 2},
		roles:   map[int64][]int64{2: {roleReviewer}},
	})
	_, err := f.engine.BeginProcess(ctx, module, 1, f.version.ID,
		[]storage.Assignment{{SlotID: f.authorSlot, UserID: 1}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err = f.engine.Advance(ctx, module, 1, f.authorSlot, f.reviewStep); err != nil {
		t.Fatal(err)
	}

	f.docs.fail = errors.New("module store down")
	_, err = f.engine.Advance(ctx, module, 2, f.reviewerSlot, f.doneStep)
	var mergeErr *MergeError
	if !errors.As(err, &mergeErr) {
		t.Fatalf("have %v, want MergeError", err)
	}

	d, err := f.store.RetrieveDraft(ctx, module)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := d.StepID, f.reviewStep; have != want {
		t.Errorf("have step %d, want %d", have, want)
	}

	// the failure is retryable: clearing it lets the advance succeed
	f.docs.fail = nil
	result, err := f.engine.Advance(ctx, module, 2, f.reviewerSlot, f.doneStep)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := result.Code, AdvanceResultFinished; have != want {
		t.Errorf("have %q, want %q", have, want)
	}
}

func TestAutofillTieBreak(t *testing.T) {
	ctx := context.Background()
	// users 5 and 3 both hold the reviewer role; the smallest ID wins
	f := newFixture(t, &fakeUsers{
		members: []int64{5, 1, 3},
		roles:   map[int64][]int64{5: {roleReviewer}, 3: {roleReviewer}},
	})
	_, err := f.engine.BeginProcess(ctx, module, 1, f.version.ID,
		[]storage.Assignment{{SlotID: f.authorSlot, UserID: 1}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err = f.engine.Advance(ctx, module, 1, f.authorSlot, f.reviewStep); err != nil {
		t.Fatal(err)
	}

	assignments, err := f.store.RetrieveAssignments(ctx, module)
	if err != nil {
		t.Fatal(err)
	}
	var reviewer int64
	for _, a := range assignments {
		if a.SlotID == f.reviewerSlot {
			reviewer = a.UserID
		}
	}
	if have, want := reviewer, int64(3); have != want {
		t.Errorf("have user %d autofilled, want %d", have, want)
	}
}

func TestAutofillNonBlocking(t *testing.T) {
	ctx := context.Background()
	// nobody holds the reviewer role
	f := newFixture(t, &fakeUsers{members: []int64{1}})
	_, err := f.engine.BeginProcess(ctx, module, 1, f.version.ID,
		[]storage.Assignment{{SlotID: f.authorSlot, UserID: 1}})
	if err != nil {
		t.Fatal(err)
	}

	result, err := f.engine.Advance(ctx, module, 1, f.authorSlot, f.reviewStep)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := result.Draft.StepID, f.reviewStep; have != want {
		t.Errorf("have step %d, want %d", have, want)
	}
	assignments, err := f.store.RetrieveAssignments(ctx, module)
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range assignments {
		if a.SlotID == f.reviewerSlot {
			t.Errorf("have user %d in the reviewer slot, want it unfilled", a.UserID)
		}
	}
}

func TestAssignment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeUsers{
		members: []int64{1, 2, 3},
		roles:   map[int64][]int64{2: {roleReviewer}, 3: {roleReviewer}},
	})
	_, err := f.engine.BeginProcess(ctx, module, 1, f.version.ID, nil)
	if err != nil {
		t.Fatal(err)
	}

	// role constraint enforced
	err = f.engine.AssignSlot(ctx, module, f.reviewerSlot, 1)
	if !errors.Is(err, ErrBadRole) {
		t.Errorf("have %v, want ErrBadRole", err)
	}

	if err = f.engine.AssignSlot(ctx, module, f.reviewerSlot, 2); err != nil {
		t.Fatal(err)
	}

	// self-assignment never displaces an occupant
	err = f.engine.TakeSlot(ctx, module, f.reviewerSlot, 3)
	if !errors.Is(err, ErrSlotOccupied) {
		t.Errorf("have %v, want ErrSlotOccupied", err)
	}

	// manual assignment does, with a vacate-then-fill event pair
	f.sink.events = nil
	if err = f.engine.AssignSlot(ctx, module, f.reviewerSlot, 3); err != nil {
		t.Fatal(err)
	}
	vacated := f.sink.ofKind(process.EventSlotVacated)
	if len(vacated) != 1 || vacated[0].to[0] != 2 {
		t.Errorf("have %v, want one slot-vacated to user 2", vacated)
	}
	filled := f.sink.ofKind(process.EventSlotFilled)
	if len(filled) != 1 || filled[0].to[0] != 3 {
		t.Errorf("have %v, want one slot-filled to user 3", filled)
	}

	if err = f.engine.UnassignSlot(ctx, module, f.reviewerSlot); err != nil {
		t.Fatal(err)
	}
	assignments, err := f.store.RetrieveAssignments(ctx, module)
	if err != nil {
		t.Fatal(err)
	}
	if len(assignments) != 0 {
		t.Errorf("have %v, want no assignments", assignments)
	}

	// free slots: Author is active and unconstrained; Reviewer is
	// neither active at Draft nor unconstrained
	free, err := f.engine.FreeSlots(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(free) != 1 || free[0].Slot.ID != f.authorSlot {
		t.Errorf("have %v, want just the Author slot free", free)
	}

	if err = f.engine.TakeSlot(ctx, module, f.authorSlot, 1); err != nil {
		t.Fatal(err)
	}
	drafts, err := f.engine.DraftsForUser(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(drafts) != 1 || drafts[0].ModuleID != module {
		t.Errorf("have %v, want the user's single draft", drafts)
	}
}

func TestBeginValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeUsers{members: []int64{1}})

	// a slot from another version is rejected
	other, err := f.store.CreateProcess(ctx, &process.Tree{
		Name:  "Other",
		Slots: []process.TreeSlot{{Name: "Editor"}},
		Steps: []process.TreeStep{{
			Name:  "Only",
			Slots: []process.TreeStepSlot{{Slot: 0, Permission: process.PermissionEdit}},
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	otherTree, err := f.store.RetrieveStructure(ctx, other.ID)
	if err != nil {
		t.Fatal(err)
	}
	_, err = f.engine.BeginProcess(ctx, module, 1, f.version.ID,
		[]storage.Assignment{{SlotID: otherTree.Slots[0].ID, UserID: 1}})
	if !errors.Is(err, ErrBadSlot) {
		t.Errorf("have %v, want ErrBadSlot", err)
	}

	// the role constraint applies to initial assignments too
	_, err = f.engine.BeginProcess(ctx, module, 1, f.version.ID,
		[]storage.Assignment{{SlotID: f.reviewerSlot, UserID: 1}})
	if !errors.Is(err, ErrBadRole) {
		t.Errorf("have %v, want ErrBadRole", err)
	}

	if _, err = f.store.RetrieveDraft(ctx, module); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("have %v, want no draft after failed begins", err)
	}

	if _, err = f.engine.BeginProcess(ctx, module, 1, f.version.ID, nil); err != nil {
		t.Fatal(err)
	}
	_, err = f.engine.BeginProcess(ctx, module, 1, f.version.ID, nil)
	if !errors.Is(err, storage.ErrDraftExists) {
		t.Errorf("have %v, want ErrDraftExists", err)
	}
}

func TestCancelProcess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeUsers{members: []int64{1}})
	_, err := f.engine.BeginProcess(ctx, module, 1, f.version.ID,
		[]storage.Assignment{{SlotID: f.authorSlot, UserID: 1}})
	if err != nil {
		t.Fatal(err)
	}

	if err = f.engine.CancelProcess(ctx, module); err != nil {
		t.Fatal(err)
	}
	if _, err = f.store.RetrieveDraft(ctx, module); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("have %v, want ErrNotFound", err)
	}
	cancelled := f.sink.ofKind(process.EventProcessCancelled)
	if len(cancelled) != 1 || len(cancelled[0].to) != 1 || cancelled[0].to[0] != 1 {
		t.Errorf("have %v, want one process-cancelled to user 1", cancelled)
	}
	if len(f.docs.merged) != 0 {
		t.Error("cancellation must not merge")
	}

	if err = f.engine.CancelProcess(ctx, module); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("have %v, want ErrNotFound", err)
	}
}

func TestSeating(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeUsers{
		members: []int64{1, 2},
		roles:   map[int64][]int64{2: {roleReviewer}},
	})
	_, err := f.engine.BeginProcess(ctx, module, 1, f.version.ID,
		[]storage.Assignment{{SlotID: f.authorSlot, UserID: 1}})
	if err != nil {
		t.Fatal(err)
	}

	seats, err := f.engine.Seating(ctx, module)
	if err != nil {
		t.Fatal(err)
	}
	if len(seats) != 1 {
		t.Fatalf("have %d seats, want 1", len(seats))
	}
	if !seats[0].Occupied || seats[0].UserID != 1 {
		t.Errorf("have %+v, want user 1 seated as Author", seats[0])
	}
	if !seats[0].Permissions.Has(process.PermissionEdit) {
		t.Error("expected the Author seat to carry edit at the start step")
	}

	if _, err = f.engine.Advance(ctx, module, 1, f.authorSlot, f.reviewStep); err != nil {
		t.Fatal(err)
	}
	seats, err = f.engine.Seating(ctx, module)
	if err != nil {
		t.Fatal(err)
	}
	if len(seats) != 1 || seats[0].Slot.ID != f.reviewerSlot {
		t.Fatalf("have %+v, want just the Reviewer seat at Review", seats)
	}
	if !seats[0].Occupied || seats[0].UserID != 2 {
		t.Errorf("have %+v, want the autofilled reviewer seated", seats[0])
	}
}
