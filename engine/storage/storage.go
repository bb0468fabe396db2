// Package storage defines types and primitives for editing process storage backends.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/oerhub/editproc/process"
)

var (
	// ErrNotFound is returned when a process, version, step, slot,
	// draft, or assignment does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInUse is returned when deleting a process or version that a
	// draft referenced at some point, past or present.
	ErrInUse = errors.New("process in use")

	// ErrDuplicateName is returned when creating a process whose name
	// is already taken.
	ErrDuplicateName = errors.New("process name already exists")

	// ErrDraftExists is returned when creating a draft for a module
	// that already has one.
	ErrDraftExists = errors.New("draft already exists for module")

	// ErrStepChanged is returned by CommitAdvance when the draft is no
	// longer at the expected step. Callers holding the per-draft lock
	// should never see it; without the lock it signals a lost race.
	ErrStepChanged = errors.New("draft step changed")
)

// Process is a named family of editing workflows.
type Process struct {
	ID   int64
	Name string
}

// Version is one immutable revision of a process graph.
// The latest version of a process is the one with the greatest
// CreatedAt; it is always derived from stored rows, never cached.
type Version struct {
	ID        int64
	ProcessID int64
	CreatedAt time.Time
	Start     int64 // step ID of the start step
}

// Slot is a named seat scoped to one version.
// An empty Roles list means any team member may occupy it.
type Slot struct {
	ID        int64
	VersionID int64
	Name      string
	Roles     []int64
	Autofill  bool
}

// Step is one stage of a version's graph.
type Step struct {
	ID        int64
	VersionID int64
	Name      string
}

// Link is a named directed edge between two steps, usable by one slot.
type Link struct {
	FromStepID int64
	ToStepID   int64
	Name       string
	SlotID     int64
}

// StepSlot is a slot participating in a step together with the union of
// permissions granted to it there.
type StepSlot struct {
	Slot        Slot
	Permissions process.PermissionSet
}

// Draft is a live instance of a module moving through a process version.
// Drafts are keyed by the module UUID they edit; a module has at most
// one draft at a time.
type Draft struct {
	ModuleID  string
	TeamID    int64
	VersionID int64
	StepID    int64
}

// Assignment binds a user to a slot within one draft.
// A slot holds at most one user per draft.
type Assignment struct {
	SlotID int64
	UserID int64
}

// DefinitionStore persists immutable versioned process graphs.
type DefinitionStore interface {
	// CreateProcess validates tree and persists a new process together
	// with its first version. Fails with ErrDuplicateName if the tree's
	// name is taken and *process.StructureError on validation failure,
	// leaving no partial state in either case.
	CreateProcess(ctx context.Context, tree *process.Tree) (*Version, error)

	// CreateVersion validates tree and atomically persists a new
	// version of an existing process. A tree name differing from the
	// process's current name renames the process.
	CreateVersion(ctx context.Context, processID int64, tree *process.Tree) (*Version, error)

	// RetrieveProcesses lists all processes ordered by ID.
	RetrieveProcesses(ctx context.Context) ([]Process, error)

	RetrieveProcess(ctx context.Context, id int64) (*Process, error)

	// RenameProcess changes a process's (unique) name.
	RenameProcess(ctx context.Context, id int64, name string) error

	// RetrieveVersions lists a process's versions, newest first.
	RetrieveVersions(ctx context.Context, processID int64) ([]Version, error)

	RetrieveVersion(ctx context.Context, processID, versionID int64) (*Version, error)

	// RetrieveVersionByID fetches a version without knowing its process.
	RetrieveVersionByID(ctx context.Context, versionID int64) (*Version, error)

	// LatestVersion returns the version of processID with the greatest
	// creation time. It must derive the answer from stored data on
	// every call so concurrent version creation is never shadowed by a
	// stale cache.
	LatestVersion(ctx context.Context, processID int64) (*Version, error)

	// RetrieveStructure reads a version back as a tree with assigned
	// IDs filled in. Indices in the returned tree reference positions
	// in its own slices, reproducing the topology the version was
	// created with.
	RetrieveStructure(ctx context.Context, versionID int64) (*process.Tree, error)

	// DeleteProcess removes a process and all its versions. Fails with
	// ErrInUse if any draft, past or present, referenced any of them.
	DeleteProcess(ctx context.Context, id int64) error

	// DeleteVersion removes one version. Fails with ErrInUse if any
	// draft, past or present, referenced it.
	DeleteVersion(ctx context.Context, versionID int64) error
}

// StructureStore is the read side of version graphs used during draft
// operations.
type StructureStore interface {
	RetrieveStep(ctx context.Context, stepID int64) (*Step, error)

	RetrieveSlot(ctx context.Context, slotID int64) (*Slot, error)

	// RetrieveStepSlots returns the slots active at a step (those with
	// at least one permission grant there) with their permission sets,
	// ordered by slot ID.
	RetrieveStepSlots(ctx context.Context, stepID int64) ([]StepSlot, error)

	// RetrieveLinks returns the links originating at a step, ordered by
	// (slot ID, target step ID). An empty result marks a final step.
	RetrieveLinks(ctx context.Context, stepID int64) ([]Link, error)

	// RetrieveLink fetches the single link matching (from, to, slot),
	// or ErrNotFound.
	RetrieveLink(ctx context.Context, fromStepID, toStepID, slotID int64) (*Link, error)
}

// DraftStore persists drafts and their slot assignments.
type DraftStore interface {
	// CreateDraft atomically persists a draft with its initial
	// assignments and records that the draft's version has been
	// instantiated (the mark consulted by deletion guards; it is never
	// cleared). Fails with ErrDraftExists if the module already has a
	// draft.
	CreateDraft(ctx context.Context, d *Draft, assignments []Assignment) error

	RetrieveDraft(ctx context.Context, moduleID string) (*Draft, error)

	// RetrieveDrafts lists all drafts, ordered by module ID.
	RetrieveDrafts(ctx context.Context) ([]Draft, error)

	// RetrieveDraftsForUser lists drafts in which the user holds at
	// least one slot, ordered by module ID.
	RetrieveDraftsForUser(ctx context.Context, userID int64) ([]Draft, error)

	// RetrieveAssignments returns a draft's assignments ordered by slot ID.
	RetrieveAssignments(ctx context.Context, moduleID string) ([]Assignment, error)

	// PutAssignment sets the occupant of a slot in a draft, replacing
	// any previous occupant. It reports the replaced user, if any.
	PutAssignment(ctx context.Context, moduleID string, slotID, userID int64) (prev int64, replaced bool, err error)

	// DeleteAssignment vacates a slot in a draft. It reports the
	// removed user; removed is false if the slot was empty.
	DeleteAssignment(ctx context.Context, moduleID string, slotID int64) (prev int64, removed bool, err error)

	// CommitAdvance atomically moves a draft from fromStepID to
	// toStepID and applies the given autofill assignments. The step
	// change and the fills are observed together or not at all. Fails
	// with ErrStepChanged if the draft is not at fromStepID.
	CommitAdvance(ctx context.Context, moduleID string, fromStepID, toStepID int64, fills []Assignment) error

	// DeleteDraft removes a draft and all its assignments.
	DeleteDraft(ctx context.Context, moduleID string) error
}

// AllStorage is the full set of interfaces backends implement.
type AllStorage interface {
	DefinitionStore
	StructureStore
	DraftStore
}
