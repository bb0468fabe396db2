// Package engine implements the editing process engine.
//
// The engine orchestrates drafts: it binds modules to process versions,
// resolves slot assignments and permissions, and advances drafts along
// the links of their version's step graph until a terminal step merges
// the draft back into its module.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/oerhub/editproc/engine/storage"
	"github.com/oerhub/editproc/logkeys"
	"github.com/oerhub/editproc/process"

	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

var (
	// ErrBadUser is returned when the acting user does not hold the
	// slot used for an operation.
	ErrBadUser = errors.New("user does not hold slot")

	// ErrBadLink is returned when no transition matches the requested
	// (current step, target step, slot).
	ErrBadLink = errors.New("no such transition")

	// ErrBadRole is returned when a user does not satisfy a slot's
	// role constraint.
	ErrBadRole = errors.New("user does not satisfy role constraint")

	// ErrBadSlot is returned when a slot does not belong to the
	// draft's process version.
	ErrBadSlot = errors.New("slot not in draft's process version")

	// ErrSlotOccupied is returned by TakeSlot when the slot already
	// has an occupant.
	ErrSlotOccupied = errors.New("slot already occupied")
)

// MergeError wraps a document store failure during draft conclusion.
// The draft is left unchanged; callers may retry the advancement.
type MergeError struct {
	Err error
}

func (e *MergeError) Error() string {
	return "merging draft: " + e.Err.Error()
}

func (e *MergeError) Unwrap() error {
	return e.Err
}

// DocumentStore merges a concluded draft's content into its module.
type DocumentStore interface {
	// MergeDraftIntoModule folds the draft's changes back into the
	// canonical module. Must be all-or-nothing.
	MergeDraftIntoModule(ctx context.Context, moduleID string) error
}

// UserDirectory resolves team membership and roles.
type UserDirectory interface {
	RolesOf(ctx context.Context, user, team int64) ([]int64, error)
	MembersOf(ctx context.Context, team int64) ([]int64, error)
}

// EventSink delivers process events to users.
type EventSink interface {
	Emit(ctx context.Context, ev process.Event, recipients []int64) error
}

// nopEventSink discards all events.
type nopEventSink struct{}

func (nopEventSink) Emit(_ context.Context, _ process.Event, _ []int64) error { return nil }

// Engine coordinates drafts with process definitions.
type Engine struct {
	store  storage.AllStorage
	docs   DocumentStore
	users  UserDirectory
	events EventSink
	logger log.Logger

	// per-draft locks serialize state-changing draft operations;
	// operations on different drafts proceed independently
	draftsMu sync.Mutex
	drafts   map[string]*sync.Mutex
}

// Option configures the engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger log.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithEventSink turns on event delivery through sink.
func WithEventSink(sink EventSink) Option {
	return func(e *Engine) {
		e.events = sink
	}
}

// New creates a new editing process engine.
func New(store storage.AllStorage, docs DocumentStore, users UserDirectory, opts ...Option) *Engine {
	engine := &Engine{
		store:  store,
		docs:   docs,
		users:  users,
		events: nopEventSink{},
		logger: log.NopLogger,
		drafts: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// lockDraft acquires the lock serializing operations on moduleID's
// draft and returns its release function.
func (e *Engine) lockDraft(moduleID string) func() {
	e.draftsMu.Lock()
	mu, ok := e.drafts[moduleID]
	if !ok {
		mu = new(sync.Mutex)
		e.drafts[moduleID] = mu
	}
	e.draftsMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// emit delivers ev to recipients. Delivery failures are logged, not
// surfaced: events fire after the owning state change has committed.
func (e *Engine) emit(ctx context.Context, ev process.Event, recipients []int64) {
	if len(recipients) < 1 {
		return
	}
	if err := e.events.Emit(ctx, ev, recipients); err != nil {
		ctxlog.Logger(ctx, e.logger).Info(
			logkeys.Message, "emitting event",
			"event", ev.Kind,
			logkeys.Error, err,
		)
	}
}

// userHoldsRole reports whether user satisfies slot's role constraint
// within team. An empty constraint admits any team member.
func (e *Engine) userHoldsRole(ctx context.Context, slot *storage.Slot, user, team int64) (bool, error) {
	if len(slot.Roles) < 1 {
		return true, nil
	}
	roles, err := e.users.RolesOf(ctx, user, team)
	if err != nil {
		return false, fmt.Errorf("resolving roles of user %d: %w", user, err)
	}
	for _, held := range roles {
		for _, wanted := range slot.Roles {
			if held == wanted {
				return true, nil
			}
		}
	}
	return false, nil
}
