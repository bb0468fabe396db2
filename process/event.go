package process

import "fmt"

// EventKind is a bitmask of draft event types.
type EventKind uint

// Storage backends and subscriptions may use these numeric values.
// Treat these as append-only: order and position matter.
const (
	// user was assigned to a module. kept for older clients; slot-filled
	// carries the same information and more.
	EventAssigned EventKind = 1 << iota
	EventProcessEnded
	EventProcessCancelled
	EventSlotFilled
	EventSlotVacated
	EventDraftAdvanced
	maxEventKind
)

func (e EventKind) Valid() bool {
	return e > 0 && e < maxEventKind && e&(e-1) == 0
}

func (e EventKind) String() string {
	switch e {
	case EventAssigned:
		return "assigned"
	case EventProcessEnded:
		return "process-ended"
	case EventProcessCancelled:
		return "process-cancelled"
	case EventSlotFilled:
		return "slot-filled"
	case EventSlotVacated:
		return "slot-vacated"
	case EventDraftAdvanced:
		return "draft-advanced"
	default:
		return fmt.Sprintf("unknown event type: %d", uint(e))
	}
}

func EventKindForString(s string) EventKind {
	switch s {
	case "assigned":
		return EventAssigned
	case "process-ended":
		return EventProcessEnded
	case "process-cancelled":
		return EventProcessCancelled
	case "slot-filled":
		return EventSlotFilled
	case "slot-vacated":
		return EventSlotVacated
	case "draft-advanced":
		return EventDraftAdvanced
	default:
		return 0
	}
}

// Event is a single draft or assignment event for delivery to users.
type Event struct {
	Kind EventKind
	// Data is one of the payload structs below matching Kind.
	Data interface{}
}

// AssignedData notifies a user they were assigned to a module.
type AssignedData struct {
	Who    int64  `json:"who"`
	Module string `json:"module"`
}

// ProcessEndedData notifies that a draft reached a final step and was
// merged into its module.
type ProcessEndedData struct {
	Module string `json:"module"`
}

// ProcessCancelledData notifies that a draft was discarded.
type ProcessCancelledData struct {
	Module string `json:"module"`
}

// SlotFilledData notifies a user they now occupy a slot in a draft.
type SlotFilledData struct {
	Slot   int64  `json:"slot"`
	Module string `json:"module"`
}

// SlotVacatedData notifies a user they no longer occupy a slot in a draft.
type SlotVacatedData struct {
	Slot   int64  `json:"slot"`
	Module string `json:"module"`
}

// DraftAdvancedData notifies an occupant that a draft moved to a new
// step. Permissions are the recipient's own grants at that step.
type DraftAdvancedData struct {
	Module      string           `json:"module"`
	Step        int64            `json:"step"`
	Permissions []SlotPermission `json:"permissions"`
}
