// Package logkeys defines some static logging keys for consistent structured logging output.
// Mostly exists as a mental aid when drafting log messages.
package logkeys

const (
	Message = "msg"
	Error   = "err"

	// a module UUID. drafts are keyed by the module they edit.
	ModuleID = "module_id"

	ProcessID   = "process_id"
	ProcessName = "process_name"
	VersionID   = "version_id"
	StepID      = "step_id"
	SlotID      = "slot_id"
	UserID      = "user_id"
	TeamID      = "team_id"

	// a context-dependent numerical count/length of something
	GenericCount = "count"
)
