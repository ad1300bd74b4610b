package broker

import "github.com/google/uuid"

// Command is a disconnect hook: a request body identical in shape to the
// ordinary set/patch/remove/emit requests, executed by the broker itself
// as if the departing client had issued it. Registered via
// SetDisconnectCommands, run in order during disconnect cleanup; errors
// from running a command are ignored (the client is already gone).
type Command struct {
	Type  CommandType
	Name  string      // set, patch, remove
	Value interface{} // set, patch
	// Emit fields
	Object string
	Event  string
	Data   interface{}
}

type CommandType string

const (
	CommandSet    CommandType = "set"
	CommandPatch  CommandType = "patch"
	CommandRemove CommandType = "remove"
	CommandEmit   CommandType = "emit"
)

// runCommand executes cmd against state as an internal, non-client-facing
// call. Called with the lock already held, on behalf of a client that is
// in the middle of disconnecting, so callerID identifies the departing
// client for logging purposes only.
func (b *Broker) runCommand(cmd Command, callerID uuid.UUID) {
	switch cmd.Type {
	case CommandSet:
		_ = b.setLocked(cmd.Name, cmd.Value, callerID)
	case CommandPatch:
		_ = b.patchLocked(cmd.Name, cmd.Value, callerID)
	case CommandRemove:
		_, _ = b.removeLocked(cmd.Name, callerID)
	case CommandEmit:
		_ = b.emitLocked(cmd.Object, cmd.Event, cmd.Data, callerID)
	}
}
