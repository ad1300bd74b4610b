package broker

import "github.com/google/uuid"

// Message is anything a broker operation can push into a client's inbox.
// The inbox is unbounded and single-consumer per client; a transport reads
// it and renders each variant onto the wire shape described by the
// external interface (see internal/wire).
type Message interface {
	isMessage()
}

type QueryAdd struct {
	QueryID uuid.UUID
	Object  Object
}

type QueryChange struct {
	QueryID uuid.UUID
	Object  Object
}

type QueryRemove struct {
	QueryID uuid.UUID
	Object  Object
}

type QueryEvent struct {
	QueryID uuid.UUID
	Object  string
	Event   string
	Data    interface{}
}

type QueryInvocation struct {
	QueryID      uuid.UUID
	InvocationID uuid.UUID
	Object       string
	Method       string
	Args         interface{}
}

// InvocationResult completes an outstanding invoke. Err is nil on success;
// when non-nil it is always ErrNotInvocable per the spec's failure
// completion policy.
type InvocationResult struct {
	RequestID interface{}
	Result    interface{}
	Err       error
}

type StreamOpen struct {
	Index uint32
}

type StreamClosed struct {
	Index uint32
}

type StreamData struct {
	Index   uint32
	Payload []byte
}

func (QueryAdd) isMessage()         {}
func (QueryChange) isMessage()      {}
func (QueryRemove) isMessage()      {}
func (QueryEvent) isMessage()       {}
func (QueryInvocation) isMessage()  {}
func (InvocationResult) isMessage() {}
func (StreamOpen) isMessage()       {}
func (StreamClosed) isMessage()     {}
func (StreamData) isMessage()       {}
