package broker

import "errors"

// Core error kinds. Surfaced verbatim as the error string in a wire
// response frame by the transport layer.
var (
	ErrInvalidObjectName  = errors.New("invalid object name")
	ErrObjectNotFound     = errors.New("object not found")
	ErrCantMergeObjects   = errors.New("object values not mergeable")
	ErrQueryNotFound      = errors.New("query not found")
	ErrClientNotFound     = errors.New("client not found")
	ErrNotInvocable       = errors.New("not invocable")
	ErrInvocationNotFound = errors.New("invocation not found")
	ErrStreamNotFound     = errors.New("stream not found")
	ErrStreamAlreadyOpen  = errors.New("stream already open")
	ErrStreamNotOpen      = errors.New("stream not open")
	ErrInvalidPattern     = errors.New("invalid pattern")
)
