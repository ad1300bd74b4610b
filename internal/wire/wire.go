// Package wire implements the JSON request/response/event envelope every
// transport speaks: a request carries an arbitrary "id" the broker never
// inspects and echoes back as "requestId"; a push event carries no id at
// all. Over TCP each JSON document travels in a length-prefixed frame
// (see tcpframe.go), not as a newline-delimited line.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/objtalk/objtalkd/internal/broker"
)

// Request is the decoded form of one incoming frame.
type Request struct {
	ID   interface{}     `json:"id"`
	Type string          `json:"type"`
	raw  json.RawMessage
}

// UnmarshalJSON captures both the typed envelope fields and the raw bytes,
// so request-specific fields can be decoded once Type is known.
func (r *Request) UnmarshalJSON(data []byte) error {
	type envelope struct {
		ID   interface{} `json:"id"`
		Type string      `json:"type"`
	}
	var e envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return err
	}
	r.ID = e.ID
	r.Type = e.Type
	r.raw = append(json.RawMessage(nil), data...)
	return nil
}

// Response frame: result and error are mutually exclusive; the zero value
// of each is omitted.
type Response struct {
	RequestID interface{} `json:"requestId"`
	Result    interface{} `json:"result,omitempty"`
	Error     string      `json:"error,omitempty"`
}

func Success(requestID interface{}) Response {
	return Response{RequestID: requestID, Result: map[string]interface{}{"success": true}}
}

func Failure(requestID interface{}, err error) Response {
	return Response{RequestID: requestID, Error: err.Error()}
}

// ObjectWire is the wire form of a broker.Object: lastModified is
// rendered as RFC3339 UTC via time.Time's default JSON marshaling (the
// stored timestamp is always already UTC).
type ObjectWire struct {
	Name         string      `json:"name"`
	Value        interface{} `json:"value"`
	LastModified interface{} `json:"lastModified"`
}

func objectsToWire(objects []broker.Object) []ObjectWire {
	out := make([]ObjectWire, len(objects))
	for i, o := range objects {
		out[i] = ObjectWire{Name: o.Name, Value: o.Value, LastModified: o.LastModified}
	}
	return out
}

// Event is a push frame: no request id, tagged by Type.
type Event struct {
	Type         string      `json:"type"`
	QueryID      uuid.UUID   `json:"queryId,omitzero"`
	Object       interface{} `json:"object,omitempty"`
	Event        string      `json:"event,omitempty"`
	Data         interface{} `json:"data,omitempty"`
	InvocationID uuid.UUID   `json:"invocationId,omitzero"`
	Method       string      `json:"method,omitempty"`
	Args         interface{} `json:"args,omitempty"`
	RequestID    interface{} `json:"requestId,omitempty"`
	Result       interface{} `json:"result,omitempty"`
	Error        string      `json:"error,omitempty"`
	Index        uint32      `json:"index,omitempty"`
}

// EncodeEvent renders a broker.Message as its wire Event, or, for
// StreamData, as a raw binary frame (uint32 LE local index || payload)
// instead of JSON — the transport is responsible for telling those two
// return shapes apart (binary is non-nil only for stream data).
func EncodeEvent(msg broker.Message) (event *Event, binary []byte) {
	switch m := msg.(type) {
	case broker.QueryAdd:
		return &Event{Type: "queryAdd", QueryID: m.QueryID, Object: objectsToWire([]broker.Object{m.Object})[0]}, nil
	case broker.QueryChange:
		return &Event{Type: "queryChange", QueryID: m.QueryID, Object: objectsToWire([]broker.Object{m.Object})[0]}, nil
	case broker.QueryRemove:
		return &Event{Type: "queryRemove", QueryID: m.QueryID, Object: objectsToWire([]broker.Object{m.Object})[0]}, nil
	case broker.QueryEvent:
		return &Event{Type: "queryEvent", QueryID: m.QueryID, Object: m.Object, Event: m.Event, Data: m.Data}, nil
	case broker.QueryInvocation:
		return &Event{Type: "queryInvocation", QueryID: m.QueryID, InvocationID: m.InvocationID, Object: m.Object, Method: m.Method, Args: m.Args}, nil
	case broker.InvocationResult:
		ev := &Event{Type: "invocationResult", RequestID: m.RequestID}
		if m.Err != nil {
			ev.Error = m.Err.Error()
		} else {
			ev.Result = m.Result
		}
		return ev, nil
	case broker.StreamOpen:
		return &Event{Type: "streamOpen", Index: m.Index}, nil
	case broker.StreamClosed:
		return &Event{Type: "streamClosed", Index: m.Index}, nil
	case broker.StreamData:
		frame := make([]byte, 4+len(m.Payload))
		frame[0] = byte(m.Index)
		frame[1] = byte(m.Index >> 8)
		frame[2] = byte(m.Index >> 16)
		frame[3] = byte(m.Index >> 24)
		copy(frame[4:], m.Payload)
		return nil, frame
	default:
		return nil, nil
	}
}

// DecodeStreamFrame splits a raw stream frame into its local index and
// payload. The inverse of the encoding EncodeEvent produces for
// StreamData.
func DecodeStreamFrame(frame []byte) (index uint32, payload []byte, err error) {
	if len(frame) < 4 {
		return 0, nil, ErrInvalidMessage
	}
	index = uint32(frame[0]) | uint32(frame[1])<<8 | uint32(frame[2])<<16 | uint32(frame[3])<<24
	return index, frame[4:], nil
}

// ErrInvalidMessage marks a malformed incoming frame. The transport
// should report it as the literal error string "invalid message" and
// keep the connection open, per the propagation policy.
var ErrInvalidMessage = fmt.Errorf("invalid message")

// ErrRateLimited marks a request frame dropped by a connection's inbound
// rate limiter. It never applies to fan-out messages, only requests.
var ErrRateLimited = fmt.Errorf("rate limited")
