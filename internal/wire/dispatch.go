package wire

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/objtalk/objtalkd/internal/broker"
	"github.com/objtalk/objtalkd/internal/metrics"
)

// Broker is the subset of *broker.Broker the wire layer calls. Declaring
// it here (rather than depending on the concrete type everywhere) keeps
// this package usable against fakes in transport tests.
type Broker interface {
	Set(name string, value interface{}, clientID uuid.UUID) error
	Patch(name string, value interface{}, clientID uuid.UUID) error
	Get(pattern *broker.Pattern, clientID uuid.UUID) []broker.Object
	Query(pattern *broker.Pattern, provideRPC bool, clientID uuid.UUID) (uuid.UUID, []broker.Object, error)
	Unsubscribe(queryID uuid.UUID, clientID uuid.UUID) error
	Remove(name string, clientID uuid.UUID) (bool, error)
	Emit(object, event string, data interface{}, clientID uuid.UUID) error
	Invoke(object, method string, args interface{}, callerRequestID interface{}, callerID uuid.UUID) error
	InvokeResult(invocationID uuid.UUID, result interface{}, providerID uuid.UUID) error
	SetDisconnectCommands(commands []broker.Command, clientID uuid.UUID) error
	CreateStream(clientID uuid.UUID) (uuid.UUID, uint32, error)
	OpenStream(streamID uuid.UUID, clientID uuid.UUID) (uint32, error)
	CloseStream(index uint32, clientID uuid.UUID) error
}

// Dispatch decodes req.raw according to req.Type, runs the matching
// broker operation on behalf of client, and returns the Response frame to
// write back — or nil for an "invoke" the broker accepted, which gets no
// immediate response (its result arrives later as an invocationResult
// event). An "invoke" the broker rejects gets an error response.
func Dispatch(req *Request, client *broker.Client, b Broker) *Response {
	resp := dispatch(req, client, b)

	outcome := "ok"
	if resp != nil && resp.Error != "" {
		outcome = "error"
	}
	metrics.RequestsTotal.WithLabelValues(req.Type, outcome).Inc()

	return resp
}

func dispatch(req *Request, client *broker.Client, b Broker) *Response {
	switch req.Type {
	case "set":
		var body struct {
			Name  string      `json:"name"`
			Value interface{} `json:"value"`
		}
		if err := json.Unmarshal(req.raw, &body); err != nil {
			return errResp(req.ID, ErrInvalidMessage)
		}
		if err := b.Set(body.Name, body.Value, client.ID); err != nil {
			return errResp(req.ID, err)
		}
		ok := Success(req.ID)
		return &ok

	case "patch":
		var body struct {
			Name  string      `json:"name"`
			Value interface{} `json:"value"`
		}
		if err := json.Unmarshal(req.raw, &body); err != nil {
			return errResp(req.ID, ErrInvalidMessage)
		}
		if err := b.Patch(body.Name, body.Value, client.ID); err != nil {
			return errResp(req.ID, err)
		}
		ok := Success(req.ID)
		return &ok

	case "get":
		var body struct {
			Pattern string `json:"pattern"`
		}
		if err := json.Unmarshal(req.raw, &body); err != nil {
			return errResp(req.ID, ErrInvalidMessage)
		}
		pattern, err := broker.CompilePattern(body.Pattern)
		if err != nil {
			return errResp(req.ID, err)
		}
		objects := b.Get(pattern, client.ID)
		return &Response{RequestID: req.ID, Result: map[string]interface{}{"objects": objectsToWire(objects)}}

	case "query":
		var body struct {
			Pattern    string `json:"pattern"`
			ProvideRPC bool   `json:"provideRpc"`
		}
		if err := json.Unmarshal(req.raw, &body); err != nil {
			return errResp(req.ID, ErrInvalidMessage)
		}
		pattern, err := broker.CompilePattern(body.Pattern)
		if err != nil {
			return errResp(req.ID, err)
		}
		queryID, objects, err := b.Query(pattern, body.ProvideRPC, client.ID)
		if err != nil {
			return errResp(req.ID, err)
		}
		return &Response{RequestID: req.ID, Result: map[string]interface{}{
			"queryId": queryID, "objects": objectsToWire(objects),
		}}

	case "unsubscribe":
		var body struct {
			QueryID uuid.UUID `json:"queryId"`
		}
		if err := json.Unmarshal(req.raw, &body); err != nil {
			return errResp(req.ID, ErrInvalidMessage)
		}
		if err := b.Unsubscribe(body.QueryID, client.ID); err != nil {
			return errResp(req.ID, err)
		}
		ok := Success(req.ID)
		return &ok

	case "remove":
		var body struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(req.raw, &body); err != nil {
			return errResp(req.ID, ErrInvalidMessage)
		}
		existed, err := b.Remove(body.Name, client.ID)
		if err != nil {
			return errResp(req.ID, err)
		}
		return &Response{RequestID: req.ID, Result: map[string]interface{}{"existed": existed}}

	case "emit":
		var body struct {
			Object string      `json:"object"`
			Event  string      `json:"event"`
			Data   interface{} `json:"data"`
		}
		if err := json.Unmarshal(req.raw, &body); err != nil {
			return errResp(req.ID, ErrInvalidMessage)
		}
		if err := b.Emit(body.Object, body.Event, body.Data, client.ID); err != nil {
			return errResp(req.ID, err)
		}
		ok := Success(req.ID)
		return &ok

	case "invoke":
		var body struct {
			Object string      `json:"object"`
			Method string      `json:"method"`
			Args   interface{} `json:"args"`
		}
		if err := json.Unmarshal(req.raw, &body); err != nil {
			return errResp(req.ID, ErrInvalidMessage)
		}
		if err := b.Invoke(body.Object, body.Method, body.Args, req.ID, client.ID); err != nil {
			return errResp(req.ID, err)
		}
		return nil

	case "invokeResult":
		var body struct {
			InvocationID uuid.UUID   `json:"invocationId"`
			Result       interface{} `json:"result"`
		}
		if err := json.Unmarshal(req.raw, &body); err != nil {
			return errResp(req.ID, ErrInvalidMessage)
		}
		if err := b.InvokeResult(body.InvocationID, body.Result, client.ID); err != nil {
			return errResp(req.ID, err)
		}
		ok := Success(req.ID)
		return &ok

	case "setDisconnectCommands":
		var body struct {
			Commands []commandWire `json:"commands"`
		}
		if err := json.Unmarshal(req.raw, &body); err != nil {
			return errResp(req.ID, ErrInvalidMessage)
		}
		commands := make([]broker.Command, len(body.Commands))
		for i, c := range body.Commands {
			commands[i] = c.toCommand()
		}
		if err := b.SetDisconnectCommands(commands, client.ID); err != nil {
			return errResp(req.ID, err)
		}
		ok := Success(req.ID)
		return &ok

	case "createStream":
		token, index, err := b.CreateStream(client.ID)
		if err != nil {
			return errResp(req.ID, err)
		}
		return &Response{RequestID: req.ID, Result: map[string]interface{}{
			"token": token.String(), "index": index,
		}}

	case "openStream":
		var body struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal(req.raw, &body); err != nil {
			return errResp(req.ID, ErrInvalidMessage)
		}
		token, err := uuid.Parse(body.Token)
		if err != nil {
			return errResp(req.ID, broker.ErrStreamNotFound)
		}
		index, err := b.OpenStream(token, client.ID)
		if err != nil {
			return errResp(req.ID, err)
		}
		return &Response{RequestID: req.ID, Result: map[string]interface{}{"index": index}}

	case "closeStream":
		var body struct {
			Index uint32 `json:"index"`
		}
		if err := json.Unmarshal(req.raw, &body); err != nil {
			return errResp(req.ID, ErrInvalidMessage)
		}
		if err := b.CloseStream(body.Index, client.ID); err != nil {
			return errResp(req.ID, err)
		}
		ok := Success(req.ID)
		return &ok

	default:
		return errResp(req.ID, ErrInvalidMessage)
	}
}

func errResp(requestID interface{}, err error) *Response {
	r := Failure(requestID, err)
	return &r
}

// commandWire is the wire shape of a disconnect Command: identical to the
// corresponding request body, restricted to set|patch|remove|emit.
type commandWire struct {
	Type   string      `json:"type"`
	Name   string      `json:"name,omitempty"`
	Value  interface{} `json:"value,omitempty"`
	Object string      `json:"object,omitempty"`
	Event  string      `json:"event,omitempty"`
	Data   interface{} `json:"data,omitempty"`
}

func (c commandWire) toCommand() broker.Command {
	return broker.Command{
		Type:   broker.CommandType(c.Type),
		Name:   c.Name,
		Value:  c.Value,
		Object: c.Object,
		Event:  c.Event,
		Data:   c.Data,
	}
}
