package broker

import "github.com/google/uuid"

// LogRecord is a structured record of one state-changing operation. It is
// handed to the configured Logger and, simultaneously, emitted as an
// event on "$system" (see Broker.log) — the only path by which
// "$system" receives events.
type LogRecord struct {
	Type string `json:"type"`

	Client uuid.UUID `json:"client"`

	Object     string      `json:"object,omitempty"`
	Value      interface{} `json:"value,omitempty"`
	Pattern    string      `json:"pattern,omitempty"`
	ProvideRPC bool        `json:"provideRpc,omitempty"`
	Query      uuid.UUID   `json:"query"`
	Event      string      `json:"event,omitempty"`
	Data       interface{} `json:"data,omitempty"`

	Method       string      `json:"method,omitempty"`
	Args         interface{} `json:"args,omitempty"`
	InvocationID uuid.UUID   `json:"invocationId"`
	Result       interface{} `json:"result,omitempty"`

	StreamID uuid.UUID `json:"streamId"`
	Index    uint32    `json:"index,omitempty"`
}

// Log record type tags, matching the request/event tags in the wire
// protocol where applicable.
const (
	LogClientConnect    = "clientConnect"
	LogClientDisconnect = "clientDisconnect"
	LogSet              = "set"
	LogPatch            = "patch"
	LogGet              = "get"
	LogQuery            = "query"
	LogUnsubscribe      = "unsubscribe"
	LogRemove           = "remove"
	LogEmit             = "emit"
	LogInvoke           = "invoke"
	LogInvokeResult     = "invokeResult"
	LogStreamCreate     = "streamCreate"
	LogStreamOpen       = "streamOpen"
	LogStreamClose      = "streamClose"
)

// Logger receives every structured log record the broker produces.
// Implementations must not block the caller for long, since log() runs
// with the broker's state lock held.
type Logger interface {
	Log(record LogRecord)
}

// NullLogger discards every record. Used in tests and whenever no sink is
// configured.
type NullLogger struct{}

func (NullLogger) Log(LogRecord) {}
