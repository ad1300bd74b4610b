// Package logging adapts zerolog to the broker.Logger interface and builds
// the process-wide structured logger that cmd/objtalkd hands to every
// other package.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/objtalk/objtalkd/internal/broker"
)

// Options configures the global logger.
type Options struct {
	Level  string // debug|info|warn|error
	Pretty bool   // console-writer output instead of JSON
}

// Init sets zerolog's global level and default context logger per opts
// and returns the logger. Call once at process startup before
// constructing anything that logs.
func Init(opts Options) zerolog.Logger {
	var output io.Writer = os.Stdout
	if opts.Pretty {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logger := zerolog.New(output).With().Timestamp().Str("service", "objtalkd").Logger()
	zerolog.DefaultContextLogger = &logger
	return logger
}

// BrokerLogger adapts a zerolog.Logger to broker.Logger, emitting one
// structured line per state-changing operation at debug level.
type BrokerLogger struct {
	log zerolog.Logger
}

// NewBrokerLogger wraps log for use as a broker.Logger.
func NewBrokerLogger(log zerolog.Logger) *BrokerLogger {
	return &BrokerLogger{log: log}
}

var _ broker.Logger = (*BrokerLogger)(nil)

// Log renders record as one debug-level structured line. Only fields that
// are set (non-empty, non-nil, non-zero) are included, so a "set" line
// carries object/value and a "query" line carries pattern/provideRpc/query,
// etc.
func (l *BrokerLogger) Log(record broker.LogRecord) {
	ev := l.log.Debug().
		Str("op", record.Type).
		Str("client", record.Client.String())

	if record.Object != "" {
		ev = ev.Str("object", record.Object)
	}
	if record.Value != nil {
		ev = ev.Interface("value", record.Value)
	}
	if record.Pattern != "" {
		ev = ev.Str("pattern", record.Pattern)
	}
	if record.ProvideRPC {
		ev = ev.Bool("provideRpc", record.ProvideRPC)
	}
	if record.Query != uuid.Nil {
		ev = ev.Str("query", record.Query.String())
	}
	if record.Event != "" {
		ev = ev.Str("event", record.Event)
	}
	if record.Data != nil {
		ev = ev.Interface("data", record.Data)
	}
	if record.Method != "" {
		ev = ev.Str("method", record.Method)
	}
	if record.Args != nil {
		ev = ev.Interface("args", record.Args)
	}
	if record.Result != nil {
		ev = ev.Interface("result", record.Result)
	}
	if record.InvocationID != uuid.Nil {
		ev = ev.Str("invocationId", record.InvocationID.String())
	}
	if record.StreamID != uuid.Nil {
		ev = ev.Str("streamId", record.StreamID.String())
	}
	if record.Index != 0 {
		ev = ev.Uint32("index", record.Index)
	}

	ev.Msg("broker op")
}
