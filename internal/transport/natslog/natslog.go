// Package natslog mirrors every broker.LogRecord onto a NATS subject, for
// shipping logs out of process without a dedicated transport client.
package natslog

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/objtalk/objtalkd/internal/broker"
)

// publisher is the subset of *nats.Conn Mirror needs, broken out so
// tests can exercise Log without a live NATS server.
type publisher interface {
	Publish(subject string, data []byte) error
	Close()
}

// Mirror wraps an underlying broker.Logger and additionally best-effort
// publishes every record as JSON onto a NATS subject. A publish failure
// never blocks or fails the call — logging must never hold up the
// broker's state lock (see broker.log's caller, which runs under it).
type Mirror struct {
	next    broker.Logger
	conn    publisher
	subject string
	log     zerolog.Logger
}

// New connects to addr and returns a Mirror publishing onto subject. next
// may be nil (equivalent to broker.NullLogger{}).
func New(addr, subject string, next broker.Logger, log zerolog.Logger) (*Mirror, error) {
	conn, err := nats.Connect(addr)
	if err != nil {
		return nil, err
	}
	if next == nil {
		next = broker.NullLogger{}
	}
	return &Mirror{
		next:    next,
		conn:    conn,
		subject: subject,
		log:     log.With().Str("transport", "natslog").Str("subject", subject).Logger(),
	}, nil
}

// Log implements broker.Logger: it forwards to next, then best-effort
// publishes the record to NATS.
func (m *Mirror) Log(record broker.LogRecord) {
	m.next.Log(record)

	encoded, err := json.Marshal(record)
	if err != nil {
		return
	}
	if err := m.conn.Publish(m.subject, encoded); err != nil {
		m.log.Debug().Err(err).Msg("nats publish failed")
	}
}

// Close drains and closes the underlying NATS connection.
func (m *Mirror) Close() {
	m.conn.Close()
}
