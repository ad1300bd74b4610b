package natslog

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/objtalk/objtalkd/internal/broker"
)

type fakeConn struct {
	published []publishedMsg
	closed    bool
	failNext  bool
}

type publishedMsg struct {
	subject string
	data    []byte
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.failNext {
		f.failNext = false
		return errFake
	}
	f.published = append(f.published, publishedMsg{subject, data})
	return nil
}

func (f *fakeConn) Close() { f.closed = true }

var errFake = &fakeError{"publish failed"}

type fakeError struct{ msg string }

func (e *fakeError) Error() string { return e.msg }

type recordingLogger struct {
	records []broker.LogRecord
}

func (r *recordingLogger) Log(record broker.LogRecord) {
	r.records = append(r.records, record)
}

func TestLogForwardsAndPublishes(t *testing.T) {
	conn := &fakeConn{}
	next := &recordingLogger{}
	m := &Mirror{next: next, conn: conn, subject: "objtalk.log", log: zerolog.Nop()}

	record := broker.LogRecord{Type: "set", Client: uuid.New(), Object: "devices/lamp"}
	m.Log(record)

	if len(next.records) != 1 {
		t.Fatalf("expected record forwarded to next logger, got %d", len(next.records))
	}
	if len(conn.published) != 1 {
		t.Fatalf("expected one published message, got %d", len(conn.published))
	}
	if conn.published[0].subject != "objtalk.log" {
		t.Fatalf("unexpected subject: %s", conn.published[0].subject)
	}

	var decoded broker.LogRecord
	if err := json.Unmarshal(conn.published[0].data, &decoded); err != nil {
		t.Fatalf("unmarshal published payload: %v", err)
	}
	if decoded.Object != "devices/lamp" {
		t.Fatalf("unexpected decoded object: %s", decoded.Object)
	}
}

func TestLogSurvivesPublishFailure(t *testing.T) {
	conn := &fakeConn{failNext: true}
	next := &recordingLogger{}
	m := &Mirror{next: next, conn: conn, subject: "objtalk.log", log: zerolog.Nop()}

	m.Log(broker.LogRecord{Type: "remove"})

	if len(next.records) != 1 {
		t.Fatalf("next logger should still receive the record on publish failure")
	}
}

func TestClose(t *testing.T) {
	conn := &fakeConn{}
	m := &Mirror{next: broker.NullLogger{}, conn: conn, log: zerolog.Nop()}
	m.Close()
	if !conn.closed {
		t.Fatal("expected underlying connection to be closed")
	}
}
