package kafka

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/objtalk/objtalkd/internal/broker"
)

func newTestBridge(t *testing.T) (*Bridge, *broker.Broker) {
	t.Helper()
	b, err := broker.New(nil, nil, nil)
	if err != nil {
		t.Fatalf("broker.New: %v", err)
	}
	client := b.Connect()
	return &Bridge{
		broker:       b,
		objectPrefix: "kafka/",
		clientID:     client.ID,
		log:          zerolog.Nop(),
	}, b
}

func TestProcessRecordAppliesSet(t *testing.T) {
	br, b := newTestBridge(t)

	record := &kgo.Record{Topic: "sensors", Value: []byte(`{"name":"temp","value":21.5}`)}
	br.processRecord(record)

	client := b.Connect()
	defer b.Disconnect(client.ID)
	pattern, err := broker.CompilePattern("kafka/temp")
	if err != nil {
		t.Fatalf("compile pattern: %v", err)
	}
	objects := b.Get(pattern, client.ID)
	if len(objects) != 1 {
		t.Fatalf("expected object to exist after kafka ingestion, got %d", len(objects))
	}
	if objects[0].Value != 21.5 {
		t.Fatalf("unexpected value: %v", objects[0].Value)
	}
	if br.processed != 1 || br.rejected != 0 {
		t.Fatalf("unexpected counters: processed=%d rejected=%d", br.processed, br.rejected)
	}
}

func TestProcessRecordRejectsMalformed(t *testing.T) {
	br, _ := newTestBridge(t)

	record := &kgo.Record{Topic: "sensors", Value: []byte(`not json`)}
	br.processRecord(record)

	if br.rejected != 1 || br.processed != 0 {
		t.Fatalf("unexpected counters: processed=%d rejected=%d", br.processed, br.rejected)
	}
}

func TestProcessRecordRejectsMissingName(t *testing.T) {
	br, _ := newTestBridge(t)

	record := &kgo.Record{Topic: "sensors", Value: []byte(`{"value":1}`)}
	br.processRecord(record)

	if br.rejected != 1 {
		t.Fatalf("expected record with no name to be rejected, got processed=%d rejected=%d", br.processed, br.rejected)
	}
}
