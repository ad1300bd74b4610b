// Package kafka bridges an external Kafka/Redpanda topic into the
// broker: every record consumed is decoded as {name, value} and applied
// with Broker.Set, after prepending a configured object-name prefix.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/objtalk/objtalkd/internal/broker"
	"github.com/objtalk/objtalkd/internal/metrics"
)

// envelope is the expected shape of a record's value: the object name
// (before ObjectPrefix is prepended) and its new value.
type envelope struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

// Config configures one Bridge.
type Config struct {
	Brokers      []string
	Group        string
	Topics       []string
	ObjectPrefix string
}

// Bridge consumes Config.Topics and applies every record as a Set.
type Bridge struct {
	client       *kgo.Client
	broker       *broker.Broker
	objectPrefix string
	clientID     uuid.UUID
	log          zerolog.Logger
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup

	processed uint64
	rejected  uint64
}

// New constructs a Bridge. Start begins consuming.
func New(cfg Config, b *broker.Broker, log zerolog.Logger) (*Bridge, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker is required")
	}
	if cfg.Group == "" {
		return nil, fmt.Errorf("kafka: consumer group is required")
	}
	if len(cfg.Topics) == 0 {
		return nil, fmt.Errorf("kafka: at least one topic is required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka: client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	conn := b.Connect()

	return &Bridge{
		client:       client,
		broker:       b,
		objectPrefix: cfg.ObjectPrefix,
		clientID:     conn.ID,
		log:          log.With().Str("transport", "kafka").Strs("topics", cfg.Topics).Logger(),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start begins the consume loop in a background goroutine.
func (br *Bridge) Start() {
	br.log.Info().Msg("kafka ingestion bridge starting")
	br.wg.Add(1)
	go br.consumeLoop()
}

// Stop cancels the consume loop, waits for it to exit, disconnects the
// bridge's broker client, and closes the Kafka client.
func (br *Bridge) Stop() {
	br.cancel()
	br.wg.Wait()
	br.broker.Disconnect(br.clientID)
	br.client.Close()
	br.log.Info().
		Uint64("processed", atomic.LoadUint64(&br.processed)).
		Uint64("rejected", atomic.LoadUint64(&br.rejected)).
		Msg("kafka ingestion bridge stopped")
}

func (br *Bridge) consumeLoop() {
	defer br.wg.Done()
	for {
		select {
		case <-br.ctx.Done():
			return
		default:
		}

		fetches := br.client.PollFetches(br.ctx)
		if br.ctx.Err() != nil {
			return
		}

		for _, err := range fetches.Errors() {
			br.log.Error().Err(err.Err).Str("topic", err.Topic).Int32("partition", err.Partition).Msg("fetch error")
		}

		fetches.EachRecord(br.processRecord)
	}
}

func (br *Bridge) processRecord(record *kgo.Record) {
	var env envelope
	if err := json.Unmarshal(record.Value, &env); err != nil || env.Name == "" {
		br.log.Warn().Str("topic", record.Topic).Err(err).Msg("discarding malformed kafka record")
		atomic.AddUint64(&br.rejected, 1)
		metrics.KafkaMessagesRejected.Inc()
		return
	}

	name := br.objectPrefix + env.Name
	if err := br.broker.Set(name, env.Value, br.clientID); err != nil {
		br.log.Warn().Str("name", name).Err(err).Msg("rejected by broker")
		atomic.AddUint64(&br.rejected, 1)
		metrics.KafkaMessagesRejected.Inc()
		return
	}

	atomic.AddUint64(&br.processed, 1)
	metrics.KafkaMessagesIngested.Inc()
}
