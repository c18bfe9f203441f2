// Package kafka exports committed domain events to a Kafka topic for
// downstream analytics. Dispatch never depends on it.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/IBM/sarama"

	"delivery/internal/events"
	"delivery/internal/logx"
)

// newSyncProducer is swapped in tests.
var newSyncProducer = sarama.NewSyncProducer

// Exporter writes every event it receives as JSON, keyed by entity id so the
// events of one delivery stay ordered within a partition.
type Exporter struct {
	producer sarama.SyncProducer
	topic    string
	log      logx.Logger
}

// NewExporter connects to brokers. It returns nil without error when Kafka
// is not configured.
func NewExporter(log logx.Logger, brokers []string, topic string) (*Exporter, error) {
	if len(brokers) == 0 || strings.TrimSpace(topic) == "" {
		return nil, nil
	}

	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Compression = sarama.CompressionSnappy

	producer, err := newSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewExporterWithProducer(producer, topic, log), nil
}

// NewExporterWithProducer wraps an existing producer.
func NewExporterWithProducer(producer sarama.SyncProducer, topic string, log logx.Logger) *Exporter {
	if log == nil {
		log = logx.Nop()
	}
	return &Exporter{producer: producer, topic: topic, log: log}
}

// Handle is an events.Handler. Failures are logged and dropped.
func (x *Exporter) Handle(_ context.Context, e events.Event) {
	if err := x.send(e); err != nil {
		x.log.Warn("kafka export failed",
			logx.String("event", string(e.Name)),
			logx.String("event_id", e.ID),
			logx.Err(err))
	}
}

func (x *Exporter) send(e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: x.topic,
		Key:   sarama.StringEncoder(e.EntityID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event"), Value: []byte(e.Name)},
			{Key: []byte("event_id"), Value: []byte(e.ID)},
		},
	}

	partition, offset, err := x.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	x.log.Debug("event exported",
		logx.String("event_id", e.ID),
		logx.Int("partition", int(partition)),
		logx.Int64("offset", offset))
	return nil
}

// Close flushes and closes the producer.
func (x *Exporter) Close() error {
	if x == nil {
		return nil
	}
	return x.producer.Close()
}
