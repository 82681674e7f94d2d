package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"
	"github.com/tournament-engine/internal/config"
	"github.com/tournament-engine/internal/notify"
)

// ErrProducerBusy is returned when the producer input queue is full
var ErrProducerBusy = errors.New("kafka producer input queue full")

// EventProducer publishes engine events to the events topic, keyed by tournament
type EventProducer struct {
	producer sarama.AsyncProducer
	topic    string
	logger   *slog.Logger
	wg       sync.WaitGroup
}

var _ notify.Sink = (*EventProducer)(nil)

// NewEventProducer connects an async producer to the configured brokers
func NewEventProducer(cfg *config.KafkaConfig, logger *slog.Logger) (*EventProducer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Retry.Max = cfg.RetryMax
	saramaConfig.Producer.Return.Successes = false
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.Flush.Frequency = cfg.FlushFreq
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating producer: %w", err)
	}

	return newEventProducer(producer, cfg.EventsTopic, logger), nil
}

func newEventProducer(producer sarama.AsyncProducer, topic string, logger *slog.Logger) *EventProducer {
	p := &EventProducer{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for err := range producer.Errors() {
			p.logger.Error("failed to publish event", "topic", p.topic, "error", err)
		}
	}()

	return p
}

// Name implements notify.Sink
func (p *EventProducer) Name() string {
	return "kafka"
}

// Send implements notify.Sink. It never blocks.
func (p *EventProducer) Send(ev notify.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event"), Value: []byte(ev.Name)},
		},
	}
	if ev.TournamentID != "" {
		msg.Key = sarama.StringEncoder(ev.TournamentID)
	}

	select {
	case p.producer.Input() <- msg:
		return nil
	default:
		return ErrProducerBusy
	}
}

// Close flushes pending messages and shuts the producer down
func (p *EventProducer) Close() error {
	p.producer.AsyncClose()
	p.wg.Wait()
	return nil
}
