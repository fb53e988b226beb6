package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/bitrepository/reference-sub015/internal/model"
)

const (
	// AlarmStreamName is the name of the alarm stream.
	AlarmStreamName = "ALARMS"

	// AlarmSubjectPrefix is the prefix for all alarm subjects.
	AlarmSubjectPrefix = "alarms"
)

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the alarm stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	_, err := js.Stream(ctx, AlarmStreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        AlarmStreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", AlarmSubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      90 * 24 * time.Hour,
		MaxBytes:    1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		DenyDelete:  true,
		Description: "Alarms raised for failed operations",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// AlarmSubject returns the subject for an alarm.
func AlarmSubject(collectionID string, operation model.OperationType) string {
	return fmt.Sprintf("%s.%s.%s", AlarmSubjectPrefix, collectionID, operation.Key())
}

// AlarmFilter returns the filter subject for the alarms of one collection,
// or of every collection when collectionID is empty.
func AlarmFilter(collectionID string) string {
	if collectionID == "" {
		return AlarmSubjectPrefix + ".>"
	}
	return fmt.Sprintf("%s.%s.>", AlarmSubjectPrefix, collectionID)
}

// PublishAlarm publishes an alarm to JetStream.
func (m *StreamManager) PublishAlarm(ctx context.Context, alarm *model.Alarm) (uint64, error) {
	data, err := json.Marshal(alarm)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal alarm: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, AlarmSubject(alarm.CollectionID, alarm.Operation), data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish alarm: %w", err)
	}

	return ack.Sequence, nil
}

// GetAlarms retrieves alarms starting after a sequence.
func (m *StreamManager) GetAlarms(ctx context.Context, collectionID string, afterSequence uint64, limit int) ([]model.Alarm, uint64, bool, error) {
	if limit <= 0 {
		limit = 100
	}

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: AlarmFilter(collectionID),
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	}
	if afterSequence > 0 {
		consumerConfig.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		consumerConfig.OptStartSeq = afterSequence + 1
	}

	consumer, err := m.client.JetStream().CreateConsumer(ctx, AlarmStreamName, consumerConfig)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to create consumer: %w", err)
	}

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to fetch alarms: %w", err)
	}

	var alarms []model.Alarm
	var lastSequence uint64
	for msg := range batch.Messages() {
		var alarm model.Alarm
		if err := json.Unmarshal(msg.Data(), &alarm); err != nil {
			continue
		}

		if meta, err := msg.Metadata(); err == nil {
			alarm.Sequence = meta.Sequence.Stream
			lastSequence = meta.Sequence.Stream
		}
		alarms = append(alarms, alarm)
	}

	if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, jetstream.ErrNoMessages) {
		return nil, 0, false, fmt.Errorf("batch error: %w", err)
	}

	return alarms, lastSequence, len(alarms) == limit, nil
}
