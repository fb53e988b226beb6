package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/bitrepository/reference-sub015/internal/bus"
	"github.com/bitrepository/reference-sub015/internal/model"
	"github.com/bitrepository/reference-sub015/pkg/logger"
	"github.com/bitrepository/reference-sub015/pkg/metrics"
)

// SubjectPrefix is the prefix of every request and response subject.
const SubjectPrefix = "bitrepo"

// Subject returns the NATS subject of a bus destination.
func Subject(destination string) (string, error) {
	if destination == "" {
		return "", fmt.Errorf("empty destination")
	}
	if strings.ContainsAny(destination, " \t\r\n*>") {
		return "", fmt.Errorf("invalid destination %q", destination)
	}
	return SubjectPrefix + "." + destination, nil
}

// Bus carries protocol messages as JSON over core NATS.
type Bus struct {
	client *Client
	log    *logger.Logger
}

var _ bus.Transport = (*Bus)(nil)

// NewBus creates a transport on an established connection.
func NewBus(client *Client, log *logger.Logger) *Bus {
	return &Bus{client: client, log: log.Named("nats-bus")}
}

// Send publishes msg on the subject of msg.To.
func (b *Bus) Send(ctx context.Context, msg *model.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subject, err := Subject(msg.To)
	if err != nil {
		return err
	}
	data, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	if err := b.client.Conn().Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	metrics.BusMessagesSent.WithLabelValues(string(msg.Kind)).Inc()
	return nil
}

// Subscribe decodes every message published to destination and passes it to h.
func (b *Bus) Subscribe(destination string, h bus.Handler) (bus.Subscription, error) {
	subject, err := Subject(destination)
	if err != nil {
		return nil, err
	}

	sub, err := b.client.Conn().Subscribe(subject, func(m *nats.Msg) {
		msg, err := decodeMessage(m.Data)
		if err != nil {
			metrics.BusMessagesDropped.WithLabelValues("decode_error").Inc()
			b.log.Warn("dropping undecodable message", zap.String("subject", m.Subject), zap.Error(err))
			return
		}
		h(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	b.log.Debug("subscribed", zap.String("subject", subject))
	return sub, nil
}

func encodeMessage(msg *model.Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return data, nil
}

func decodeMessage(data []byte) (*model.Message, error) {
	var msg model.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if msg.Kind == "" {
		return nil, fmt.Errorf("message %q has no kind", msg.ID)
	}
	return &msg, nil
}
