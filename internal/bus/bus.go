// Package bus defines the message transport used by clients and contributors
// and provides an in-process implementation of it.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/bitrepository/reference-sub015/internal/model"
	"github.com/bitrepository/reference-sub015/pkg/logger"
	"github.com/bitrepository/reference-sub015/pkg/metrics"
)

// ErrBusClosed is returned when sending on or subscribing to a closed bus.
var ErrBusClosed = errors.New("message bus closed")

// DefaultBufferSize is the per-subscription queue length of a MemoryBus.
const DefaultBufferSize = 256

// Handler receives messages delivered to a destination.
type Handler func(msg *model.Message)

// Subscription is an active registration of a Handler.
type Subscription interface {
	Unsubscribe() error
}

// Transport sends and receives messages by destination name.
type Transport interface {
	Send(ctx context.Context, msg *model.Message) error
	Subscribe(destination string, h Handler) (Subscription, error)
}

// MemoryBus delivers messages between subscribers of the same process. Every
// subscription has its own queue and goroutine; a full queue drops the
// message, as a lossy network would.
type MemoryBus struct {
	mu         sync.RWMutex
	subs       map[string][]*memorySubscription
	bufferSize int
	log        *logger.Logger

	done   chan struct{}
	closed atomic.Bool
	wg     sync.WaitGroup
}

type memorySubscription struct {
	bus         *MemoryBus
	destination string
	queue       chan *model.Message
	quit        chan struct{}
	once        sync.Once
}

// NewMemoryBus creates a bus. A bufferSize of zero or less uses DefaultBufferSize.
func NewMemoryBus(bufferSize int, log *logger.Logger) *MemoryBus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if log == nil {
		log = logger.Global()
	}
	return &MemoryBus{
		subs:       make(map[string][]*memorySubscription),
		bufferSize: bufferSize,
		log:        log.Named("bus"),
		done:       make(chan struct{}),
	}
}

// Send delivers a copy of msg to every subscriber of msg.To without blocking.
func (b *MemoryBus) Send(ctx context.Context, msg *model.Message) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	if msg.To == "" {
		return fmt.Errorf("message %s has no destination", msg.ID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	subs := append([]*memorySubscription(nil), b.subs[msg.To]...)
	b.mu.RUnlock()

	metrics.BusMessagesSent.WithLabelValues(string(msg.Kind)).Inc()
	if len(subs) == 0 {
		metrics.BusMessagesDropped.WithLabelValues("no_subscriber").Inc()
		b.log.Debug("no subscriber for destination",
			zap.String("destination", msg.To),
			zap.String("kind", string(msg.Kind)),
		)
		return nil
	}

	for _, sub := range subs {
		copied := *msg
		select {
		case sub.queue <- &copied:
		default:
			metrics.BusMessagesDropped.WithLabelValues("queue_full").Inc()
			b.log.Warn("subscriber queue full, dropping message",
				zap.String("destination", msg.To),
				zap.String("kind", string(msg.Kind)),
				zap.String("correlation_id", msg.CorrelationID),
			)
		}
	}
	return nil
}

// Subscribe runs h for every message sent to destination until the
// subscription is cancelled or the bus is closed.
func (b *MemoryBus) Subscribe(destination string, h Handler) (Subscription, error) {
	if destination == "" {
		return nil, errors.New("empty destination")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return nil, ErrBusClosed
	}

	sub := &memorySubscription{
		bus:         b,
		destination: destination,
		queue:       make(chan *model.Message, b.bufferSize),
		quit:        make(chan struct{}),
	}
	b.subs[destination] = append(b.subs[destination], sub)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case msg := <-sub.queue:
				h(msg)
			case <-sub.quit:
				return
			case <-b.done:
				return
			}
		}
	}()
	return sub, nil
}

// Close stops every subscription and waits for running handlers to return.
func (b *MemoryBus) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.done)
	}
	b.wg.Wait()
}

func (s *memorySubscription) Unsubscribe() error {
	s.once.Do(func() {
		b := s.bus
		b.mu.Lock()
		subs := b.subs[s.destination]
		for i, other := range subs {
			if other == s {
				b.subs[s.destination] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(b.subs[s.destination]) == 0 {
			delete(b.subs, s.destination)
		}
		b.mu.Unlock()
		close(s.quit)
	})
	return nil
}
