package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitrepository/reference-sub015/internal/model"
	"github.com/bitrepository/reference-sub015/pkg/logger"
)

type inbox struct {
	mu       sync.Mutex
	messages []*model.Message
}

func (i *inbox) handle(msg *model.Message) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.messages = append(i.messages, msg)
}

func (i *inbox) len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.messages)
}

func TestMemoryBus_DeliversToEverySubscriber(t *testing.T) {
	b := NewMemoryBus(0, logger.NewNop())
	defer b.Close()

	first, second, other := &inbox{}, &inbox{}, &inbox{}
	_, err := b.Subscribe("collection.books", first.handle)
	require.NoError(t, err)
	_, err = b.Subscribe("collection.books", second.handle)
	require.NoError(t, err)
	_, err = b.Subscribe("pillar.p1", other.handle)
	require.NoError(t, err)

	msg := &model.Message{ID: "m1", To: "collection.books", Kind: model.KindIdentifyRequest}
	require.NoError(t, b.Send(context.Background(), msg))

	assert.Eventually(t, func() bool { return first.len() == 1 && second.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, other.len())

	first.mu.Lock()
	assert.NotSame(t, msg, first.messages[0])
	assert.Equal(t, "m1", first.messages[0].ID)
	first.mu.Unlock()
}

func TestMemoryBus_NoSubscriberIsNotAnError(t *testing.T) {
	b := NewMemoryBus(0, logger.NewNop())
	defer b.Close()

	assert.NoError(t, b.Send(context.Background(), &model.Message{To: "nowhere"}))
	assert.Error(t, b.Send(context.Background(), &model.Message{}))
}

func TestMemoryBus_Unsubscribe(t *testing.T) {
	b := NewMemoryBus(0, logger.NewNop())
	defer b.Close()

	box := &inbox{}
	sub, err := b.Subscribe("client", box.handle)
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())

	require.NoError(t, b.Send(context.Background(), &model.Message{To: "client"}))
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, box.len())
}

func TestMemoryBus_FullQueueDrops(t *testing.T) {
	b := NewMemoryBus(1, logger.NewNop())
	defer b.Close()

	release := make(chan struct{})
	var mu sync.Mutex
	delivered := 0
	_, err := b.Subscribe("slow", func(*model.Message) {
		<-release
		mu.Lock()
		delivered++
		mu.Unlock()
	})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Send(context.Background(), &model.Message{To: "slow"}))
	}
	close(release)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered >= 1
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Less(t, delivered, 10)
	mu.Unlock()
}

func TestMemoryBus_Closed(t *testing.T) {
	b := NewMemoryBus(0, logger.NewNop())
	b.Close()
	b.Close()

	assert.ErrorIs(t, b.Send(context.Background(), &model.Message{To: "x"}), ErrBusClosed)
	_, err := b.Subscribe("x", func(*model.Message) {})
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestMemoryBus_CancelledContext(t *testing.T) {
	b := NewMemoryBus(0, logger.NewNop())
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.Send(ctx, &model.Message{To: "x"}), context.Canceled)
}
