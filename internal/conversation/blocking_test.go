package conversation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitrepository/reference-sub015/internal/conversation"
	"github.com/bitrepository/reference-sub015/internal/model"
	"github.com/bitrepository/reference-sub015/internal/testutil"
)

func TestBlockingEventHandler_AwaitAfterTerminal(t *testing.T) {
	delegate := &testutil.EventRecorder{}
	h := conversation.NewBlockingEventHandler(delegate)

	h.HandleEvent(model.OperationEvent{Type: model.EventComponentComplete, ContributorID: "p1"})
	h.HandleEvent(model.OperationEvent{Type: model.EventComponentFailed, ContributorID: "p2"})
	h.HandleEvent(model.OperationEvent{Type: model.EventComplete, Info: "done"})
	h.HandleEvent(model.OperationEvent{Type: model.EventFailed, Info: "too late"})

	select {
	case <-h.Done():
	default:
		t.Fatal("done channel not closed")
	}

	final, err := h.AwaitFinished(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.EventComplete, final.Type)
	assert.Equal(t, "done", final.Info)

	got, ok := h.Final()
	require.True(t, ok)
	assert.Equal(t, final, got)

	require.Len(t, h.Results(), 1)
	require.Len(t, h.Failures(), 1)
	assert.Equal(t, "p2", h.Failures()[0].ContributorID)
	assert.Len(t, delegate.Events(), 4)
}

func TestBlockingEventHandler_WakesWaiter(t *testing.T) {
	h := conversation.NewBlockingEventHandler(nil)

	result := make(chan model.OperationEvent, 1)
	go func() {
		ev, err := h.AwaitFinished(context.Background())
		if err == nil {
			result <- ev
		}
	}()

	h.HandleEvent(model.OperationEvent{Type: model.EventProgress})
	h.HandleEvent(model.OperationEvent{Type: model.EventFailed, Info: "boom"})

	select {
	case ev := <-result:
		assert.Equal(t, model.EventFailed, ev.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestBlockingEventHandler_ContextDone(t *testing.T) {
	h := conversation.NewBlockingEventHandler(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.AwaitFinished(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, ok := h.Final()
	assert.False(t, ok)
}
