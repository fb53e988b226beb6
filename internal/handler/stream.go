package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bitrepository/reference-sub015/internal/model"
	"github.com/bitrepository/reference-sub015/internal/service"
	"github.com/bitrepository/reference-sub015/pkg/logger"
	"github.com/bitrepository/reference-sub015/pkg/metrics"
)

// DefaultHeartbeatInterval is how often an idle event stream sends a heartbeat.
const DefaultHeartbeatInterval = 30 * time.Second

// StreamHandler handles SSE streaming endpoints.
type StreamHandler struct {
	operations *OperationHandler
	service    *service.OperationService
	logger     *logger.Logger
	heartbeat  time.Duration
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(operations *OperationHandler, svc *service.OperationService, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		operations: operations,
		service:    svc,
		logger:     log,
		heartbeat:  DefaultHeartbeatInterval,
	}
}

// eventQueue buffers events between the conversation, which must never
// block, and the HTTP writer.
type eventQueue struct {
	mu     sync.Mutex
	events []model.OperationEvent
	notify chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{notify: make(chan struct{}, 1)}
}

func (q *eventQueue) HandleEvent(ev model.OperationEvent) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *eventQueue) drain() []model.OperationEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	events := q.events
	q.events = nil
	return events
}

// Stream handles POST /api/v1/collections/{collectionID}/operations/{operation}/stream
// It starts the operation and streams its events until the terminal event.
// Closing the connection cancels the operation.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, status, err := h.operations.parseStart(r)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	queue := newEventQueue()
	conversationID, err := h.service.Start(ctx, h.operations.clientID(ctx), req, queue)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.Header().Set("X-Conversation-ID", conversationID)
	w.WriteHeader(http.StatusOK)

	// Track active connection
	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	sendSSEEvent(w, flusher, "connected", &model.StartOperationResponse{ConversationID: conversationID})

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		for _, ev := range queue.drain() {
			if err := sendSSEEvent(w, flusher, eventName(ev.Type), ev); err != nil {
				h.logger.Warn("failed to write event", zap.String("conversation_id", conversationID), zap.Error(err))
				return
			}
			if ev.Type.IsTerminal() {
				sendSSEEvent(w, flusher, "done", map[string]bool{"success": ev.Type == model.EventComplete})
				return
			}
		}

		select {
		case <-ctx.Done():
			h.logger.Info("SSE client disconnected", zap.String("conversation_id", conversationID))
			return
		case <-queue.notify:
		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now(),
			})
		}
	}
}

func eventName(t model.EventType) string {
	return strings.ToLower(string(t))
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}
