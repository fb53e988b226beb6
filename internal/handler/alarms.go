package handler

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/bitrepository/reference-sub015/internal/middleware"
	"github.com/bitrepository/reference-sub015/internal/model"
	"github.com/bitrepository/reference-sub015/pkg/logger"
)

// AlarmReader reads stored alarms. *nats.StreamManager implements it.
type AlarmReader interface {
	GetAlarms(ctx context.Context, collectionID string, afterSequence uint64, limit int) ([]model.Alarm, uint64, bool, error)
}

// AlarmsResponse is the response for listing alarms.
type AlarmsResponse struct {
	Alarms       []model.Alarm `json:"alarms"`
	LastSequence uint64        `json:"last_sequence"`
	HasMore      bool          `json:"has_more"`
}

// AlarmHandler handles alarm endpoints.
type AlarmHandler struct {
	reader AlarmReader
	logger *logger.Logger
}

// NewAlarmHandler creates a new alarm handler. A nil reader disables the endpoint.
func NewAlarmHandler(reader AlarmReader, log *logger.Logger) *AlarmHandler {
	return &AlarmHandler{
		reader: reader,
		logger: log,
	}
}

// List handles GET /api/v1/alarms
// Supports ?collection=, ?after_sequence=N and ?limit=N
func (h *AlarmHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusServiceUnavailable, "alarm stream not available")
		return
	}

	q := r.URL.Query()
	collectionID := q.Get("collection")
	if collectionID != "" {
		if err := middleware.ValidateCollectionID(collectionID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	var afterSequence uint64
	if s := q.Get("after_sequence"); s != "" {
		seq, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after_sequence")
			return
		}
		afterSequence = seq
	}

	limit := 50
	if l := q.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	alarms, last, hasMore, err := h.reader.GetAlarms(r.Context(), collectionID, afterSequence, limit)
	if err != nil {
		h.logger.Error("failed to read alarms", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to read alarms")
		return
	}
	if alarms == nil {
		alarms = []model.Alarm{}
	}

	writeJSON(w, http.StatusOK, &AlarmsResponse{
		Alarms:       alarms,
		LastSequence: last,
		HasMore:      hasMore,
	})
}
