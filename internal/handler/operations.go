package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bitrepository/reference-sub015/internal/client"
	"github.com/bitrepository/reference-sub015/internal/middleware"
	"github.com/bitrepository/reference-sub015/internal/model"
	"github.com/bitrepository/reference-sub015/internal/service"
	"github.com/bitrepository/reference-sub015/pkg/logger"
)

// OperationHandler handles operation endpoints.
type OperationHandler struct {
	service         *service.OperationService
	defaultClientID string
	logger          *logger.Logger
}

// NewOperationHandler creates a new operation handler. defaultClientID is
// recorded for tokens that carry no client id.
func NewOperationHandler(svc *service.OperationService, defaultClientID string, log *logger.Logger) *OperationHandler {
	return &OperationHandler{
		service:         svc,
		defaultClientID: defaultClientID,
		logger:          log,
	}
}

// Start handles POST /api/v1/collections/{collectionID}/operations/{operation}
// With ?wait=true the response is sent once the operation has ended.
func (h *OperationHandler) Start(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, status, err := h.parseStart(r)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	clientID := h.clientID(ctx)

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		rec, err := h.service.Run(ctx, clientID, req)
		if rec == nil {
			h.logger.Warn("failed to run operation", zap.String("operation", string(req.Operation)), zap.Error(err))
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, rec)
		return
	}

	id, err := h.service.Start(context.WithoutCancel(ctx), clientID, req, nil)
	if err != nil {
		h.logger.Warn("failed to start operation", zap.String("operation", string(req.Operation)), zap.Error(err))
		writeError(w, statusFor(err), err.Error())
		return
	}

	w.Header().Set("Location", "/api/v1/operations/"+id)
	writeJSON(w, http.StatusAccepted, &model.StartOperationResponse{ConversationID: id})
}

// List handles GET /api/v1/operations
func (h *OperationHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 20
	offset := 0

	if l := q.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	if o := q.Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	filter := service.ListFilter{
		CollectionID: q.Get("collection"),
		Status:       model.OperationStatus(q.Get("status")),
	}
	if op := q.Get("operation"); op != "" {
		parsed, err := model.ParseOperationType(op)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Operation = parsed
	}

	writeJSON(w, http.StatusOK, h.service.List(filter, limit, offset))
}

// Get handles GET /api/v1/operations/{id}
func (h *OperationHandler) Get(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.service.Get(conversationID)
	if err != nil {
		writeError(w, http.StatusNotFound, "operation not found")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// parseStart reads the collection and operation from the URL and the body
// of a start request. The returned status goes with a non-nil error.
func (h *OperationHandler) parseStart(r *http.Request) (client.StartRequest, int, error) {
	collectionID := chi.URLParam(r, "collectionID")
	if err := middleware.ValidateCollectionID(collectionID); err != nil {
		return client.StartRequest{}, http.StatusBadRequest, err
	}

	op, err := model.ParseOperationType(chi.URLParam(r, "operation"))
	if err != nil {
		return client.StartRequest{}, http.StatusNotFound, err
	}
	if op.IsModifying() && !middleware.HasScope(r.Context(), middleware.ScopeModify) {
		return client.StartRequest{}, http.StatusForbidden, errors.New("insufficient permissions")
	}

	var body model.StartOperationRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		return client.StartRequest{}, http.StatusBadRequest, errors.New("invalid request body")
	}
	if err := middleware.ValidateStartRequest(op, &body); err != nil {
		return client.StartRequest{}, http.StatusBadRequest, err
	}

	return client.StartRequest{
		CollectionID:          collectionID,
		Operation:             op,
		FileID:                body.FileID,
		Contributors:          body.Contributors,
		AuditTrailInformation: body.AuditTrailInformation,
		Payload:               body.Payload,
	}, 0, nil
}

func (h *OperationHandler) clientID(ctx context.Context) string {
	if id := middleware.GetClientID(ctx); id != "" {
		return id
	}
	return h.defaultClientID
}
