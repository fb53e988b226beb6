// Package service keeps track of the operations started through the API and
// raises alarms for the ones that fail.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bitrepository/reference-sub015/internal/client"
	"github.com/bitrepository/reference-sub015/internal/conversation"
	"github.com/bitrepository/reference-sub015/internal/model"
	"github.com/bitrepository/reference-sub015/pkg/logger"
	"github.com/bitrepository/reference-sub015/pkg/metrics"
)

// ErrOperationNotFound is returned for an unknown or evicted conversation id.
var ErrOperationNotFound = errors.New("operation not found")

// DefaultHistory is the number of operation records kept when none is configured.
const DefaultHistory = 1000

// alarmTimeout bounds a single alarm publication.
const alarmTimeout = 10 * time.Second

// Starter starts operations. *client.Client implements it.
type Starter interface {
	Start(ctx context.Context, req client.StartRequest, handler model.EventHandler) (string, error)
	Run(ctx context.Context, req client.StartRequest, delegate model.EventHandler) (*client.Result, error)
}

// AlarmPublisher stores alarms. *nats.StreamManager implements it.
type AlarmPublisher interface {
	PublishAlarm(ctx context.Context, alarm *model.Alarm) (uint64, error)
}

// ListFilter narrows a listing of operation records.
type ListFilter struct {
	CollectionID string
	Operation    model.OperationType
	Status       model.OperationStatus
}

// OperationService records the progress of operations from their events.
type OperationService struct {
	starter Starter
	alarms  AlarmPublisher
	clock   conversation.Clock
	logger  *logger.Logger
	history int

	// In-memory storage for operation records, oldest first in order
	mu         sync.RWMutex
	operations map[string]*model.OperationRecord
	order      []string

	wg sync.WaitGroup
}

// NewOperationService creates a new operation service. alarms may be nil,
// in which case failed operations are only logged.
func NewOperationService(starter Starter, alarms AlarmPublisher, history int, log *logger.Logger) *OperationService {
	if history <= 0 {
		history = DefaultHistory
	}
	return &OperationService{
		starter:    starter,
		alarms:     alarms,
		clock:      conversation.SystemClock{},
		logger:     log.Named("operations"),
		history:    history,
		operations: make(map[string]*model.OperationRecord),
	}
}

// Start starts req on behalf of clientID and returns the conversation id.
// handler, which may be nil, sees every event after the record was updated.
func (s *OperationService) Start(ctx context.Context, clientID string, req client.StartRequest, handler model.EventHandler) (string, error) {
	return s.starter.Start(ctx, req, s.observer(clientID, req, handler))
}

// Run starts req and waits for it to end. The record of the operation is
// returned together with the error of a failed operation.
func (s *OperationService) Run(ctx context.Context, clientID string, req client.StartRequest) (*model.OperationRecord, error) {
	res, err := s.starter.Run(ctx, req, s.observer(clientID, req, nil))
	if res == nil {
		return nil, err
	}
	rec, getErr := s.Get(res.ConversationID)
	if getErr != nil {
		return nil, getErr
	}
	return rec, err
}

// Get returns a copy of the record of conversationID.
func (s *OperationService) Get(conversationID string) (*model.OperationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.operations[conversationID]
	if !exists {
		return nil, ErrOperationNotFound
	}
	return copyRecord(rec), nil
}

// List returns records matching filter, newest first.
func (s *OperationService) List(filter ListFilter, limit, offset int) *model.ListOperationsResponse {
	s.mu.RLock()
	var recs []model.OperationRecord
	for i := len(s.order) - 1; i >= 0; i-- {
		rec := s.operations[s.order[i]]
		if filter.CollectionID != "" && rec.CollectionID != filter.CollectionID {
			continue
		}
		if filter.Operation != "" && rec.Operation != filter.Operation {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		recs = append(recs, *copyRecord(rec))
	}
	s.mu.RUnlock()

	// Simple pagination
	total := len(recs)
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	return &model.ListOperationsResponse{
		Operations: append([]model.OperationRecord{}, recs[start:end]...),
		Total:      total,
		HasMore:    end < total,
	}
}

// Wait blocks until pending alarm publications are done.
func (s *OperationService) Wait() {
	s.wg.Wait()
}

func (s *OperationService) observer(clientID string, req client.StartRequest, next model.EventHandler) model.EventHandler {
	return model.EventHandlerFunc(func(ev model.OperationEvent) {
		if alarm := s.apply(clientID, req, ev); alarm != nil {
			s.raise(alarm)
		}
		if next != nil {
			next.HandleEvent(ev)
		}
	})
}

// apply folds ev into the record of its conversation and returns the alarm
// to raise, if any.
func (s *OperationService) apply(clientID string, req client.StartRequest, ev model.OperationEvent) *model.Alarm {
	now := ev.CreatedAt
	if now.IsZero() {
		now = s.clock.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.operations[ev.ConversationID]
	if !exists {
		rec = &model.OperationRecord{
			ConversationID: ev.ConversationID,
			CollectionID:   req.CollectionID,
			Operation:      req.Operation,
			FileID:         req.FileID,
			ClientID:       clientID,
			Status:         model.StatusRunning,
			Contributors:   append([]string(nil), req.Contributors...),
			StartedAt:      now,
		}
		s.operations[ev.ConversationID] = rec
		s.order = append(s.order, ev.ConversationID)
		s.evict()
	}
	rec.UpdatedAt = now
	rec.EventCount++

	switch ev.Type {
	case model.EventIdentificationComplete:
		rec.Contributors = append([]string(nil), ev.Contributors...)
	case model.EventComponentComplete:
		rec.Completed = append(rec.Completed, ev.ContributorID)
		if len(ev.Result) > 0 {
			if rec.Results == nil {
				rec.Results = make(map[string]json.RawMessage)
			}
			rec.Results[ev.ContributorID] = append(json.RawMessage(nil), ev.Result...)
		}
	case model.EventComponentFailed:
		if rec.Failed == nil {
			rec.Failed = make(map[string]string)
		}
		rec.Failed[ev.ContributorID] = ev.Cause
	case model.EventComplete:
		rec.Status = model.StatusComplete
		rec.FinishedAt = &now
	case model.EventFailed:
		rec.Status = model.StatusFailed
		rec.Cause = ev.Cause
		rec.FinishedAt = &now
		return &model.Alarm{
			ID:             uuid.Must(uuid.NewV7()).String(),
			ConversationID: rec.ConversationID,
			CollectionID:   rec.CollectionID,
			Operation:      rec.Operation,
			FileID:         rec.FileID,
			Cause:          ev.Cause,
			RaisedAt:       now,
		}
	}
	return nil
}

// evict drops the oldest finished records beyond the history limit.
func (s *OperationService) evict() {
	for i := 0; len(s.order) > s.history && i < len(s.order); {
		id := s.order[i]
		if s.operations[id].Status == model.StatusRunning {
			i++
			continue
		}
		delete(s.operations, id)
		s.order = append(s.order[:i], s.order[i+1:]...)
	}
}

// raise publishes alarm in the background; events are delivered under the
// conversation lock and must not wait for the network.
func (s *OperationService) raise(alarm *model.Alarm) {
	s.logger.Warn("operation failed",
		zap.String("conversation_id", alarm.ConversationID),
		zap.String("collection_id", alarm.CollectionID),
		zap.String("operation", string(alarm.Operation)),
		zap.String("cause", alarm.Cause),
	)
	if s.alarms == nil {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), alarmTimeout)
		defer cancel()

		seq, err := s.alarms.PublishAlarm(ctx, alarm)
		if err != nil {
			s.logger.Error("failed to publish alarm",
				zap.String("conversation_id", alarm.ConversationID),
				zap.Error(err),
			)
			return
		}
		metrics.AlarmsPublished.WithLabelValues(string(alarm.Operation)).Inc()
		s.logger.Debug("alarm published",
			zap.String("conversation_id", alarm.ConversationID),
			zap.Uint64("sequence", seq),
		)
	}()
}

func copyRecord(rec *model.OperationRecord) *model.OperationRecord {
	out := *rec
	out.Contributors = append([]string(nil), rec.Contributors...)
	out.Completed = append([]string(nil), rec.Completed...)
	if rec.Failed != nil {
		out.Failed = make(map[string]string, len(rec.Failed))
		for k, v := range rec.Failed {
			out.Failed[k] = v
		}
	}
	if rec.Results != nil {
		out.Results = make(map[string]json.RawMessage, len(rec.Results))
		for k, v := range rec.Results {
			out.Results[k] = v
		}
	}
	if rec.FinishedAt != nil {
		finished := *rec.FinishedAt
		out.FinishedAt = &finished
	}
	return &out
}
