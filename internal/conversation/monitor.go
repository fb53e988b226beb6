package conversation

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/bitrepository/reference-sub015/internal/model"
	"github.com/bitrepository/reference-sub015/pkg/logger"
	"github.com/bitrepository/reference-sub015/pkg/metrics"
)

// EventMonitor stamps, logs and forwards the events of one conversation and
// keeps the per-contributor outcomes. Callers serialise access.
type EventMonitor struct {
	handler        model.EventHandler
	conversationID string
	collectionID   string
	operation      model.OperationType
	clock          Clock
	log            *logger.Logger

	completed []model.OperationEvent
	failed    []model.OperationEvent
}

// NewEventMonitor creates a monitor for the conversation described by cctx.
// A nil handler discards events after logging them.
func NewEventMonitor(cctx Context, clock Clock, log *logger.Logger) *EventMonitor {
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &EventMonitor{
		handler:        cctx.Handler,
		conversationID: cctx.ConversationID,
		collectionID:   cctx.CollectionID,
		operation:      cctx.Operation,
		clock:          clock,
		log:            log,
	}
}

// Emit stamps ev with the conversation identity and delivers it.
func (m *EventMonitor) Emit(ev model.OperationEvent) {
	ev.ConversationID = m.conversationID
	ev.CollectionID = m.collectionID
	ev.Operation = m.operation
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = m.clock.Now()
	}
	if ev.Err != nil && ev.Cause == "" {
		ev.Cause = ev.Err.Error()
	}

	fields := []zap.Field{zap.String("event", string(ev.Type))}
	if ev.ContributorID != "" {
		fields = append(fields, zap.String("contributor_id", ev.ContributorID))
	}
	if ev.Info != "" {
		fields = append(fields, zap.String("info", ev.Info))
	}
	if ev.ResponseCode != "" {
		fields = append(fields, zap.String("response_code", string(ev.ResponseCode)))
	}
	if ev.Err != nil {
		fields = append(fields, zap.Error(ev.Err))
	}

	switch ev.Type {
	case model.EventComponentComplete:
		m.completed = append(m.completed, ev)
		m.log.Debug("operation event", fields...)
	case model.EventComponentFailed, model.EventWarning, model.EventIdentifyTimeout:
		if ev.Type == model.EventComponentFailed {
			m.failed = append(m.failed, ev)
		}
		m.log.Warn("operation event", fields...)
	case model.EventComplete, model.EventFailed:
		m.log.Info("operation event", fields...)
	default:
		m.log.Debug("operation event", fields...)
	}

	if ev.ContributorID != "" {
		metrics.ContributorEvents.WithLabelValues(string(m.operation), string(ev.Type)).Inc()
	}

	if m.handler != nil {
		m.handler.HandleEvent(ev)
	}
}

// IdentifyRequestSent reports the identify broadcast.
func (m *EventMonitor) IdentifyRequestSent(info string) {
	m.Emit(model.OperationEvent{Type: model.EventIdentifyRequestSent, Info: info})
}

// ComponentIdentified reports an identify response that was accepted.
func (m *EventMonitor) ComponentIdentified(contributorID, info string, code model.ResponseCode) {
	m.Emit(model.OperationEvent{
		Type:          model.EventComponentIdentified,
		ContributorID: contributorID,
		Info:          info,
		ResponseCode:  code,
	})
}

// IdentifyTimeout reports that identification ended by deadline.
func (m *EventMonitor) IdentifyTimeout(info string) {
	m.Emit(model.OperationEvent{Type: model.EventIdentifyTimeout, Info: info})
}

// IdentificationComplete reports the contributors selected for the operation.
func (m *EventMonitor) IdentificationComplete(info string, contributors []string) {
	m.Emit(model.OperationEvent{
		Type:         model.EventIdentificationComplete,
		Info:         info,
		Contributors: contributors,
	})
}

// RequestSent reports an operation request sent to one contributor.
func (m *EventMonitor) RequestSent(contributorID, info string) {
	m.Emit(model.OperationEvent{Type: model.EventRequestSent, ContributorID: contributorID, Info: info})
}

// Progress reports a progress response.
func (m *EventMonitor) Progress(contributorID, info string) {
	m.Emit(model.OperationEvent{Type: model.EventProgress, ContributorID: contributorID, Info: info})
}

// Warning reports something odd that does not change the outcome.
func (m *EventMonitor) Warning(contributorID, info string, err error) {
	m.Emit(model.OperationEvent{Type: model.EventWarning, ContributorID: contributorID, Info: info, Err: err})
}

// ComponentComplete reports a contributor that finished successfully.
func (m *EventMonitor) ComponentComplete(contributorID, info string, result json.RawMessage) {
	m.Emit(model.OperationEvent{
		Type:          model.EventComponentComplete,
		ContributorID: contributorID,
		Info:          info,
		ResponseCode:  model.ResponseOperationCompleted,
		Result:        result,
	})
}

// ComponentFailed reports a contributor that will not contribute to the result.
func (m *EventMonitor) ComponentFailed(contributorID, info string, code model.ResponseCode, err error) {
	m.Emit(model.OperationEvent{
		Type:          model.EventComponentFailed,
		ContributorID: contributorID,
		Info:          info,
		ResponseCode:  code,
		Err:           err,
	})
}

// Complete reports the successful end of the operation.
func (m *EventMonitor) Complete(info string) {
	m.Emit(model.OperationEvent{Type: model.EventComplete, Info: info})
}

// Failed reports the failure of the operation.
func (m *EventMonitor) Failed(info string, err error) {
	m.Emit(model.OperationEvent{Type: model.EventFailed, Info: info, Err: err})
}

// Completed returns the COMPONENT_COMPLETE events seen so far.
func (m *EventMonitor) Completed() []model.OperationEvent {
	return append([]model.OperationEvent(nil), m.completed...)
}

// FailedComponents returns the COMPONENT_FAILED events seen so far.
func (m *EventMonitor) FailedComponents() []model.OperationEvent {
	return append([]model.OperationEvent(nil), m.failed...)
}
