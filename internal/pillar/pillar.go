// Package pillar implements a simulated contributor. It keeps its files in
// memory and answers identify and operation requests the way a storage
// pillar of a collection would, which makes it useful for demos and for
// exercising clients end to end.
package pillar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bitrepository/reference-sub015/internal/bus"
	"github.com/bitrepository/reference-sub015/internal/conversation"
	"github.com/bitrepository/reference-sub015/internal/model"
	"github.com/bitrepository/reference-sub015/pkg/logger"
)

// Config describes one simulated pillar.
type Config struct {
	ID                    string
	CollectionID          string
	CollectionDestination string

	// Destination is where operation requests for this pillar are sent.
	// Defaults to "pillar.<ID>".
	Destination string

	// TimeToDeliver is reported on positive GetFile identify responses.
	TimeToDeliver time.Duration

	// Checksum pillars hold checksums but not file content, and refuse GetFile.
	ChecksumOnly bool
}

// Behaviour lets tests and demos make a pillar misbehave.
type Behaviour struct {
	// IgnoreIdentify makes the pillar stay silent on identify requests.
	IgnoreIdentify bool
	// IgnoreOperation makes the pillar stay silent on operation requests.
	IgnoreOperation bool
	// IdentifyCode overrides the code of every identify response.
	IdentifyCode model.ResponseCode
	// FinalCode overrides the code of every final response.
	FinalCode model.ResponseCode
	// Progress makes the pillar send an accepted-progress response first.
	Progress bool
}

type storedFile struct {
	checksum model.ChecksumData
	url      string
	storedAt time.Time
}

// Pillar is an in-memory contributor.
type Pillar struct {
	cfg       Config
	transport bus.Transport
	clock     conversation.Clock
	log       *logger.Logger

	mu        sync.Mutex
	files     map[string]storedFile
	audit     []model.AuditTrailEvent
	behaviour Behaviour
	subs      []bus.Subscription
}

// Option configures a Pillar.
type Option func(*Pillar)

// WithClock replaces the clock used to timestamp files and audit events.
func WithClock(clock conversation.Clock) Option {
	return func(p *Pillar) {
		p.clock = clock
	}
}

// New creates a pillar. It does not receive anything until Start is called.
func New(cfg Config, transport bus.Transport, log *logger.Logger, opts ...Option) (*Pillar, error) {
	if cfg.ID == "" {
		return nil, errors.New("pillar id is required")
	}
	if cfg.CollectionDestination == "" {
		return nil, errors.New("collection destination is required")
	}
	if cfg.Destination == "" {
		cfg.Destination = "pillar." + cfg.ID
	}
	if log == nil {
		log = logger.Global()
	}

	p := &Pillar{
		cfg:       cfg,
		transport: transport,
		clock:     conversation.SystemClock{},
		log:       log.Named("pillar").With(zap.String("pillar_id", cfg.ID)),
		files:     make(map[string]storedFile),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// ID returns the contributor id of the pillar.
func (p *Pillar) ID() string {
	return p.cfg.ID
}

// Destination returns the pillar's own destination.
func (p *Pillar) Destination() string {
	return p.cfg.Destination
}

// Start subscribes to the collection destination and the pillar's own destination.
func (p *Pillar) Start() error {
	collectionSub, err := p.transport.Subscribe(p.cfg.CollectionDestination, p.handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", p.cfg.CollectionDestination, err)
	}
	ownSub, err := p.transport.Subscribe(p.cfg.Destination, p.handle)
	if err != nil {
		_ = collectionSub.Unsubscribe()
		return fmt.Errorf("failed to subscribe to %s: %w", p.cfg.Destination, err)
	}

	p.mu.Lock()
	p.subs = append(p.subs, collectionSub, ownSub)
	p.mu.Unlock()

	p.log.Info("pillar started",
		zap.String("collection_destination", p.cfg.CollectionDestination),
		zap.String("destination", p.cfg.Destination),
	)
	return nil
}

// Stop cancels the pillar's subscriptions.
func (p *Pillar) Stop() error {
	p.mu.Lock()
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SetBehaviour replaces the pillar's behaviour.
func (p *Pillar) SetBehaviour(b Behaviour) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.behaviour = b
}

// AddFile stores a file directly, bypassing the protocol.
func (p *Pillar) AddFile(fileID, checksum string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clock.Now()
	p.files[fileID] = storedFile{
		checksum: model.ChecksumData{FileID: fileID, Value: checksum, CalculatedAt: now},
		storedAt: now,
	}
}

// HasFile reports whether the pillar holds fileID.
func (p *Pillar) HasFile(fileID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.files[fileID]
	return ok
}

// FileIDs returns the ids of the stored files in sorted order.
func (p *Pillar) FileIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sortedFileIDs()
}

func (p *Pillar) handle(msg *model.Message) {
	if msg.CollectionID != "" && p.cfg.CollectionID != "" && msg.CollectionID != p.cfg.CollectionID {
		return
	}

	switch msg.Kind {
	case model.KindIdentifyRequest:
		p.identify(msg)
	case model.KindOperationRequest:
		if msg.ContributorID != "" && msg.ContributorID != p.cfg.ID {
			return
		}
		p.perform(msg)
	default:
		p.log.Debug("ignoring message", zap.String("kind", string(msg.Kind)))
	}
}

func (p *Pillar) identify(msg *model.Message) {
	p.mu.Lock()
	behaviour := p.behaviour
	code, text := p.identifyCode(msg)
	p.mu.Unlock()

	if behaviour.IgnoreIdentify || code == "" {
		return
	}
	if behaviour.IdentifyCode != "" {
		code = behaviour.IdentifyCode
	}

	resp := p.response(msg, model.KindIdentifyResponse, code, text)
	if msg.Operation == model.OperationGetFile && code == model.ResponseIdentificationPositive {
		ttd := p.cfg.TimeToDeliver
		resp.TimeToDeliver = &ttd
	}
	p.reply(resp)
}

// identifyCode decides how to answer an identify request. An empty code
// means the request is not addressed to this pillar.
func (p *Pillar) identifyCode(msg *model.Message) (model.ResponseCode, string) {
	if queries, ok := queriesOf(msg); ok && len(queries) > 0 {
		if _, mine := p.queryFor(queries); !mine {
			return "", ""
		}
	}

	_, exists := p.files[msg.FileID]
	switch msg.Operation {
	case model.OperationGetFile:
		if p.cfg.ChecksumOnly {
			return model.ResponseRequestNotSupported, "checksum pillar holds no file content"
		}
		if !exists {
			return model.ResponseFileNotFoundFailure, "file " + msg.FileID + " not found"
		}
	case model.OperationDeleteFile, model.OperationReplaceFile:
		if !exists {
			return model.ResponseFileNotFoundFailure, "file " + msg.FileID + " not found"
		}
	case model.OperationPutFile:
		if exists {
			return model.ResponseDuplicateFileFailure, "file " + msg.FileID + " already exists"
		}
	case model.OperationGetChecksums:
		if msg.FileID != "" && !exists {
			return model.ResponseFileNotFoundFailure, "file " + msg.FileID + " not found"
		}
	}
	return model.ResponseIdentificationPositive, ""
}

func (p *Pillar) perform(msg *model.Message) {
	p.mu.Lock()
	behaviour := p.behaviour
	p.mu.Unlock()

	if behaviour.IgnoreOperation {
		return
	}
	if behaviour.Progress {
		p.reply(p.response(msg, model.KindProgressResponse, model.ResponseOperationAcceptedProgress, "request accepted"))
	}

	result, code, text := p.execute(msg)
	if behaviour.FinalCode != "" {
		code = behaviour.FinalCode
	}

	resp := p.response(msg, model.KindFinalResponse, code, text)
	if code == model.ResponseOperationCompleted && result != nil {
		payload, err := model.EncodePayload(result)
		if err != nil {
			p.log.Error("failed to encode result", zap.Error(err))
			resp.ResponseInfo = &model.ResponseInfo{Code: model.ResponseFailure, Text: err.Error()}
		} else {
			resp.Payload = payload
		}
	}
	p.reply(resp)
}

func (p *Pillar) execute(msg *model.Message) (any, model.ResponseCode, string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch msg.Operation {
	case model.OperationGetFile:
		return p.getFile(msg)
	case model.OperationGetFileIDs:
		return p.getFileIDs(msg)
	case model.OperationGetChecksums:
		return p.getChecksums(msg)
	case model.OperationGetStatus:
		return &model.StatusResult{
			Status:    "OK",
			Info:      fmt.Sprintf("%d files stored", len(p.files)),
			Timestamp: p.clock.Now(),
		}, model.ResponseOperationCompleted, ""
	case model.OperationGetAuditTrails:
		return p.getAuditTrails(msg)
	case model.OperationPutFile:
		return p.putFile(msg)
	case model.OperationDeleteFile:
		return p.deleteFile(msg)
	case model.OperationReplaceFile:
		return p.replaceFile(msg)
	}
	return nil, model.ResponseRequestNotSupported, "unsupported operation " + string(msg.Operation)
}

func (p *Pillar) getFile(msg *model.Message) (any, model.ResponseCode, string) {
	var req model.GetFileRequest
	if err := decodeOptional(msg, &req); err != nil {
		return nil, model.ResponseRequestNotUnderstood, err.Error()
	}
	f, ok := p.files[msg.FileID]
	if !ok {
		return nil, model.ResponseFileNotFoundFailure, "file " + msg.FileID + " not found"
	}
	if req.URL == "" {
		return nil, model.ResponseFileTransferFailure, "no delivery url"
	}
	checksum := f.checksum
	return &model.FileResult{URL: req.URL, Checksum: &checksum}, model.ResponseOperationCompleted, ""
}

func (p *Pillar) getFileIDs(msg *model.Message) (any, model.ResponseCode, string) {
	var req model.GetFileIDsRequest
	if err := decodeOptional(msg, &req); err != nil {
		return nil, model.ResponseRequestNotUnderstood, err.Error()
	}
	query, _ := p.queryFor(req.Queries)

	result := &model.FileIDsResult{FileIDs: []string{}}
	for _, id := range p.sortedFileIDs() {
		if msg.FileID != "" && id != msg.FileID {
			continue
		}
		if !inWindow(query, p.files[id].storedAt) {
			continue
		}
		if query.MaxResults != nil && len(result.FileIDs) >= *query.MaxResults {
			result.Partial = true
			break
		}
		result.FileIDs = append(result.FileIDs, id)
	}
	return result, model.ResponseOperationCompleted, ""
}

func (p *Pillar) getChecksums(msg *model.Message) (any, model.ResponseCode, string) {
	var req model.GetChecksumsRequest
	if err := decodeOptional(msg, &req); err != nil {
		return nil, model.ResponseRequestNotUnderstood, err.Error()
	}
	if req.ChecksumSpec.Salt != "" {
		return nil, model.ResponseRequestNotSupported, "salted checksums are not supported"
	}
	query, _ := p.queryFor(req.Queries)

	result := &model.ChecksumResult{Checksums: []model.ChecksumData{}}
	for _, id := range p.sortedFileIDs() {
		if msg.FileID != "" && id != msg.FileID {
			continue
		}
		f := p.files[id]
		if !inWindow(query, f.checksum.CalculatedAt) {
			continue
		}
		if query.MaxResults != nil && len(result.Checksums) >= *query.MaxResults {
			result.Partial = true
			break
		}
		result.Checksums = append(result.Checksums, f.checksum)
	}
	return result, model.ResponseOperationCompleted, ""
}

func (p *Pillar) getAuditTrails(msg *model.Message) (any, model.ResponseCode, string) {
	var req model.GetAuditTrailsRequest
	if err := decodeOptional(msg, &req); err != nil {
		return nil, model.ResponseRequestNotUnderstood, err.Error()
	}
	query, _ := p.queryFor(req.Queries)

	result := &model.AuditTrailResult{Events: []model.AuditTrailEvent{}}
	for _, ev := range p.audit {
		if msg.FileID != "" && ev.FileID != msg.FileID {
			continue
		}
		if !inWindow(query, ev.Timestamp) {
			continue
		}
		if query.MaxResults != nil && len(result.Events) >= *query.MaxResults {
			result.Partial = true
			break
		}
		result.Events = append(result.Events, ev)
	}
	return result, model.ResponseOperationCompleted, ""
}

func (p *Pillar) putFile(msg *model.Message) (any, model.ResponseCode, string) {
	var req model.PutFileRequest
	if err := decodeOptional(msg, &req); err != nil {
		return nil, model.ResponseRequestNotUnderstood, err.Error()
	}
	if _, exists := p.files[msg.FileID]; exists {
		return nil, model.ResponseDuplicateFileFailure, "file " + msg.FileID + " already exists"
	}
	if req.URL == "" && !p.cfg.ChecksumOnly {
		return nil, model.ResponseFileTransferFailure, "no upload url"
	}
	if req.ChecksumForNew == nil || req.ChecksumForNew.Value == "" {
		return nil, model.ResponseNewFileChecksumFailure, "missing checksum for new file"
	}

	p.store(msg, req.URL, req.ChecksumForNew.Value, "put")
	return p.fileResult(msg.FileID, req.ChecksumRequest != nil), model.ResponseOperationCompleted, ""
}

func (p *Pillar) deleteFile(msg *model.Message) (any, model.ResponseCode, string) {
	var req model.DeleteFileRequest
	if err := decodeOptional(msg, &req); err != nil {
		return nil, model.ResponseRequestNotUnderstood, err.Error()
	}
	f, exists := p.files[msg.FileID]
	if !exists {
		return nil, model.ResponseFileNotFoundFailure, "file " + msg.FileID + " not found"
	}
	if req.ChecksumForExisting != nil && req.ChecksumForExisting.Value != f.checksum.Value {
		return nil, model.ResponseExistingFileChecksumFailure, "checksum of existing file does not match"
	}

	checksum := f.checksum
	delete(p.files, msg.FileID)
	p.record(msg, "delete")
	return &model.FileResult{Checksum: &checksum}, model.ResponseOperationCompleted, ""
}

func (p *Pillar) replaceFile(msg *model.Message) (any, model.ResponseCode, string) {
	var req model.ReplaceFileRequest
	if err := decodeOptional(msg, &req); err != nil {
		return nil, model.ResponseRequestNotUnderstood, err.Error()
	}
	f, exists := p.files[msg.FileID]
	if !exists {
		return nil, model.ResponseFileNotFoundFailure, "file " + msg.FileID + " not found"
	}
	if req.ChecksumForExisting != nil && req.ChecksumForExisting.Value != f.checksum.Value {
		return nil, model.ResponseExistingFileChecksumFailure, "checksum of existing file does not match"
	}
	if req.ChecksumForNew == nil || req.ChecksumForNew.Value == "" {
		return nil, model.ResponseNewFileChecksumFailure, "missing checksum for new file"
	}

	p.store(msg, req.URL, req.ChecksumForNew.Value, "replace")
	return p.fileResult(msg.FileID, true), model.ResponseOperationCompleted, ""
}

func (p *Pillar) store(msg *model.Message, url, checksum, action string) {
	now := p.clock.Now()
	p.files[msg.FileID] = storedFile{
		checksum: model.ChecksumData{FileID: msg.FileID, Value: checksum, CalculatedAt: now},
		url:      url,
		storedAt: now,
	}
	p.record(msg, action)
}

func (p *Pillar) record(msg *model.Message, action string) {
	p.audit = append(p.audit, model.AuditTrailEvent{
		SequenceNumber: int64(len(p.audit) + 1),
		FileID:         msg.FileID,
		Actor:          msg.From,
		Action:         action,
		Info:           msg.AuditTrailInformation,
		Timestamp:      p.clock.Now(),
	})
}

func (p *Pillar) fileResult(fileID string, withChecksum bool) *model.FileResult {
	result := &model.FileResult{URL: p.files[fileID].url}
	if withChecksum {
		checksum := p.files[fileID].checksum
		result.Checksum = &checksum
	}
	return result
}

func (p *Pillar) sortedFileIDs() []string {
	ids := make([]string, 0, len(p.files))
	for id := range p.files {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// queryFor returns the query addressed to this pillar. Without queries every
// pillar is addressed with an unrestricted query.
func (p *Pillar) queryFor(queries []model.ContributorQuery) (model.ContributorQuery, bool) {
	if len(queries) == 0 {
		return model.ContributorQuery{ContributorID: p.cfg.ID}, true
	}
	for _, q := range queries {
		if q.ContributorID == p.cfg.ID {
			return q, true
		}
	}
	return model.ContributorQuery{}, false
}

func (p *Pillar) response(req *model.Message, kind model.MessageKind, code model.ResponseCode, text string) *model.Message {
	return &model.Message{
		ID:            uuid.NewString(),
		Kind:          kind,
		Operation:     req.Operation,
		CorrelationID: req.CorrelationID,
		CollectionID:  req.CollectionID,
		From:          p.cfg.ID,
		To:            req.ReplyTo,
		ReplyTo:       p.cfg.Destination,
		ContributorID: p.cfg.ID,
		FileID:        req.FileID,
		ResponseInfo:  &model.ResponseInfo{Code: code, Text: text},
		CreatedAt:     p.clock.Now(),
	}
}

func (p *Pillar) reply(msg *model.Message) {
	if msg.To == "" {
		p.log.Warn("request has no reply destination", zap.String("correlation_id", msg.CorrelationID))
		return
	}
	if err := p.transport.Send(context.Background(), msg); err != nil {
		p.log.Warn("failed to send response",
			zap.String("correlation_id", msg.CorrelationID),
			zap.String("kind", string(msg.Kind)),
			zap.Error(err),
		)
	}
}

func queriesOf(msg *model.Message) ([]model.ContributorQuery, bool) {
	if len(msg.Payload) == 0 {
		return nil, false
	}
	var req struct {
		Queries []model.ContributorQuery `json:"queries"`
	}
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, false
	}
	return req.Queries, true
}

func decodeOptional(msg *model.Message, v any) error {
	if len(msg.Payload) == 0 {
		return nil
	}
	return msg.DecodePayload(v)
}

func inWindow(q model.ContributorQuery, t time.Time) bool {
	if q.MinTimestamp != nil && t.Before(*q.MinTimestamp) {
		return false
	}
	if q.MaxTimestamp != nil && t.After(*q.MaxTimestamp) {
		return false
	}
	return true
}
