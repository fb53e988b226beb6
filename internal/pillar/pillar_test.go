package pillar

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitrepository/reference-sub015/internal/bus"
	"github.com/bitrepository/reference-sub015/internal/model"
	"github.com/bitrepository/reference-sub015/internal/testutil"
	"github.com/bitrepository/reference-sub015/pkg/logger"
)

type fakeSubscription struct {
	t           *fakeTransport
	destination string
}

func (s *fakeSubscription) Unsubscribe() error {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	delete(s.t.handlers, s.destination)
	return nil
}

// fakeTransport records sent messages and lets tests deliver requests to
// subscribed handlers synchronously.
type fakeTransport struct {
	mu       sync.Mutex
	handlers map[string]bus.Handler
	sent     []*model.Message
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]bus.Handler)}
}

func (f *fakeTransport) Send(_ context.Context, msg *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) Subscribe(destination string, h bus.Handler) (bus.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[destination] = h
	return &fakeSubscription{t: f, destination: destination}, nil
}

func (f *fakeTransport) deliver(t *testing.T, msg *model.Message) {
	t.Helper()
	f.mu.Lock()
	h, ok := f.handlers[msg.To]
	f.mu.Unlock()
	require.True(t, ok, "nobody subscribed to %s", msg.To)
	h(msg)
}

// take returns and forgets the messages sent so far.
func (f *fakeTransport) take() []*model.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	sent := f.sent
	f.sent = nil
	return sent
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestPillar(t *testing.T, cfg Config) (*Pillar, *fakeTransport, *testutil.FakeClock) {
	t.Helper()
	if cfg.ID == "" {
		cfg.ID = "pillar-a"
	}
	cfg.CollectionID = "books"
	cfg.CollectionDestination = "collection.books"

	transport := newFakeTransport()
	clock := testutil.NewFakeClock(t0)
	p, err := New(cfg, transport, logger.NewNop(), WithClock(clock))
	require.NoError(t, err)
	require.NoError(t, p.Start())
	t.Cleanup(func() { _ = p.Stop() })
	return p, transport, clock
}

func identify(op model.OperationType, fileID string, payload any) *model.Message {
	msg := &model.Message{
		ID:            "req-1",
		Kind:          model.KindIdentifyRequest,
		Operation:     op,
		CorrelationID: "conv-1",
		CollectionID:  "books",
		From:          "client",
		To:            "collection.books",
		ReplyTo:       "client.replies",
		FileID:        fileID,
	}
	if payload != nil {
		msg.Payload, _ = model.EncodePayload(payload)
	}
	return msg
}

func operation(op model.OperationType, fileID string, payload any) *model.Message {
	msg := identify(op, fileID, payload)
	msg.ID = "req-2"
	msg.Kind = model.KindOperationRequest
	msg.To = "pillar.pillar-a"
	msg.ContributorID = "pillar-a"
	msg.AuditTrailInformation = "test run"
	return msg
}

func TestNew(t *testing.T) {
	_, err := New(Config{CollectionDestination: "collection.books"}, newFakeTransport(), nil)
	assert.Error(t, err)
	_, err = New(Config{ID: "p"}, newFakeTransport(), nil)
	assert.Error(t, err)

	p, err := New(Config{ID: "p", CollectionDestination: "collection.books"}, newFakeTransport(), nil)
	require.NoError(t, err)
	assert.Equal(t, "pillar.p", p.Destination())
	assert.Equal(t, "p", p.ID())
}

func TestIdentify(t *testing.T) {
	p, transport, _ := newTestPillar(t, Config{TimeToDeliver: 3 * time.Second})

	transport.deliver(t, identify(model.OperationGetFile, "file-1", nil))
	sent := transport.take()
	require.Len(t, sent, 1)
	assert.Equal(t, model.KindIdentifyResponse, sent[0].Kind)
	assert.Equal(t, model.ResponseFileNotFoundFailure, sent[0].ResponseCode())
	assert.Equal(t, "client.replies", sent[0].To)
	assert.Equal(t, "pillar.pillar-a", sent[0].ReplyTo)
	assert.Equal(t, "pillar-a", sent[0].ContributorID)
	assert.Equal(t, "conv-1", sent[0].CorrelationID)

	p.AddFile("file-1", "abc")
	transport.deliver(t, identify(model.OperationGetFile, "file-1", nil))
	sent = transport.take()
	require.Len(t, sent, 1)
	assert.Equal(t, model.ResponseIdentificationPositive, sent[0].ResponseCode())
	require.NotNil(t, sent[0].TimeToDeliver)
	assert.Equal(t, 3*time.Second, *sent[0].TimeToDeliver)

	transport.deliver(t, identify(model.OperationPutFile, "file-1", nil))
	assert.Equal(t, model.ResponseDuplicateFileFailure, transport.take()[0].ResponseCode())

	transport.deliver(t, identify(model.OperationGetStatus, "", nil))
	sent = transport.take()
	assert.Equal(t, model.ResponseIdentificationPositive, sent[0].ResponseCode())
	assert.Nil(t, sent[0].TimeToDeliver)
}

func TestIdentifyChecksumPillar(t *testing.T) {
	p, transport, _ := newTestPillar(t, Config{ChecksumOnly: true})
	p.AddFile("file-1", "abc")

	transport.deliver(t, identify(model.OperationGetFile, "file-1", nil))
	assert.Equal(t, model.ResponseRequestNotSupported, transport.take()[0].ResponseCode())
}

func TestIdentifyIgnoresOtherRecipients(t *testing.T) {
	_, transport, _ := newTestPillar(t, Config{})

	other := identify(model.OperationGetFileIDs, "", model.GetFileIDsRequest{
		Queries: []model.ContributorQuery{{ContributorID: "pillar-b"}},
	})
	transport.deliver(t, other)
	assert.Empty(t, transport.take())

	foreign := identify(model.OperationGetStatus, "", nil)
	foreign.CollectionID = "maps"
	transport.deliver(t, foreign)
	assert.Empty(t, transport.take())
}

func TestBehaviour(t *testing.T) {
	p, transport, _ := newTestPillar(t, Config{})

	p.SetBehaviour(Behaviour{IgnoreIdentify: true})
	transport.deliver(t, identify(model.OperationGetStatus, "", nil))
	assert.Empty(t, transport.take())

	p.SetBehaviour(Behaviour{IdentifyCode: model.ResponseFailure, Progress: true})
	transport.deliver(t, identify(model.OperationGetStatus, "", nil))
	assert.Equal(t, model.ResponseFailure, transport.take()[0].ResponseCode())

	transport.deliver(t, operation(model.OperationGetStatus, "", nil))
	sent := transport.take()
	require.Len(t, sent, 2)
	assert.Equal(t, model.KindProgressResponse, sent[0].Kind)
	assert.Equal(t, model.ResponseOperationAcceptedProgress, sent[0].ResponseCode())
	assert.Equal(t, model.KindFinalResponse, sent[1].Kind)
	assert.Equal(t, model.ResponseOperationCompleted, sent[1].ResponseCode())

	p.SetBehaviour(Behaviour{FinalCode: model.ResponseFailure})
	transport.deliver(t, operation(model.OperationGetStatus, "", nil))
	sent = transport.take()
	require.Len(t, sent, 1)
	assert.Equal(t, model.ResponseFailure, sent[0].ResponseCode())
	assert.Empty(t, sent[0].Payload)

	p.SetBehaviour(Behaviour{IgnoreOperation: true})
	transport.deliver(t, operation(model.OperationGetStatus, "", nil))
	assert.Empty(t, transport.take())
}

func TestPutReplaceDelete(t *testing.T) {
	p, transport, clock := newTestPillar(t, Config{})

	transport.deliver(t, operation(model.OperationPutFile, "file-1", model.PutFileRequest{URL: "https://upload/file-1"}))
	assert.Equal(t, model.ResponseNewFileChecksumFailure, transport.take()[0].ResponseCode())

	transport.deliver(t, operation(model.OperationPutFile, "file-1", model.PutFileRequest{
		URL:             "https://upload/file-1",
		ChecksumForNew:  &model.ChecksumData{Value: "abc"},
		ChecksumRequest: &model.ChecksumSpec{Algorithm: "MD5"},
	}))
	final := transport.take()[0]
	require.Equal(t, model.ResponseOperationCompleted, final.ResponseCode())
	var put model.FileResult
	require.NoError(t, final.DecodePayload(&put))
	require.NotNil(t, put.Checksum)
	assert.Equal(t, "abc", put.Checksum.Value)
	assert.True(t, p.HasFile("file-1"))

	transport.deliver(t, operation(model.OperationPutFile, "file-1", model.PutFileRequest{
		URL:            "https://upload/file-1",
		ChecksumForNew: &model.ChecksumData{Value: "abc"},
	}))
	assert.Equal(t, model.ResponseDuplicateFileFailure, transport.take()[0].ResponseCode())

	clock.Advance(time.Minute)
	transport.deliver(t, operation(model.OperationReplaceFile, "file-1", model.ReplaceFileRequest{
		URL:                 "https://upload/file-1v2",
		ChecksumForExisting: &model.ChecksumData{Value: "wrong"},
		ChecksumForNew:      &model.ChecksumData{Value: "def"},
	}))
	assert.Equal(t, model.ResponseExistingFileChecksumFailure, transport.take()[0].ResponseCode())

	transport.deliver(t, operation(model.OperationReplaceFile, "file-1", model.ReplaceFileRequest{
		URL:                 "https://upload/file-1v2",
		ChecksumForExisting: &model.ChecksumData{Value: "abc"},
		ChecksumForNew:      &model.ChecksumData{Value: "def"},
	}))
	assert.Equal(t, model.ResponseOperationCompleted, transport.take()[0].ResponseCode())

	transport.deliver(t, operation(model.OperationDeleteFile, "file-1", model.DeleteFileRequest{
		ChecksumForExisting: &model.ChecksumData{Value: "abc"},
	}))
	assert.Equal(t, model.ResponseExistingFileChecksumFailure, transport.take()[0].ResponseCode())
	assert.True(t, p.HasFile("file-1"))

	transport.deliver(t, operation(model.OperationDeleteFile, "file-1", model.DeleteFileRequest{
		ChecksumForExisting: &model.ChecksumData{Value: "def"},
	}))
	assert.Equal(t, model.ResponseOperationCompleted, transport.take()[0].ResponseCode())
	assert.False(t, p.HasFile("file-1"))

	transport.deliver(t, operation(model.OperationDeleteFile, "file-1", nil))
	assert.Equal(t, model.ResponseFileNotFoundFailure, transport.take()[0].ResponseCode())

	transport.deliver(t, operation(model.OperationGetAuditTrails, "file-1", nil))
	var trail model.AuditTrailResult
	require.NoError(t, transport.take()[0].DecodePayload(&trail))
	require.Len(t, trail.Events, 3)
	assert.Equal(t, []string{"put", "replace", "delete"}, []string{trail.Events[0].Action, trail.Events[1].Action, trail.Events[2].Action})
	assert.Equal(t, "client", trail.Events[0].Actor)
	assert.Equal(t, "test run", trail.Events[0].Info)
	assert.Equal(t, t0.Add(time.Minute), trail.Events[1].Timestamp)
}

func TestQueries(t *testing.T) {
	p, transport, clock := newTestPillar(t, Config{})
	for _, id := range []string{"a", "b", "c"} {
		p.AddFile(id, "sum-"+id)
		clock.Advance(time.Hour)
	}
	assert.Equal(t, []string{"a", "b", "c"}, p.FileIDs())

	one := 1
	transport.deliver(t, operation(model.OperationGetFileIDs, "", model.GetFileIDsRequest{
		Queries: []model.ContributorQuery{{ContributorID: "pillar-a", MaxResults: &one}},
	}))
	var ids model.FileIDsResult
	require.NoError(t, transport.take()[0].DecodePayload(&ids))
	assert.Equal(t, []string{"a"}, ids.FileIDs)
	assert.True(t, ids.Partial)

	from := t0.Add(30 * time.Minute)
	transport.deliver(t, operation(model.OperationGetChecksums, "", model.GetChecksumsRequest{
		ChecksumSpec: model.ChecksumSpec{Algorithm: "MD5"},
		Queries:      []model.ContributorQuery{{ContributorID: "pillar-a", MinTimestamp: &from}},
	}))
	var sums model.ChecksumResult
	require.NoError(t, transport.take()[0].DecodePayload(&sums))
	require.Len(t, sums.Checksums, 2)
	assert.Equal(t, "sum-b", sums.Checksums[0].Value)
	assert.False(t, sums.Partial)

	transport.deliver(t, operation(model.OperationGetChecksums, "c", model.GetChecksumsRequest{
		ChecksumSpec: model.ChecksumSpec{Algorithm: "MD5", Salt: "pepper"},
	}))
	assert.Equal(t, model.ResponseRequestNotSupported, transport.take()[0].ResponseCode())

	transport.deliver(t, operation(model.OperationGetFile, "b", model.GetFileRequest{URL: "https://deliver/b"}))
	var file model.FileResult
	require.NoError(t, transport.take()[0].DecodePayload(&file))
	assert.Equal(t, "https://deliver/b", file.URL)
	assert.Equal(t, "sum-b", file.Checksum.Value)

	transport.deliver(t, operation(model.OperationGetStatus, "", nil))
	var status model.StatusResult
	final := transport.take()[0]
	require.NoError(t, json.Unmarshal(final.Payload, &status))
	assert.Equal(t, "OK", status.Status)
	assert.Equal(t, "3 files stored", status.Info)
}

func TestOperationForOtherPillarIgnored(t *testing.T) {
	_, transport, _ := newTestPillar(t, Config{})
	msg := operation(model.OperationGetStatus, "", nil)
	msg.ContributorID = "pillar-b"
	transport.deliver(t, msg)
	assert.Empty(t, transport.take())
}
