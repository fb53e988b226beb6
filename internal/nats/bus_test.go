package nats

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitrepository/reference-sub015/internal/model"
)

func TestSubject(t *testing.T) {
	subject, err := Subject("collection.books")
	require.NoError(t, err)
	assert.Equal(t, "bitrepo.collection.books", subject)

	for _, bad := range []string{"", "a b", "pillar.*", "pillar.>"} {
		_, err := Subject(bad)
		assert.Error(t, err, bad)
	}
}

func TestAlarmSubjects(t *testing.T) {
	assert.Equal(t, "alarms.books.get_file_ids", AlarmSubject("books", model.OperationGetFileIDs))
	assert.Equal(t, "alarms.books.>", AlarmFilter("books"))
	assert.Equal(t, "alarms.>", AlarmFilter(""))
}

func TestMessageCodec(t *testing.T) {
	ttd := 3 * time.Second
	in := &model.Message{
		ID:            "m1",
		Kind:          model.KindIdentifyResponse,
		Operation:     model.OperationGetFile,
		CorrelationID: "c1",
		ContributorID: "p1",
		ReplyTo:       "pillar.p1",
		ResponseInfo:  &model.ResponseInfo{Code: model.ResponseIdentificationPositive},
		TimeToDeliver: &ttd,
		Payload:       json.RawMessage(`{"url":"x"}`),
		CreatedAt:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	data, err := encodeMessage(in)
	require.NoError(t, err)
	out, err := decodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decodeMessage([]byte(`{"id":"m2"}`))
	assert.Error(t, err)
	_, err = decodeMessage([]byte(`not json`))
	assert.Error(t, err)
}
