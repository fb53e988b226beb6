package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewContributorQuery(t *testing.T) {
	from := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := NewContributorQuery("p1", &from, &to, nil)
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = NewContributorQuery("", nil, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidQuery)

	negative := -1
	_, err = NewContributorQuery("p1", nil, nil, &negative)
	assert.ErrorIs(t, err, ErrInvalidQuery)

	limit := 100
	q, err := NewContributorQuery("p1", &to, &from, &limit)
	require.NoError(t, err)
	assert.Equal(t, "p1", q.ContributorID)
	assert.Equal(t, 100, *q.MaxResults)

	same, err := NewContributorQuery("p2", &from, &from, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, ContributorIDs([]ContributorQuery{q, same}))
}

func TestOperationTypeKey(t *testing.T) {
	tests := map[OperationType]string{
		OperationGetFile:        "get_file",
		OperationGetFileIDs:     "get_file_ids",
		OperationGetChecksums:   "get_checksums",
		OperationGetAuditTrails: "get_audit_trails",
		OperationReplaceFile:    "replace_file",
	}
	for op, want := range tests {
		assert.Equal(t, want, op.Key())
	}
}

func TestParseOperationType(t *testing.T) {
	for _, op := range OperationTypes {
		got, err := ParseOperationType(op.Key())
		require.NoError(t, err)
		assert.Equal(t, op, got)

		got, err = ParseOperationType(string(op))
		require.NoError(t, err)
		assert.Equal(t, op, got)
	}

	got, err := ParseOperationType("get-file-ids")
	require.NoError(t, err)
	assert.Equal(t, OperationGetFileIDs, got)

	_, err = ParseOperationType("format_disk")
	assert.Error(t, err)
}

func TestComponentDestinationEquality(t *testing.T) {
	a := ComponentDestination{ContributorID: "p1", Destination: "d1"}
	assert.True(t, a == ComponentDestination{ContributorID: "p1", Destination: "d1"})
	assert.False(t, a == ComponentDestination{ContributorID: "p1", Destination: "d2"})
	assert.Equal(t, "p1@d1", a.String())
}

func TestMessagePayload(t *testing.T) {
	raw, err := EncodePayload(GetFileRequest{URL: "https://example.org/f"})
	require.NoError(t, err)

	msg := &Message{ID: "m1", Payload: raw}
	var req GetFileRequest
	require.NoError(t, msg.DecodePayload(&req))
	assert.Equal(t, "https://example.org/f", req.URL)

	assert.Error(t, (&Message{ID: "m2"}).DecodePayload(&req))
	assert.Equal(t, ResponseCode(""), (&Message{}).ResponseCode())
	assert.True(t, ResponseOperationProgress.IsProgress())
	assert.False(t, ResponseOperationCompleted.IsProgress())
}
