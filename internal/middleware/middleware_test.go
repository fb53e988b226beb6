package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/bitrepository/reference-sub015/internal/model"
	"github.com/bitrepository/reference-sub015/pkg/logger"
)

const secret = "test-secret"

func TestAuth(t *testing.T) {
	var gotClient, gotSubject string
	var canModify bool
	h := Auth(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClient = GetClientID(r.Context())
		gotSubject = GetSubject(r.Context())
		canModify = HasScope(r.Context(), ScopeModify)
	}))

	token, err := IssueToken(secret, "alice", "ingest", []string{ScopeRead, ScopeModify}, time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ingest", gotClient)
	assert.Equal(t, "alice", gotSubject)
	assert.True(t, canModify)

	expired, err := IssueToken(secret, "alice", "ingest", nil, -time.Minute)
	require.NoError(t, err)
	wrongKey, err := IssueToken("other", "alice", "ingest", nil, time.Minute)
	require.NoError(t, err)

	for name, header := range map[string]string{
		"missing":   "",
		"malformed": "Token abc",
		"expired":   "Bearer " + expired,
		"wrong key": "Bearer " + wrongKey,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestRequireScope(t *testing.T) {
	h := Auth(secret)(RequireScope(ScopeModify)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	readOnly, err := IssueToken(secret, "bob", "audit", []string{ScopeRead}, time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+readOnly)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	writer, err := IssueToken(secret, "bob", "audit", []string{ScopeModify}, time.Minute)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+writer)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	var seen string
	h := Logging(logger.FromZap(zap.New(core)))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/operations", nil)
	req.Header.Set("X-Correlation-ID", "corr-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "corr-1", seen)
	assert.Equal(t, "corr-1", rec.Header().Get("X-Correlation-ID"))
	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(http.StatusAccepted), entries[0].ContextMap()["status"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}

func TestLoggingNamesAuthenticatedCaller(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := Logging(logger.FromZap(zap.New(core)))(Auth(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	token, err := IssueToken(secret, "alice", "ingest", []string{ScopeRead}, time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/operations", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(httptest.NewRecorder(), req)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/operations", nil))

	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "ingest", entries[0].ContextMap()["client_id"])
	assert.Equal(t, "alice", entries[0].ContextMap()["subject"])
	assert.Equal(t, "", entries[1].ContextMap()["client_id"])
	assert.Equal(t, int64(http.StatusUnauthorized), entries[1].ContextMap()["status"])
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestValidation(t *testing.T) {
	assert.NoError(t, ValidateConversationID("01890a5d-ac96-774b-bcce-b302099a8057"))
	assert.Error(t, ValidateConversationID("not-a-uuid"))

	assert.NoError(t, ValidateCollectionID("books"))
	for _, bad := range []string{"", "a b", "a.b", "a*", string(make([]byte, 65))} {
		assert.Error(t, ValidateCollectionID(bad), bad)
	}

	assert.NoError(t, ValidateStartRequest(model.OperationGetStatus, &model.StartOperationRequest{}))
	assert.Error(t, ValidateStartRequest(model.OperationDeleteFile, &model.StartOperationRequest{}))
	assert.NoError(t, ValidateStartRequest(model.OperationDeleteFile, &model.StartOperationRequest{FileID: "f1"}))
	assert.Error(t, ValidateStartRequest(model.OperationGetStatus, &model.StartOperationRequest{Contributors: []string{" "}}))
	assert.Error(t, ValidateStartRequest(model.OperationGetFileIDs, &model.StartOperationRequest{FileID: "\xff"}))
}
