package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitrepository/reference-sub015/internal/config"
	"github.com/bitrepository/reference-sub015/internal/middleware"
	"github.com/bitrepository/reference-sub015/internal/model"
)

const testSettings = `
[client]
identification_timeout = "2s"
operation_timeout = "5s"

[collections.books]
destination = "collection.books"
contributors = ["pillar-a", "pillar-b"]

[collections.photos]
destination = "collection.photos"
contributors = ["pillar-b"]
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bitrepo.toml")
	require.NoError(t, os.WriteFile(path, []byte(testSettings), 0o600))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--settings", path, "--log-level", "error"}, args...))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestGetStatusCommand(t *testing.T) {
	out, err := execute(t, "--local", "get-status", "books")
	require.NoError(t, err)

	var res resultOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, model.StatusComplete, res.Status)
	assert.Equal(t, model.OperationGetStatus, res.Operation)
	assert.ElementsMatch(t, []string{"pillar-a", "pillar-b"}, res.Completed)
	assert.Contains(t, res.Results, "pillar-a")
}

func TestPutFileCommand(t *testing.T) {
	out, err := execute(t, "--local", "put-file", "photos", "cat.jpg",
		"--url", "https://upload.example.org/cat.jpg", "--checksum", "c0ffee", "--size", "42")
	require.NoError(t, err)

	var res resultOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, model.StatusComplete, res.Status)
	assert.Equal(t, []string{"pillar-b"}, res.Completed)
}

func TestOperationCommandErrors(t *testing.T) {
	_, err := execute(t, "--local", "get-status", "maps")
	assert.ErrorIs(t, err, config.ErrUnknownCollection)

	_, err = execute(t, "--local", "put-file", "books", "f")
	assert.Error(t, err)

	_, err = execute(t, "--local", "get-file-ids", "books", "--max-results", "3")
	assert.ErrorContains(t, err, "--contributor")

	_, err = execute(t, "--local", "pillar")
	assert.ErrorContains(t, err, "--local")

	_, err = execute(t, "--local", "alarms")
	assert.ErrorContains(t, err, "--local")
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")

	out, err := execute(t, "--client-id", "ingest", "token", "--scope", "operations:read,operations:modify", "--ttl", "1m")
	require.NoError(t, err)

	claims, err := middleware.ParseToken("cli-secret", strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "operator", claims.Subject)
	assert.Equal(t, "ingest", claims.ClientID)
	assert.Equal(t, []string{middleware.ScopeRead, middleware.ScopeModify}, claims.Scopes)
}

func TestQueryFlags(t *testing.T) {
	q := queryFlags{
		contributors: []string{"pillar-a", "pillar-b"},
		minTimestamp: "2024-05-01T00:00:00Z",
		maxResults:   10,
	}
	queries, err := q.queries()
	require.NoError(t, err)
	require.Len(t, queries, 2)
	assert.Equal(t, "pillar-b", queries[1].ContributorID)
	require.NotNil(t, queries[0].MinTimestamp)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), *queries[0].MinTimestamp)
	assert.Nil(t, queries[0].MaxTimestamp)
	assert.Equal(t, 10, *queries[0].MaxResults)

	none, err := (&queryFlags{}).queries()
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = (&queryFlags{contributors: []string{"a"}, maxTimestamp: "yesterday"}).queries()
	assert.ErrorContains(t, err, "--max-timestamp")

	_, err = (&queryFlags{
		contributors: []string{"a"},
		minTimestamp: "2024-05-02T00:00:00Z",
		maxTimestamp: "2024-05-01T00:00:00Z",
	}).queries()
	assert.ErrorIs(t, err, model.ErrInvalidQuery)
}

func TestSelectPillars(t *testing.T) {
	settings := &config.Settings{
		Collections: map[string]config.CollectionSettings{
			"books":  {Destination: "collection.books", Contributors: []string{"pillar-a", "pillar-b"}},
			"photos": {Destination: "collection.photos", Contributors: []string{"pillar-b"}},
		},
	}

	all, err := selectPillars(settings, nil, nil)
	require.NoError(t, err)
	assert.Len(t, all.Collections, 2)

	onlyA, err := selectPillars(settings, nil, []string{"pillar-a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"books"}, onlyA.CollectionIDs())
	assert.Equal(t, []string{"pillar-a"}, onlyA.Collections["books"].Contributors)
	assert.Equal(t, []string{"pillar-a", "pillar-b"}, settings.Collections["books"].Contributors)

	_, err = selectPillars(settings, []string{"maps"}, nil)
	assert.ErrorIs(t, err, config.ErrUnknownCollection)

	_, err = selectPillars(settings, []string{"photos"}, []string{"pillar-a"})
	assert.Error(t, err)
}
