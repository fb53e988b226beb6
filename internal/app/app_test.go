package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitrepository/reference-sub015/internal/config"
	"github.com/bitrepository/reference-sub015/internal/model"
	"github.com/bitrepository/reference-sub015/pkg/logger"
)

func testSettings() *config.Settings {
	return &config.Settings{
		Client: config.ClientSettings{
			IdentificationTimeout: 2 * time.Second,
			OperationTimeout:      5 * time.Second,
			CleanupInterval:       time.Minute,
		},
		Collections: map[string]config.CollectionSettings{
			"books":  {Destination: "collection.books", Contributors: []string{"p1", "p2"}},
			"photos": {Destination: "collection.photos", Contributors: []string{"p2"}},
		},
	}
}

func TestLocalRuntime(t *testing.T) {
	cfg := &config.Config{LocalBus: true, ClientID: "cli", ReceiverDestination: "client.cli"}
	rt, err := New(context.Background(), cfg, testSettings(), logger.NewNop())
	require.NoError(t, err)
	defer rt.Close()

	assert.Nil(t, rt.NATS)
	assert.Nil(t, rt.Alarms)
	require.Len(t, rt.Pillars, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := rt.Client.GetStatus(ctx, "books", nil)
	require.NoError(t, err)
	assert.Equal(t, model.EventComplete, res.Final.Type)
	assert.ElementsMatch(t, []string{"p1", "p2"}, res.CompletedContributors())

	res, err = rt.Client.GetStatus(ctx, "photos", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, res.CompletedContributors())
}

func TestNewRejectsMissingCleanupInterval(t *testing.T) {
	settings := testSettings()
	settings.Client.CleanupInterval = 0
	_, err := New(context.Background(), &config.Config{LocalBus: true}, settings, logger.NewNop())
	assert.Error(t, err)
}

func TestNewRejectsInvalidClient(t *testing.T) {
	_, err := New(context.Background(), &config.Config{LocalBus: true, ReceiverDestination: "client.x"}, testSettings(), logger.NewNop())
	assert.Error(t, err)
}
