// Package app wires a repository client to its transport: NATS in
// production, or an in-process bus with simulated pillars for local runs.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bitrepository/reference-sub015/internal/bus"
	"github.com/bitrepository/reference-sub015/internal/client"
	"github.com/bitrepository/reference-sub015/internal/config"
	"github.com/bitrepository/reference-sub015/internal/mediator"
	natsclient "github.com/bitrepository/reference-sub015/internal/nats"
	"github.com/bitrepository/reference-sub015/internal/pillar"
	"github.com/bitrepository/reference-sub015/pkg/logger"
)

// Runtime is a wired repository client.
type Runtime struct {
	Transport bus.Transport
	Mediator  *mediator.Mediator
	Client    *client.Client
	Settings  *config.Settings

	// NATS and Alarms are nil on the in-process bus. Alarms is also nil
	// when alarms are disabled.
	NATS   *natsclient.Client
	Alarms *natsclient.StreamManager

	// Pillars are the simulated contributors of the in-process bus.
	Pillars []*pillar.Pillar

	closers []func()
	log     *logger.Logger
}

// New connects the transport and creates the client. Close releases
// everything New acquired.
func New(ctx context.Context, cfg *config.Config, settings *config.Settings, log *logger.Logger) (*Runtime, error) {
	if settings.Client.CleanupInterval <= 0 {
		return nil, errors.New("cleanup interval must be positive")
	}

	rt := &Runtime{Settings: settings, log: log}

	var err error
	if cfg.LocalBus {
		err = rt.startLocal()
	} else {
		err = rt.connect(ctx, cfg)
	}
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.Mediator = mediator.New(mediator.Config{
		CleanupInterval:     settings.Client.CleanupInterval,
		ConversationTimeout: settings.Client.ConversationTimeout,
	}, log)
	rt.closers = append(rt.closers, rt.Mediator.Shutdown)

	rt.Client, err = client.New(client.Config{
		ClientID: cfg.ClientID,
		ReplyTo:  cfg.ReceiverDestination,
	}, settings, rt.Transport, rt.Mediator, log)
	if err != nil {
		rt.Close()
		return nil, err
	}

	sub, err := rt.Client.Listen(rt.Transport)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, func() { _ = sub.Unsubscribe() })

	return rt, nil
}

// Run sweeps the mediator until ctx is done.
func (rt *Runtime) Run(ctx context.Context) error {
	return rt.Mediator.Run(ctx)
}

// Close stops conversations and releases the transport, in the reverse
// order of acquisition.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

func (rt *Runtime) connect(ctx context.Context, cfg *config.Config) error {
	nc, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		Name:     cfg.ClientID,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, rt.log)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	rt.NATS = nc
	rt.closers = append(rt.closers, nc.Close)
	rt.Transport = natsclient.NewBus(nc, rt.log)

	if !cfg.AlarmsEnabled {
		return nil
	}
	sm := natsclient.NewStreamManager(nc)
	if err := sm.EnsureStream(ctx); err != nil {
		return fmt.Errorf("failed to ensure alarm stream: %w", err)
	}
	rt.Alarms = sm
	return nil
}

// startLocal creates an in-process bus with one simulated pillar per
// contributor of every collection. Pillars report increasing delivery
// times in the order they are configured.
func (rt *Runtime) startLocal() error {
	b := bus.NewMemoryBus(0, rt.log)
	rt.Transport = b
	rt.closers = append(rt.closers, b.Close)

	pillars, err := StartPillars(b, rt.Settings, rt.log)
	if err != nil {
		return err
	}
	rt.Pillars = pillars
	rt.closers = append(rt.closers, func() { stopPillars(pillars) })

	rt.log.Info("using in-process bus", zap.Int("pillars", len(pillars)))
	return nil
}

// StartPillars starts a simulated pillar for every contributor of every
// collection in settings.
func StartPillars(t bus.Transport, settings *config.Settings, log *logger.Logger) ([]*pillar.Pillar, error) {
	var pillars []*pillar.Pillar
	for _, collectionID := range settings.CollectionIDs() {
		coll, err := settings.Collection(collectionID)
		if err != nil {
			stopPillars(pillars)
			return nil, err
		}
		for i, id := range coll.Contributors {
			p, err := pillar.New(pillar.Config{
				ID:                    id,
				CollectionID:          collectionID,
				CollectionDestination: coll.Destination,
				TimeToDeliver:         time.Duration(i+1) * time.Second,
			}, t, log)
			if err == nil {
				err = p.Start()
			}
			if err != nil {
				stopPillars(pillars)
				return nil, fmt.Errorf("failed to start pillar %s: %w", id, err)
			}
			pillars = append(pillars, p)
		}
	}
	return pillars, nil
}

func stopPillars(pillars []*pillar.Pillar) {
	for _, p := range pillars {
		_ = p.Stop()
	}
}
