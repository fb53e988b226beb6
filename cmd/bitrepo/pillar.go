package main

import (
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bitrepository/reference-sub015/internal/app"
	"github.com/bitrepository/reference-sub015/internal/config"
	natsclient "github.com/bitrepository/reference-sub015/internal/nats"
)

func newPillarCommand(g *globals) *cobra.Command {
	var collections, ids []string

	cmd := &cobra.Command{
		Use:   "pillar",
		Short: "Run simulated pillars on NATS until interrupted",
		Long: "Runs an in-memory pillar for every contributor of the selected collections. " +
			"The pillars answer identify and operation requests on NATS, which makes a " +
			"repository usable without real storage.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if g.cfg.LocalBus {
				return errors.New("simulated pillars need NATS; drop --local")
			}
			settings, err := selectPillars(g.settings, collections, ids)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			nc, err := natsclient.Connect(ctx, natsclient.Config{
				URL:      g.cfg.NATSURL,
				Name:     g.cfg.ClientID + "-pillars",
				CAFile:   g.cfg.NATSCAFile,
				CertFile: g.cfg.NATSCertFile,
				KeyFile:  g.cfg.NATSKeyFile,
				Token:    g.cfg.NATSToken,
			}, g.log)
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			pillars, err := app.StartPillars(natsclient.NewBus(nc, g.log), settings, g.log)
			if err != nil {
				return err
			}
			for _, p := range pillars {
				fmt.Fprintf(cmd.OutOrStdout(), "pillar %s listening on %s\n", p.ID(), p.Destination())
			}

			<-ctx.Done()
			g.log.Info("stopping pillars", zap.Int("pillars", len(pillars)))
			for _, p := range pillars {
				_ = p.Stop()
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&collections, "collection", nil, "Run pillars of these collections only")
	cmd.Flags().StringSliceVar(&ids, "id", nil, "Run these pillars only")

	return cmd
}

// selectPillars narrows settings to the given collections and contributor ids.
// Empty filters select everything.
func selectPillars(settings *config.Settings, collections, ids []string) (*config.Settings, error) {
	out := &config.Settings{
		Client:      settings.Client,
		Collections: make(map[string]config.CollectionSettings),
	}
	for _, id := range collections {
		if _, err := settings.Collection(id); err != nil {
			return nil, err
		}
	}

	for _, collectionID := range settings.CollectionIDs() {
		if len(collections) > 0 && !slices.Contains(collections, collectionID) {
			continue
		}
		coll, _ := settings.Collection(collectionID)
		if len(ids) > 0 {
			coll.Contributors = slices.DeleteFunc(coll.Contributors, func(c string) bool {
				return !slices.Contains(ids, c)
			})
		}
		if len(coll.Contributors) > 0 {
			out.Collections[collectionID] = coll
		}
	}

	if len(out.Collections) == 0 {
		return nil, errors.New("no pillars selected")
	}
	return out, nil
}
