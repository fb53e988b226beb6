package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bitrepository/reference-sub015/internal/model"
	natsclient "github.com/bitrepository/reference-sub015/internal/nats"
)

func newAlarmsCommand(g *globals) *cobra.Command {
	var collection string
	var after uint64
	var limit int

	cmd := &cobra.Command{
		Use:   "alarms",
		Short: "List alarms raised for failed operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if g.cfg.LocalBus {
				return errors.New("alarms are stored on NATS; drop --local")
			}

			ctx := cmd.Context()
			nc, err := natsclient.Connect(ctx, natsclient.Config{
				URL:      g.cfg.NATSURL,
				Name:     g.cfg.ClientID,
				CAFile:   g.cfg.NATSCAFile,
				CertFile: g.cfg.NATSCertFile,
				KeyFile:  g.cfg.NATSKeyFile,
				Token:    g.cfg.NATSToken,
			}, g.log)
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			alarms, last, hasMore, err := natsclient.NewStreamManager(nc).GetAlarms(ctx, collection, after, limit)
			if err != nil {
				return err
			}
			if alarms == nil {
				alarms = []model.Alarm{}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"alarms":        alarms,
				"last_sequence": last,
				"has_more":      hasMore,
			})
		},
	}

	cmd.Flags().StringVar(&collection, "collection", "", "Only alarms of this collection")
	cmd.Flags().Uint64Var(&after, "after", 0, "Only alarms after this stream sequence")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of alarms")

	return cmd
}
