package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newEmbedCmd(opts *options) *cobra.Command {
	var modelID string
	cmd := &cobra.Command{
		Use:   "embed TEXT",
		Short: "Print the embedding of TEXT as a JSON array",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())
			mgr, err := newManager(cfg, logger, logPublisher{log: logger})
			if err != nil {
				return err
			}
			defer mgr.Close()
			vec, _, err := mgr.Embed(context.Background(), modelID, args[0])
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(vec)
		},
	}
	cmd.Flags().StringVarP(&modelID, "model", "m", "", "Embedding model id (defaults to embed-model)")
	return cmd
}

func newRankCmd(opts *options) *cobra.Command {
	var (
		modelID string
		limit   int
	)
	cmd := &cobra.Command{
		Use:     "rank QUERY DOC...",
		Short:   "Rank documents against a query with a cross-encoder",
		Example: `  chatd rank "capital of France" "Paris is in France" "Berlin is in Germany"`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())
			mgr, err := newManager(cfg, logger, logPublisher{log: logger})
			if err != nil {
				return err
			}
			defer mgr.Close()
			ranked, _, err := mgr.Rank(context.Background(), modelID, args[0], args[1:], limit)
			if err != nil {
				return err
			}
			for _, r := range ranked {
				fmt.Fprintf(cmd.OutOrStdout(), "%.4f\t%d\t%s\n", r.Score, r.Index, r.Document)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&modelID, "model", "m", "", "Cross-encoder model id (defaults to rerank-model)")
	cmd.Flags().IntVarP(&limit, "limit", "n", -1, "Keep only the top N documents; negative keeps all")
	return cmd
}
