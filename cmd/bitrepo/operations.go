package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/bitrepository/reference-sub015/internal/client"
	"github.com/bitrepository/reference-sub015/internal/model"
)

type operationFunc func(ctx context.Context, c *client.Client) (*client.Result, error)

func newOperationCommands(g *globals) []*cobra.Command {
	return []*cobra.Command{
		newGetFileCommand(g),
		newGetFileIDsCommand(g),
		newGetChecksumsCommand(g),
		newGetStatusCommand(g),
		newGetAuditTrailsCommand(g),
		newPutFileCommand(g),
		newDeleteFileCommand(g),
		newReplaceFileCommand(g),
	}
}

func newGetFileCommand(g *globals) *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "get-file <collection> <file-id>",
		Short: "Have the fastest pillar deliver a file to a URL",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.runOperation(cmd, func(ctx context.Context, c *client.Client) (*client.Result, error) {
				return c.GetFile(ctx, args[0], args[1], url)
			})
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "Delivery URL")
	_ = cmd.MarkFlagRequired("url")

	return cmd
}

func newGetFileIDsCommand(g *globals) *cobra.Command {
	var q queryFlags

	cmd := &cobra.Command{
		Use:   "get-file-ids <collection> [file-id]",
		Short: "List the files held by the pillars",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			queries, err := q.queries()
			if err != nil {
				return err
			}
			return g.runOperation(cmd, func(ctx context.Context, c *client.Client) (*client.Result, error) {
				return c.GetFileIDs(ctx, args[0], optionalArg(args, 1), queries)
			})
		},
	}

	q.register(cmd)

	return cmd
}

func newGetChecksumsCommand(g *globals) *cobra.Command {
	var q queryFlags
	var spec model.ChecksumSpec

	cmd := &cobra.Command{
		Use:   "get-checksums <collection> [file-id]",
		Short: "Collect checksums from the pillars",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			queries, err := q.queries()
			if err != nil {
				return err
			}
			return g.runOperation(cmd, func(ctx context.Context, c *client.Client) (*client.Result, error) {
				return c.GetChecksums(ctx, args[0], optionalArg(args, 1), spec, queries)
			})
		},
	}

	cmd.Flags().StringVar(&spec.Algorithm, "algorithm", "MD5", "Checksum algorithm")
	cmd.Flags().StringVar(&spec.Salt, "salt", "", "Checksum salt")
	q.register(cmd)

	return cmd
}

func newGetStatusCommand(g *globals) *cobra.Command {
	var contributors []string

	cmd := &cobra.Command{
		Use:   "get-status <collection>",
		Short: "Ask the pillars for their status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.runOperation(cmd, func(ctx context.Context, c *client.Client) (*client.Result, error) {
				return c.GetStatus(ctx, args[0], contributors)
			})
		},
	}

	cmd.Flags().StringSliceVarP(&contributors, "contributor", "c", nil, "Limit to these contributors")

	return cmd
}

func newGetAuditTrailsCommand(g *globals) *cobra.Command {
	var q queryFlags

	cmd := &cobra.Command{
		Use:   "get-audit-trails <collection> [file-id]",
		Short: "Collect audit trail events from the pillars",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			queries, err := q.queries()
			if err != nil {
				return err
			}
			return g.runOperation(cmd, func(ctx context.Context, c *client.Client) (*client.Result, error) {
				return c.GetAuditTrails(ctx, args[0], optionalArg(args, 1), queries)
			})
		},
	}

	q.register(cmd)

	return cmd
}

func newPutFileCommand(g *globals) *cobra.Command {
	var put model.PutFileRequest
	var checksum, audit string

	cmd := &cobra.Command{
		Use:   "put-file <collection> <file-id>",
		Short: "Store a new file on every pillar",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			put.ChecksumForNew = &model.ChecksumData{Value: checksum}
			return g.runOperation(cmd, func(ctx context.Context, c *client.Client) (*client.Result, error) {
				return c.PutFile(ctx, args[0], args[1], put, audit)
			})
		},
	}

	cmd.Flags().StringVar(&put.URL, "url", "", "Upload URL the pillars fetch the file from")
	cmd.Flags().Int64Var(&put.Size, "size", 0, "File size in bytes")
	cmd.Flags().StringVar(&checksum, "checksum", "", "Checksum of the new file")
	cmd.Flags().StringVar(&audit, "audit", "", "Audit trail information")
	_ = cmd.MarkFlagRequired("url")
	_ = cmd.MarkFlagRequired("checksum")

	return cmd
}

func newDeleteFileCommand(g *globals) *cobra.Command {
	var checksum, audit string

	cmd := &cobra.Command{
		Use:   "delete-file <collection> <file-id>",
		Short: "Delete a file from every pillar",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var del model.DeleteFileRequest
			if checksum != "" {
				del.ChecksumForExisting = &model.ChecksumData{Value: checksum}
			}
			return g.runOperation(cmd, func(ctx context.Context, c *client.Client) (*client.Result, error) {
				return c.DeleteFile(ctx, args[0], args[1], del, audit)
			})
		},
	}

	cmd.Flags().StringVar(&checksum, "checksum", "", "Expected checksum of the stored file")
	cmd.Flags().StringVar(&audit, "audit", "", "Audit trail information")

	return cmd
}

func newReplaceFileCommand(g *globals) *cobra.Command {
	var replace model.ReplaceFileRequest
	var existing, checksum, audit string

	cmd := &cobra.Command{
		Use:   "replace-file <collection> <file-id>",
		Short: "Replace a file on every pillar",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			replace.ChecksumForNew = &model.ChecksumData{Value: checksum}
			if existing != "" {
				replace.ChecksumForExisting = &model.ChecksumData{Value: existing}
			}
			return g.runOperation(cmd, func(ctx context.Context, c *client.Client) (*client.Result, error) {
				return c.ReplaceFile(ctx, args[0], args[1], replace, audit)
			})
		},
	}

	cmd.Flags().StringVar(&replace.URL, "url", "", "Upload URL of the new content")
	cmd.Flags().Int64Var(&replace.Size, "size", 0, "Size of the new content in bytes")
	cmd.Flags().StringVar(&existing, "existing-checksum", "", "Expected checksum of the stored file")
	cmd.Flags().StringVar(&checksum, "checksum", "", "Checksum of the new content")
	cmd.Flags().StringVar(&audit, "audit", "", "Audit trail information")
	_ = cmd.MarkFlagRequired("url")
	_ = cmd.MarkFlagRequired("checksum")

	return cmd
}

// runOperation runs op on a fresh runtime and prints its result. The result
// of a failed operation is printed before the error is returned.
func (g *globals) runOperation(cmd *cobra.Command, op operationFunc) error {
	ctx := cmd.Context()
	rt, err := g.runtime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	res, err := op(ctx, rt.Client)
	if res != nil {
		if perr := printResult(cmd.OutOrStdout(), res); perr != nil && err == nil {
			err = perr
		}
	}
	return err
}

type resultOutput struct {
	ConversationID string                     `json:"conversation_id"`
	CollectionID   string                     `json:"collection_id"`
	Operation      model.OperationType        `json:"operation"`
	Status         model.OperationStatus      `json:"status"`
	Completed      []string                   `json:"completed"`
	Results        map[string]json.RawMessage `json:"results,omitempty"`
	Failed         map[string]string          `json:"failed,omitempty"`
	Cause          string                     `json:"cause,omitempty"`
}

func printResult(w io.Writer, res *client.Result) error {
	out := resultOutput{
		ConversationID: res.ConversationID,
		CollectionID:   res.CollectionID,
		Operation:      res.Operation,
		Status:         model.StatusComplete,
		Completed:      res.CompletedContributors(),
	}
	if res.Final.Type == model.EventFailed {
		out.Status = model.StatusFailed
		out.Cause = res.Final.Cause
	}
	for _, ev := range res.Completed {
		if len(ev.Result) == 0 {
			continue
		}
		if out.Results == nil {
			out.Results = make(map[string]json.RawMessage)
		}
		out.Results[ev.ContributorID] = ev.Result
	}
	if len(res.Failed) > 0 {
		out.Failed = res.FailedContributors()
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// queryFlags builds contributor queries from command line flags.
type queryFlags struct {
	contributors []string
	minTimestamp string
	maxTimestamp string
	maxResults   int
}

func (q *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&q.contributors, "contributor", "c", nil, "Query only these contributors")
	cmd.Flags().StringVar(&q.minTimestamp, "min-timestamp", "", "Earliest timestamp (RFC 3339)")
	cmd.Flags().StringVar(&q.maxTimestamp, "max-timestamp", "", "Latest timestamp (RFC 3339)")
	cmd.Flags().IntVar(&q.maxResults, "max-results", 0, "Maximum results per contributor")
}

func (q *queryFlags) queries() ([]model.ContributorQuery, error) {
	minTS, err := parseTimestamp(q.minTimestamp)
	if err != nil {
		return nil, fmt.Errorf("invalid --min-timestamp: %w", err)
	}
	maxTS, err := parseTimestamp(q.maxTimestamp)
	if err != nil {
		return nil, fmt.Errorf("invalid --max-timestamp: %w", err)
	}
	var maxResults *int
	if q.maxResults > 0 {
		maxResults = &q.maxResults
	}

	if len(q.contributors) == 0 {
		if minTS != nil || maxTS != nil || maxResults != nil {
			return nil, errors.New("query limits need at least one --contributor")
		}
		return nil, nil
	}

	queries := make([]model.ContributorQuery, 0, len(q.contributors))
	for _, id := range q.contributors {
		query, err := model.NewContributorQuery(id, minTS, maxTS, maxResults)
		if err != nil {
			return nil, err
		}
		queries = append(queries, query)
	}
	return queries, nil
}

func parseTimestamp(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func optionalArg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}
