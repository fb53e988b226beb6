package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bitrepository/reference-sub015/internal/model"
)

// GetFile asks the fastest contributor holding fileID to deliver it to url.
func (c *Client) GetFile(ctx context.Context, collectionID, fileID, url string) (*Result, error) {
	payload, err := model.EncodePayload(model.GetFileRequest{URL: url})
	if err != nil {
		return nil, err
	}
	return c.Run(ctx, StartRequest{
		CollectionID: collectionID,
		Operation:    model.OperationGetFile,
		FileID:       fileID,
		Payload:      payload,
	}, nil)
}

// GetFileIDs lists the files held by the queried contributors, or by every
// contributor when queries is empty. A non-empty fileID restricts the
// listing to that file.
func (c *Client) GetFileIDs(ctx context.Context, collectionID, fileID string, queries []model.ContributorQuery) (*Result, error) {
	req := StartRequest{
		CollectionID: collectionID,
		Operation:    model.OperationGetFileIDs,
		FileID:       fileID,
		Contributors: model.ContributorIDs(queries),
	}
	if err := withQueries(&req, model.GetFileIDsRequest{Queries: queries}, queries, func(q model.ContributorQuery) any {
		return model.GetFileIDsRequest{Queries: []model.ContributorQuery{q}}
	}); err != nil {
		return nil, err
	}
	return c.Run(ctx, req, nil)
}

// GetChecksums collects checksums of fileID, or of every file when fileID is empty.
func (c *Client) GetChecksums(ctx context.Context, collectionID, fileID string, spec model.ChecksumSpec, queries []model.ContributorQuery) (*Result, error) {
	req := StartRequest{
		CollectionID: collectionID,
		Operation:    model.OperationGetChecksums,
		FileID:       fileID,
		Contributors: model.ContributorIDs(queries),
	}
	all := model.GetChecksumsRequest{ChecksumSpec: spec, Queries: queries}
	if err := withQueries(&req, all, queries, func(q model.ContributorQuery) any {
		return model.GetChecksumsRequest{ChecksumSpec: spec, Queries: []model.ContributorQuery{q}}
	}); err != nil {
		return nil, err
	}
	return c.Run(ctx, req, nil)
}

// GetStatus asks contributors for their status. An empty contributors list
// asks the whole collection.
func (c *Client) GetStatus(ctx context.Context, collectionID string, contributors []string) (*Result, error) {
	return c.Run(ctx, StartRequest{
		CollectionID: collectionID,
		Operation:    model.OperationGetStatus,
		Contributors: contributors,
	}, nil)
}

// GetAuditTrails collects audit trail events, optionally for one file.
func (c *Client) GetAuditTrails(ctx context.Context, collectionID, fileID string, queries []model.ContributorQuery) (*Result, error) {
	req := StartRequest{
		CollectionID: collectionID,
		Operation:    model.OperationGetAuditTrails,
		FileID:       fileID,
		Contributors: model.ContributorIDs(queries),
	}
	if err := withQueries(&req, model.GetAuditTrailsRequest{Queries: queries}, queries, func(q model.ContributorQuery) any {
		return model.GetAuditTrailsRequest{Queries: []model.ContributorQuery{q}}
	}); err != nil {
		return nil, err
	}
	return c.Run(ctx, req, nil)
}

// PutFile stores a new file on every contributor of the collection.
func (c *Client) PutFile(ctx context.Context, collectionID, fileID string, put model.PutFileRequest, auditInfo string) (*Result, error) {
	return c.modify(ctx, collectionID, fileID, model.OperationPutFile, put, auditInfo)
}

// DeleteFile removes a file from every contributor holding it.
func (c *Client) DeleteFile(ctx context.Context, collectionID, fileID string, del model.DeleteFileRequest, auditInfo string) (*Result, error) {
	return c.modify(ctx, collectionID, fileID, model.OperationDeleteFile, del, auditInfo)
}

// ReplaceFile replaces an existing file on every contributor of the collection.
func (c *Client) ReplaceFile(ctx context.Context, collectionID, fileID string, replace model.ReplaceFileRequest, auditInfo string) (*Result, error) {
	return c.modify(ctx, collectionID, fileID, model.OperationReplaceFile, replace, auditInfo)
}

func (c *Client) modify(ctx context.Context, collectionID, fileID string, op model.OperationType, body any, auditInfo string) (*Result, error) {
	if fileID == "" {
		return nil, fmt.Errorf("%s requires a file id", op)
	}
	payload, err := model.EncodePayload(body)
	if err != nil {
		return nil, err
	}
	return c.Run(ctx, StartRequest{
		CollectionID:          collectionID,
		Operation:             op,
		FileID:                fileID,
		AuditTrailInformation: auditInfo,
		Payload:               payload,
	}, nil)
}

// withQueries sets the broadcast payload of req to all and gives every
// queried contributor a payload carrying only its own query. A contributor
// may be queried once.
func withQueries(req *StartRequest, all any, queries []model.ContributorQuery, single func(model.ContributorQuery) any) error {
	payload, err := model.EncodePayload(all)
	if err != nil {
		return err
	}
	req.Payload = payload

	if len(queries) == 0 {
		return nil
	}
	req.ContributorPayloads = make(map[string]json.RawMessage, len(queries))
	for _, q := range queries {
		if _, dup := req.ContributorPayloads[q.ContributorID]; dup {
			return fmt.Errorf("%w: contributor %s queried more than once", model.ErrInvalidQuery, q.ContributorID)
		}
		p, err := model.EncodePayload(single(q))
		if err != nil {
			return err
		}
		req.ContributorPayloads[q.ContributorID] = p
	}
	return nil
}
