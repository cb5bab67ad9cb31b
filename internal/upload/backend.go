package upload

import (
	"context"

	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/pkg/ingestapi"
)

// Backend performs the write itself.
type Backend interface {
	Upload(ctx context.Context, req Request) (*model.UploadResult, error)
}

// RemoteBackend uploads through the ingest API.
type RemoteBackend struct {
	client ingestapi.Client
}

// NewRemoteBackend creates a backend over client.
func NewRemoteBackend(client ingestapi.Client) *RemoteBackend {
	return &RemoteBackend{client: client}
}

// Upload implements Backend.
func (b *RemoteBackend) Upload(ctx context.Context, req Request) (*model.UploadResult, error) {
	body, err := req.File.Open()
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck

	resp, err := b.client.Upload(ctx,
		ingestapi.File{Name: req.File.Name, Body: body},
		req.Mappings.Wire(),
		string(req.Mode),
		ingestapi.UploadOptions{
			TargetTable:   req.Options.TargetTable,
			OperationMode: string(req.Options.OperationMode),
			UpsertKeys:    req.Options.UpsertKeys,
		},
	)
	if err != nil {
		return nil, err
	}
	return &model.UploadResult{
		RowsProcessed: resp.RowsProcessed,
		ColumnsMapped: resp.ColumnsMapped,
		Warnings:      resp.Warnings,
		TableName:     resp.TableName,
	}, nil
}
