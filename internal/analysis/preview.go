package analysis

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ingest-cli/internal/fetcher"
	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/pkg/ingestapi"
)

// NewColumnName is the column an import_as_new source becomes.
func NewColumnName(source string) string {
	return NormalizeName(source)
}

// LocalPreviewer renders previews from the file on disk.
type LocalPreviewer struct{}

// Preview implements Previewer. A cell is mapped when its column goes to a
// table column or becomes a new one.
func (LocalPreviewer) Preview(ctx context.Context, f model.File, mappings model.UserMappings, rows int) ([]model.PreviewRow, error) {
	if rows <= 0 {
		rows = DefaultPreviewRows
	}
	sample, err := fetcher.ReadSample(ctx, f.Path, rows)
	if err != nil {
		return nil, eris.Wrapf(err, "analysis: preview %s", f.Name)
	}

	out := make([]model.PreviewRow, 0, len(sample.Rows))
	for i, row := range sample.Rows {
		pr := model.PreviewRow{Index: i + 1, Cells: make([]model.PreviewCell, 0, len(sample.Header))}
		for j, h := range sample.Header {
			cell := model.PreviewCell{SourceColumn: h}
			if j < len(row) {
				cell.Value = row[j]
			}
			switch t := mappings[h]; {
			case t.IsColumn():
				cell.TargetColumn = t.ColumnName()
				cell.Mapped = true
			case t.IsImportAsNew():
				cell.TargetColumn = NewColumnName(h)
				cell.Mapped = true
			}
			pr.Cells = append(pr.Cells, cell)
		}
		out = append(out, pr)
	}
	return out, nil
}

// RemotePreviewer asks the backend for the preview.
type RemotePreviewer struct {
	client ingestapi.Client
}

// NewRemotePreviewer creates a previewer over client.
func NewRemotePreviewer(client ingestapi.Client) *RemotePreviewer {
	return &RemotePreviewer{client: client}
}

// Preview implements Previewer.
func (p *RemotePreviewer) Preview(ctx context.Context, f model.File, mappings model.UserMappings, rows int) ([]model.PreviewRow, error) {
	if rows <= 0 {
		rows = DefaultPreviewRows
	}
	body, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck

	resp, err := p.client.PreviewMapping(ctx, ingestapi.File{Name: f.Name, Body: body}, mappings.Wire(), rows)
	if err != nil {
		return nil, err
	}
	out := make([]model.PreviewRow, 0, len(resp.Rows))
	for _, r := range resp.Rows {
		pr := model.PreviewRow{Index: r.RowNumber, Cells: make([]model.PreviewCell, 0, len(r.Cells))}
		for _, c := range r.Cells {
			cell := model.PreviewCell{SourceColumn: c.SourceColumn, Mapped: c.Mapped}
			if c.TargetColumn != nil {
				cell.TargetColumn = *c.TargetColumn
			}
			if c.Value != nil {
				cell.Value = stringify([]any{c.Value})[0]
			}
			pr.Cells = append(pr.Cells, cell)
		}
		out = append(out, pr)
	}
	return out, nil
}
