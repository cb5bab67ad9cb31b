package compat

import (
	"context"
	"fmt"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ingest-cli/internal/analysis"
	"github.com/sells-group/ingest-cli/internal/confidence"
	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/pkg/ingestapi"
)

// Penalties taken off a perfect local compatibility score.
const (
	penaltyRequiredUnmapped = 25.0
	penaltyTypeMismatch     = 10.0
	penaltyNewColumn        = 5.0
)

// ScoreRequest is the proposed mapping to grade against a table.
type ScoreRequest struct {
	File     model.File
	Table    *model.TargetTable
	Sources  []model.SourceColumn
	Mappings model.UserMappings
}

// Scorer grades how well a mapping fits an existing table.
type Scorer interface {
	Score(ctx context.Context, req ScoreRequest) (*model.CompatibilityScore, error)
}

// RemoteScorer asks the backend's compatibility service.
type RemoteScorer struct {
	client ingestapi.Client
}

// NewRemoteScorer creates a scorer over client.
func NewRemoteScorer(client ingestapi.Client) *RemoteScorer {
	return &RemoteScorer{client: client}
}

// Score implements Scorer.
func (s *RemoteScorer) Score(ctx context.Context, req ScoreRequest) (*model.CompatibilityScore, error) {
	if req.Table == nil || req.Table.Name == "" {
		return nil, ErrNoTable
	}
	body, err := req.File.Open()
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck

	resp, err := s.client.AnalyzeSchemaCompatibility(ctx,
		ingestapi.File{Name: req.File.Name, Body: body}, req.Table.Name, req.Mappings.Wire())
	if err != nil {
		return nil, err
	}
	return &model.CompatibilityScore{
		Score:    confidence.Normalize(resp.CompatibilityScore),
		Warnings: resp.Warnings,
	}, nil
}

// LocalScorer grades a mapping from the table schema alone. Every required
// column left unmapped, every type clash and every new column costs points;
// each deduction adds a warning.
type LocalScorer struct{}

// Score implements Scorer.
func (LocalScorer) Score(ctx context.Context, req ScoreRequest) (*model.CompatibilityScore, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "compat: score")
	}
	if req.Table == nil || req.Table.Name == "" {
		return nil, ErrNoTable
	}

	types := make(map[string]model.SemanticType, len(req.Sources))
	for _, s := range req.Sources {
		types[s.Name] = s.Type
	}
	sources := make([]string, 0, len(req.Mappings))
	for src := range req.Mappings {
		sources = append(sources, src)
	}
	sort.Strings(sources)

	score := confidence.Max
	var warnings []string
	mapped := make(map[string]bool)
	for _, src := range sources {
		t := req.Mappings[src]
		switch {
		case t.IsColumn():
			mapped[t.ColumnName()] = true
			col, ok := req.Table.Column(t.ColumnName())
			if !ok {
				score -= penaltyTypeMismatch
				warnings = append(warnings, fmt.Sprintf("%s maps to unknown column %s", src, t.ColumnName()))
				continue
			}
			if !analysis.CompatibleTypes(types[src], col.DataType) {
				score -= penaltyTypeMismatch
				warnings = append(warnings, fmt.Sprintf("%s (%s) may not fit %s (%s)", src, types[src], col.Name, col.DataType))
			}
		case t.IsImportAsNew():
			score -= penaltyNewColumn
			warnings = append(warnings, fmt.Sprintf("%s will add column %s", src, analysis.NewColumnName(src)))
		}
	}
	for _, c := range req.Table.Columns {
		if c.Required && !mapped[c.Name] {
			score -= penaltyRequiredUnmapped
			warnings = append(warnings, fmt.Sprintf("required column %s is not mapped", c.Name))
		}
	}

	return &model.CompatibilityScore{Score: max(score, 0), Warnings: warnings}, nil
}
