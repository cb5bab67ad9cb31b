// Package advisor produces per-column recommendations for columns that do
// not line up between an uploaded file and an existing table.
package advisor

import (
	"context"
	"strings"

	"github.com/sells-group/ingest-cli/internal/confidence"
	"github.com/sells-group/ingest-cli/internal/model"
)

// Request names the mismatched columns to advise on.
type Request struct {
	Table          *model.TargetTable
	SourceColumns  []model.SourceColumn
	MissingColumns []string
	NewColumns     []string
}

// TableName returns the target table's name, or "".
func (r Request) TableName() string {
	if r.Table == nil {
		return ""
	}
	return r.Table.Name
}

// Empty reports whether there is nothing to advise on.
func (r Request) Empty() bool {
	return len(r.MissingColumns) == 0 && len(r.NewColumns) == 0
}

// Advice is the advisor's answer. Confidence is 0-100.
type Advice struct {
	Recommendations []model.Recommendation `json:"recommendations"`
	Confidence      float64                `json:"confidence"`
}

// Advisor recommends what to do with mismatched columns.
type Advisor interface {
	Recommend(ctx context.Context, req Request) (*Advice, error)
}

// sides maps each requested column to the side it was asked about.
func (r Request) sides() map[string]model.ColumnSide {
	out := make(map[string]model.ColumnSide, len(r.NewColumns)+len(r.MissingColumns))
	for _, c := range r.MissingColumns {
		out[c] = model.SideMissing
	}
	for _, c := range r.NewColumns {
		out[c] = model.SideNew
	}
	return out
}

func parseSeverity(s string, def model.Severity) model.Severity {
	sv := model.Severity(strings.ToLower(strings.TrimSpace(s)))
	switch sv {
	case model.SeverityLow, model.SeverityMedium, model.SeverityHigh:
		return sv
	case model.SeverityCritical:
		return model.SeverityHigh
	default:
		return def
	}
}

func parseAction(s string, side model.ColumnSide) model.SuggestedAction {
	a := model.SuggestedAction(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case model.ActionAddColumn, model.ActionMapExisting, model.ActionSkipColumn:
		return a
	}
	if side == model.SideNew {
		return model.ActionAddColumn
	}
	return model.ActionSkipColumn
}

// severityScore is how confident a single recommendation leaves us that
// the upload will go through unchanged.
func severityScore(s model.Severity) float64 {
	switch s {
	case model.SeverityHigh:
		return 40
	case model.SeverityMedium:
		return 70
	default:
		return 90
	}
}

func adviceConfidence(recs []model.Recommendation) float64 {
	if len(recs) == 0 {
		return confidence.Max
	}
	scores := make([]float64, 0, len(recs))
	for _, r := range recs {
		scores = append(scores, severityScore(r.Severity))
	}
	return confidence.Average(scores)
}
