// Package analysis turns an uploaded file into an AnalysisResult, either by
// calling the ingest backend or by profiling the file in-process. It also
// serves the table catalog and mapping previews.
package analysis

import (
	"context"

	"github.com/sells-group/ingest-cli/internal/confidence"
	"github.com/sells-group/ingest-cli/internal/model"
)

// Options configures one analysis. ConfidenceThreshold is on the 0-100
// scale; suggestions below it are returned without a target.
type Options struct {
	TargetTable         string
	UseAIFallback       bool
	ConfidenceThreshold float64
}

// Analyzer inspects a file and proposes mappings.
type Analyzer interface {
	Analyze(ctx context.Context, f model.File, opts Options) (*model.AnalysisResult, error)
}

// Catalog lists and describes existing tables.
type Catalog interface {
	ListTables(ctx context.Context) ([]model.TableSummary, error)
	DescribeTable(ctx context.Context, table string) (*model.TargetTable, error)
}

// Previewer renders sample rows under a set of mappings.
type Previewer interface {
	Preview(ctx context.Context, f model.File, mappings model.UserMappings, rows int) ([]model.PreviewRow, error)
}

// DefaultPreviewRows is used when a preview asks for no particular size.
const DefaultPreviewRows = 10

// applyThreshold drops targets from suggestions below threshold.
func applyThreshold(sugs []model.MappingSuggestion, threshold float64) {
	if threshold <= 0 {
		return
	}
	for i := range sugs {
		if sugs[i].TargetColumn != "" && sugs[i].Confidence < threshold {
			sugs[i].TargetColumn = ""
			sugs[i].Confidence = 0
		}
	}
}

// DerivedConfidence is the unweighted mean of the confidences of
// suggestions that carry a target. It only approximates the backend's
// overall confidence.
func DerivedConfidence(sugs []model.MappingSuggestion) float64 {
	var scores []float64
	for _, s := range sugs {
		if s.TargetColumn != "" {
			scores = append(scores, s.Confidence)
		}
	}
	return confidence.Average(scores)
}

// ensureSuggestions adds an empty suggestion for every source column the
// list does not cover, so there is exactly one per column in column order.
func ensureSuggestions(sources []model.SourceColumn, sugs []model.MappingSuggestion) []model.MappingSuggestion {
	by := make(map[string]model.MappingSuggestion, len(sugs))
	for _, s := range sugs {
		if _, dup := by[s.SourceColumn]; !dup {
			by[s.SourceColumn] = s
		}
	}
	out := make([]model.MappingSuggestion, 0, len(sources))
	for _, c := range sources {
		s, ok := by[c.Name]
		if !ok {
			s = model.MappingSuggestion{SourceColumn: c.Name, MappingType: model.MappingAI}
		}
		out = append(out, s)
		delete(by, c.Name)
	}
	// Suggestions for columns the inventory lacks are kept at the end.
	for _, s := range sugs {
		if _, ok := by[s.SourceColumn]; ok {
			out = append(out, s)
			delete(by, s.SourceColumn)
		}
	}
	return out
}
