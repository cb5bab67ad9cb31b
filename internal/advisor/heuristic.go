package advisor

import (
	"context"
	"fmt"

	"github.com/sells-group/ingest-cli/internal/analysis"
	"github.com/sells-group/ingest-cli/internal/confidence"
	"github.com/sells-group/ingest-cli/internal/model"
)

// Heuristic advises from column names alone. It needs no service and is
// used when no advisory backend is configured, and to fill gaps left by
// the Claude advisor.
type Heuristic struct{}

// Recommend implements Advisor.
func (Heuristic) Recommend(_ context.Context, req Request) (*Advice, error) {
	recs := heuristicRecommendations(req)
	return &Advice{Recommendations: recs, Confidence: adviceConfidence(recs)}, nil
}

func heuristicRecommendations(req Request) []model.Recommendation {
	var recs []model.Recommendation
	pairedMissing := make(map[string]string)

	for _, col := range req.NewColumns {
		target, score := closest(col, req.MissingColumns, pairedMissing)
		if score >= confidence.Low {
			pairedMissing[target] = col
			recs = append(recs, model.Recommendation{
				Column:          col,
				Side:            model.SideNew,
				Severity:        model.SeverityMedium,
				SuggestedAction: model.ActionMapExisting,
				TargetColumn:    target,
				Reason:          fmt.Sprintf("looks like existing column %q", target),
			})
			continue
		}
		recs = append(recs, model.Recommendation{
			Column:          col,
			Side:            model.SideNew,
			Severity:        model.SeverityMedium,
			SuggestedAction: model.ActionAddColumn,
			Reason:          "not in the table; a new column will be added",
		})
	}

	for _, col := range req.MissingColumns {
		required := false
		if tc, ok := req.Table.Column(col); ok {
			required = tc.Required
		}
		rec := model.Recommendation{
			Column:          col,
			Side:            model.SideMissing,
			Severity:        model.SeverityLow,
			SuggestedAction: model.ActionSkipColumn,
			Reason:          "not in the file; rows will leave it empty",
		}
		if src, ok := pairedMissing[col]; ok {
			rec.SuggestedAction = model.ActionMapExisting
			rec.TargetColumn = src
			rec.Reason = fmt.Sprintf("can be filled from file column %q", src)
		} else if required {
			rec.Severity = model.SeverityHigh
			rec.Reason = "required by the table but not in the file; inserts will fail"
		}
		recs = append(recs, rec)
	}
	return recs
}

// closest finds the candidate most similar to name, skipping taken ones.
func closest(name string, candidates []string, taken map[string]string) (string, float64) {
	best, bestScore := "", 0.0
	for _, c := range candidates {
		if _, used := taken[c]; used {
			continue
		}
		if s, _ := analysis.Similarity(name, c); s > bestScore {
			best, bestScore = c, s
		}
	}
	return best, bestScore
}
