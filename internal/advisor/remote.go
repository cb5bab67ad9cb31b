package advisor

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/ingest-cli/internal/confidence"
	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/pkg/ingestapi"
)

// Remote asks the ingest backend for recommendations.
type Remote struct {
	client ingestapi.Client
}

// NewRemote creates a remote advisor.
func NewRemote(client ingestapi.Client) *Remote {
	return &Remote{client: client}
}

// Recommend implements Advisor. Recommendations for columns that were not
// asked about are dropped.
func (r *Remote) Recommend(ctx context.Context, req Request) (*Advice, error) {
	names := make([]string, 0, len(req.SourceColumns))
	for _, c := range req.SourceColumns {
		names = append(names, c.Name)
	}
	resp, err := r.client.GetColumnMismatchRecommendations(ctx, ingestapi.RecommendationRequest{
		TableName:      req.TableName(),
		SourceColumns:  names,
		MissingColumns: req.MissingColumns,
		NewColumns:     req.NewColumns,
	})
	if err != nil {
		return nil, err
	}

	sides := req.sides()
	adv := &Advice{Confidence: confidence.Normalize(resp.Confidence)}
	for _, rec := range resp.Recommendations {
		side, ok := sides[rec.ColumnName]
		if !ok {
			zap.L().Debug("advisor: dropping recommendation for unrequested column",
				zap.String("column", rec.ColumnName),
			)
			continue
		}
		out := model.Recommendation{
			Column:          rec.ColumnName,
			Side:            side,
			Severity:        parseSeverity(rec.Severity, model.SeverityMedium),
			SuggestedAction: parseAction(rec.SuggestedAction, side),
			Reason:          rec.Reason,
		}
		if rec.TargetColumn != nil {
			out.TargetColumn = *rec.TargetColumn
		}
		adv.Recommendations = append(adv.Recommendations, out)
	}
	return adv, nil
}
