// Package compat reviews an analyzed file against its existing target
// table: it narrows the mismatches to those mapping has not already
// resolved, gathers advice for them and tracks user approvals.
package compat

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ingest-cli/internal/advisor"
	"github.com/sells-group/ingest-cli/internal/confidence"
	"github.com/sells-group/ingest-cli/internal/model"
)

var (
	// ErrNoTable is returned when the analysis has no existing target table.
	ErrNoTable = eris.New("compat: analysis has no target table")
	// ErrUnknownRecommendation is returned when approving a column that has
	// no recommendation.
	ErrUnknownRecommendation = eris.New("compat: no recommendation for column")
)

// Reviewer produces compatibility reports.
type Reviewer struct {
	advisor advisor.Advisor
}

// NewReviewer creates a reviewer. A nil advisor falls back to the
// name-based heuristic.
func NewReviewer(a advisor.Advisor) *Reviewer {
	if a == nil {
		a = advisor.Heuristic{}
	}
	return &Reviewer{advisor: a}
}

// Problematic filters the analysis' new and missing columns down to those
// no suggestion already covers at MEDIUM confidence or better.
func Problematic(res *model.AnalysisResult) (newCols, missingCols []string) {
	if res == nil {
		return nil, nil
	}
	coveredSource := make(map[string]bool)
	coveredTarget := make(map[string]bool)
	for _, s := range res.Suggestions {
		if s.TargetColumn == "" || s.Confidence < confidence.Medium {
			continue
		}
		coveredSource[s.SourceColumn] = true
		coveredTarget[s.TargetColumn] = true
	}
	for _, c := range res.NewColumns {
		if !coveredSource[c] {
			newCols = append(newCols, c)
		}
	}
	for _, c := range res.MissingColumns {
		if !coveredTarget[c] {
			missingCols = append(missingCols, c)
		}
	}
	return newCols, missingCols
}

// Review builds the compatibility report for res. When nothing is left
// after filtering, the advisor is not called and the report is fully
// compatible at 100% confidence.
func (r *Reviewer) Review(ctx context.Context, res *model.AnalysisResult) (*model.CompatibilityReport, error) {
	if !res.HasExistingTable() {
		return nil, ErrNoTable
	}
	newCols, missingCols := Problematic(res)
	report := &model.CompatibilityReport{
		TableName:          res.TargetTable.Name,
		ProblematicNew:     newCols,
		ProblematicMissing: missingCols,
		Approved:           map[string]bool{},
	}

	log := zap.L().With(zap.String("table", report.TableName))
	if len(newCols) == 0 && len(missingCols) == 0 {
		report.Confidence = confidence.Max
		log.Debug("compat: nothing to reconcile",
			zap.Int("new_columns", len(res.NewColumns)),
			zap.Int("missing_columns", len(res.MissingColumns)),
		)
		return report, nil
	}

	adv, err := r.advisor.Recommend(ctx, advisor.Request{
		Table:          res.TargetTable,
		SourceColumns:  res.SourceColumns,
		MissingColumns: missingCols,
		NewColumns:     newCols,
	})
	if err != nil {
		return nil, err
	}
	report.AdvisoryCalled = true
	report.Recommendations = adv.Recommendations
	report.Confidence = adv.Confidence

	log.Info("compat: review complete",
		zap.Int("problematic_new", len(newCols)),
		zap.Int("problematic_missing", len(missingCols)),
		zap.Int("recommendations", len(adv.Recommendations)),
		zap.Int("pending_approvals", len(report.PendingApprovals())),
	)
	return report, nil
}

// Approve returns a copy of report with column's recommendation approved.
func Approve(report *model.CompatibilityReport, column string) (*model.CompatibilityReport, error) {
	if report == nil {
		return nil, ErrUnknownRecommendation
	}
	found := false
	for _, rec := range report.Recommendations {
		if rec.Column == column {
			found = true
			break
		}
	}
	if !found {
		return nil, eris.Wrapf(ErrUnknownRecommendation, "compat: approve %s", column)
	}
	out := *report
	out.Approved = make(map[string]bool, len(report.Approved)+1)
	for k, v := range report.Approved {
		out.Approved[k] = v
	}
	out.Approved[column] = true
	return &out, nil
}

// CanProceed reports whether every high-severity recommendation has been
// approved.
func CanProceed(report *model.CompatibilityReport) bool {
	return len(report.PendingApprovals()) == 0
}

// Overrides turns recommendations into mapping overrides: add_column
// imports the source as new, skip_column ignores it and map_existing maps
// it onto the named column. Missing-side map_existing recommendations map
// the named file column onto the missing table column.
func Overrides(report *model.CompatibilityReport) model.UserMappings {
	out := model.UserMappings{}
	if report == nil {
		return out
	}
	for _, rec := range report.Recommendations {
		switch rec.Side {
		case model.SideNew:
			switch rec.SuggestedAction {
			case model.ActionAddColumn:
				out[rec.Column] = model.ImportAsNew()
			case model.ActionSkipColumn:
				out[rec.Column] = model.Ignore()
			case model.ActionMapExisting:
				if rec.TargetColumn != "" {
					out[rec.Column] = model.Column(rec.TargetColumn)
				}
			}
		case model.SideMissing:
			if rec.SuggestedAction == model.ActionMapExisting && rec.TargetColumn != "" {
				if _, set := out[rec.TargetColumn]; !set {
					out[rec.TargetColumn] = model.Column(rec.Column)
				}
			}
		}
	}
	return out
}
