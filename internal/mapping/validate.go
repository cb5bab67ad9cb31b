package mapping

import (
	"fmt"

	"github.com/sells-group/ingest-cli/internal/confidence"
	"github.com/sells-group/ingest-cli/internal/model"
)

// Validate checks effective mappings against the target schema. A nil
// schema means a new table is being created, so nothing is required.
//
// Issues: required target columns without a mapping (high, blocks) and
// mappings to columns the schema does not have (medium). Warnings: columns
// imported as new (medium), ignored columns (low), low-confidence automatic
// mappings (medium).
func Validate(sourceColumns []model.SourceColumn, schema *model.TargetTable, effective []model.EffectiveMapping, user model.UserMappings) model.ValidationResult {
	res := model.ValidationResult{
		Issues:   []model.ValidationIssue{},
		Warnings: []model.ValidationIssue{},
	}

	byTarget := map[string]bool{}
	bySource := map[string]model.EffectiveMapping{}
	for _, em := range effective {
		bySource[em.SourceColumn] = em
		if col := em.Target.ColumnName(); col != "" {
			byTarget[col] = true
		}
	}

	if schema != nil {
		for _, col := range schema.Columns {
			if col.Required && !byTarget[col.Name] {
				res.Issues = append(res.Issues, model.ValidationIssue{
					Severity: model.SeverityHigh,
					Column:   col.Name,
					Message:  fmt.Sprintf("required column %q has no mapping", col.Name),
				})
			}
		}
		for _, em := range effective {
			col := em.Target.ColumnName()
			if col == "" {
				continue
			}
			if _, ok := schema.Column(col); !ok {
				res.Issues = append(res.Issues, model.ValidationIssue{
					Severity: model.SeverityMedium,
					Column:   em.SourceColumn,
					Message:  fmt.Sprintf("%q is mapped to %q, which is not in table %s", em.SourceColumn, col, schema.Name),
				})
			}
		}
	}

	for _, sc := range sourceColumns {
		em, ok := bySource[sc.Name]
		if !ok {
			em = model.EffectiveMapping{SourceColumn: sc.Name, Target: model.Unset()}
		}
		switch {
		case em.Target.IsIgnore():
			res.Warnings = append(res.Warnings, model.ValidationIssue{
				Severity: model.SeverityLow,
				Column:   sc.Name,
				Message:  fmt.Sprintf("%q will not be uploaded", sc.Name),
			})
		case em.Target.IsImportAsNew() || em.Target.IsUnset():
			if schema == nil {
				continue
			}
			res.Warnings = append(res.Warnings, model.ValidationIssue{
				Severity: model.SeverityMedium,
				Column:   sc.Name,
				Message:  fmt.Sprintf("%q will be imported as a new column", sc.Name),
			})
		case em.Target.IsColumn():
			_, userChose := user[sc.Name]
			if !userChose && em.Confidence < confidence.Medium {
				res.Warnings = append(res.Warnings, model.ValidationIssue{
					Severity: model.SeverityMedium,
					Column:   sc.Name,
					Message: fmt.Sprintf("%q -> %q has low confidence (%.0f%%); review it",
						sc.Name, em.Target.ColumnName(), em.Confidence),
				})
			}
		}
	}

	res.IsValid = len(res.Issues) == 0
	res.CanProceed = true
	for _, iss := range res.Issues {
		if iss.Severity.Rank() >= model.SeverityHigh.Rank() {
			res.CanProceed = false
			break
		}
	}
	return res
}
