package mapping

import "github.com/sells-group/ingest-cli/internal/model"

// Option is one selectable target for a source column.
type Option struct {
	Target   model.MappingTarget `json:"target"`
	Label    string              `json:"label"`
	Selected bool                `json:"selected"`
}

// Options lists the targets a source column may choose. A column consumed
// by another source's active mapping is left out; the source's own current
// column stays so its selection can still render.
func Options(schema *model.TargetTable, effective []model.EffectiveMapping, source string) []Option {
	current := model.Unset()
	taken := map[string]bool{}
	for _, em := range effective {
		if em.SourceColumn == source {
			current = em.Target
			continue
		}
		if col := em.Target.ColumnName(); col != "" {
			taken[col] = true
		}
	}

	opts := []Option{
		{Target: model.ImportAsNew(), Label: "Import as new column", Selected: current.IsImportAsNew()},
		{Target: model.Ignore(), Label: "Ignore column", Selected: current.IsIgnore()},
	}
	if schema == nil {
		return opts
	}
	for _, col := range schema.Columns {
		if taken[col.Name] {
			continue
		}
		label := col.Name
		if col.Required {
			label += " (required)"
		}
		opts = append(opts, Option{
			Target:   model.Column(col.Name),
			Label:    label,
			Selected: current.ColumnName() == col.Name,
		})
	}
	return opts
}
