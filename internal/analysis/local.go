package analysis

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ingest-cli/internal/confidence"
	"github.com/sells-group/ingest-cli/internal/fetcher"
	"github.com/sells-group/ingest-cli/internal/model"
)

// DefaultSampleRows bounds how many rows the local analyzer profiles.
const DefaultSampleRows = 1000

// ErrNoCatalog is returned when a target table is requested from a local
// analyzer that has no catalog.
var ErrNoCatalog = eris.New("analysis: no table catalog configured")

// Local analyzes files in-process: it reads a sample, infers column types,
// matches headers to the target table and grades data quality.
type Local struct {
	catalog    Catalog
	ai         *AIMatcher
	sampleRows int
}

// LocalOption configures a Local analyzer.
type LocalOption func(*Local)

// WithCatalog supplies target-table schemas.
func WithCatalog(c Catalog) LocalOption { return func(l *Local) { l.catalog = c } }

// WithAIMatcher enables the Claude fallback for unmatched columns.
func WithAIMatcher(m *AIMatcher) LocalOption { return func(l *Local) { l.ai = m } }

// WithSampleRows sets the profiling sample size.
func WithSampleRows(n int) LocalOption {
	return func(l *Local) {
		if n > 0 {
			l.sampleRows = n
		}
	}
}

// NewLocal creates a local analyzer.
func NewLocal(opts ...LocalOption) *Local {
	l := &Local{sampleRows: DefaultSampleRows}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Analyze implements Analyzer.
func (l *Local) Analyze(ctx context.Context, f model.File, opts Options) (*model.AnalysisResult, error) {
	log := zap.L().With(zap.String("file", f.Name), zap.String("target_table", opts.TargetTable))

	var table *model.TargetTable
	if opts.TargetTable != "" {
		if l.catalog == nil {
			return nil, ErrNoCatalog
		}
		t, err := l.catalog.DescribeTable(ctx, opts.TargetTable)
		if err != nil {
			return nil, eris.Wrapf(err, "analysis: describe %s", opts.TargetTable)
		}
		table = t
	}

	sample, err := fetcher.ReadSample(ctx, f.Path, l.sampleRows)
	if err != nil {
		return nil, eris.Wrapf(err, "analysis: read %s", f.Name)
	}
	profiles, err := profileColumns(ctx, sample)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: profile columns")
	}

	sources := make([]model.SourceColumn, len(profiles))
	for i, p := range profiles {
		sources[i] = model.SourceColumn{
			Name:         p.Name,
			Type:         p.Type,
			SampleValues: p.Samples,
			NullCount:    p.NullCount,
		}
	}

	sugs := matchColumns(sources, table)
	if opts.UseAIFallback && l.ai != nil && table != nil {
		filled, err := l.ai.Suggest(ctx, sources, table, sugs)
		if err != nil {
			if ctx.Err() != nil {
				return nil, eris.Wrap(ctx.Err(), "analysis: ai match")
			}
			// Name matching alone is still a usable answer.
			log.Warn("analysis: ai fallback failed", zap.Error(err))
		} else {
			sugs = filled
		}
	}
	applyThreshold(sugs, opts.ConfidenceThreshold)

	missing, added := columnDiff(sources, table)
	res := &model.AnalysisResult{
		FileName:         f.Name,
		RowCount:         sample.TotalRows,
		SourceColumns:    sources,
		TargetTable:      table,
		Suggestions:      sugs,
		MissingColumns:   missing,
		NewColumns:       added,
		QualityIssues:    qualityIssues(sample, profiles),
		ConfidenceSource: model.ConfidenceDerived,
	}

	if table != nil {
		res.OverallConfidence = DerivedConfidence(sugs)
	} else {
		// A new table takes the file's shape, so only type certainty counts.
		scores := make([]float64, 0, len(profiles))
		for _, p := range profiles {
			scores = append(scores, p.TypeShare*confidence.Max)
		}
		res.OverallConfidence = confidence.Average(scores)
	}
	res.RecommendQuick = res.OverallConfidence >= confidence.High &&
		!res.HasHighSeverityIssues() &&
		!missingRequired(table, sugs)

	log.Debug("analysis: local analysis complete",
		zap.Int("rows", res.RowCount),
		zap.Int("columns", len(sources)),
		zap.Float64("confidence", res.OverallConfidence),
		zap.Bool("recommend_quick", res.RecommendQuick),
	)
	return res, nil
}

// missingRequired reports whether a required table column has no suggestion.
func missingRequired(table *model.TargetTable, sugs []model.MappingSuggestion) bool {
	if table == nil {
		return false
	}
	covered := make(map[string]bool, len(sugs))
	for _, s := range sugs {
		covered[s.TargetColumn] = true
	}
	for _, c := range table.Columns {
		if c.Required && !covered[c.Name] {
			return true
		}
	}
	return false
}
