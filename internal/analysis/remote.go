package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ingest-cli/internal/confidence"
	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/pkg/ingestapi"
)

// Remote analyzes files with the ingest backend. Backend confidences are on
// a 0-1 scale and are normalized here, before anything compares them.
type Remote struct {
	client ingestapi.Client
}

// NewRemote creates a remote analyzer.
func NewRemote(client ingestapi.Client) *Remote {
	return &Remote{client: client}
}

// Analyze implements Analyzer.
func (r *Remote) Analyze(ctx context.Context, f model.File, opts Options) (*model.AnalysisResult, error) {
	body, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck

	resp, err := r.client.Analyze(ctx, ingestapi.File{Name: f.Name, Body: body}, ingestapi.AnalyzeRequest{
		TargetTable:         opts.TargetTable,
		UseAIFallback:       opts.UseAIFallback,
		ConfidenceThreshold: opts.ConfidenceThreshold / confidence.Max,
	})
	if err != nil {
		return nil, err
	}
	res := FromResponse(resp)
	applyThreshold(res.Suggestions, opts.ConfidenceThreshold)
	if res.ConfidenceSource == model.ConfidenceDerived {
		res.OverallConfidence = DerivedConfidence(res.Suggestions)
	}

	zap.L().Debug("analysis: remote analysis complete",
		zap.String("file", f.Name),
		zap.Int("columns", len(res.SourceColumns)),
		zap.Float64("confidence", res.OverallConfidence),
		zap.String("confidence_source", string(res.ConfidenceSource)),
	)
	return res, nil
}

// FromResponse converts a backend analysis into the domain model.
func FromResponse(resp *ingestapi.AnalyzeResponse) *model.AnalysisResult {
	res := &model.AnalysisResult{
		FileName:       resp.FileName,
		RowCount:       resp.TotalRows,
		MissingColumns: resp.MissingColumns,
		NewColumns:     resp.NewColumns,
		RecommendQuick: resp.RecommendQuickUpload,
	}

	for _, c := range resp.Columns {
		res.SourceColumns = append(res.SourceColumns, model.SourceColumn{
			Name:         c.Name,
			Type:         semanticType(c.DataType),
			SampleValues: stringify(c.SampleValues),
			NullCount:    c.NullCount,
		})
	}

	if resp.TargetTable != nil {
		res.TargetTable = TableFromSchema(resp.TargetTable)
	}

	var sugs []model.MappingSuggestion
	for _, s := range resp.MappingSuggestions {
		ms := model.MappingSuggestion{
			SourceColumn: s.SourceColumn,
			Confidence:   confidence.Normalize(s.Confidence),
			MappingType:  mappingType(s.MappingType),
		}
		if s.TargetColumn != nil {
			ms.TargetColumn = *s.TargetColumn
		}
		if ms.TargetColumn == "" {
			ms.Confidence = 0
		}
		sugs = append(sugs, ms)
	}
	res.Suggestions = ensureSuggestions(res.SourceColumns, sugs)

	for _, q := range resp.DataQuality.Issues {
		msg := q.Message
		if msg == "" {
			msg = strings.ReplaceAll(q.Type, "_", " ")
		}
		res.QualityIssues = append(res.QualityIssues, model.DataQualityIssue{
			Column:   q.Column,
			Severity: severity(q.Severity),
			Message:  msg,
		})
	}

	if resp.OverallConfidence != nil {
		res.OverallConfidence = confidence.Normalize(*resp.OverallConfidence)
		res.ConfidenceSource = model.ConfidenceFromBackend
	} else {
		res.OverallConfidence = DerivedConfidence(res.Suggestions)
		res.ConfidenceSource = model.ConfidenceDerived
	}
	return res
}

// TableFromSchema converts a backend schema. A column is required when it
// is neither nullable nor defaulted.
func TableFromSchema(s *ingestapi.TableSchema) *model.TargetTable {
	t := &model.TargetTable{
		Name:        s.TableName,
		RowCount:    s.RowCount,
		ColumnCount: len(s.Columns),
	}
	for _, c := range s.Columns {
		t.Columns = append(t.Columns, model.TargetColumn{
			Name:     c.Name,
			DataType: c.DataType,
			Required: c.Required(),
		})
	}
	return t
}

func semanticType(dataType string) model.SemanticType {
	switch strings.ToLower(strings.TrimSpace(dataType)) {
	case "int", "integer", "bigint", "smallint", "int64":
		return model.TypeInteger
	case "float", "double", "decimal", "numeric", "number", "float64", "real":
		return model.TypeDecimal
	case "bool", "boolean":
		return model.TypeBoolean
	case "date":
		return model.TypeDate
	case "datetime", "timestamp", "timestamptz", "datetime64":
		return model.TypeDateTime
	case "email":
		return model.TypeEmail
	case "phone":
		return model.TypePhone
	case "url", "uri":
		return model.TypeURL
	case "string", "text", "varchar", "str", "object", "category":
		return model.TypeText
	default:
		return model.TypeUnknown
	}
}

func mappingType(s string) model.MappingType {
	switch t := model.MappingType(strings.ToLower(s)); t {
	case model.MappingExact, model.MappingPattern, model.MappingAI, model.MappingManual:
		return t
	default:
		return model.MappingAI
	}
}

func severity(s string) model.Severity {
	sv := model.Severity(strings.ToLower(s))
	if sv.Rank() == 0 {
		return model.SeverityLow
	}
	return sv
}

func stringify(values []any) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == nil {
			out = append(out, "")
			continue
		}
		out = append(out, fmt.Sprint(v))
	}
	return out
}

// RemoteCatalog serves the table catalog from the backend.
type RemoteCatalog struct {
	client ingestapi.Client
}

// NewRemoteCatalog creates a catalog over client.
func NewRemoteCatalog(client ingestapi.Client) *RemoteCatalog {
	return &RemoteCatalog{client: client}
}

// ListTables implements Catalog.
func (c *RemoteCatalog) ListTables(ctx context.Context) ([]model.TableSummary, error) {
	tables, err := c.client.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.TableSummary, 0, len(tables))
	for _, t := range tables {
		out = append(out, model.TableSummary{
			TableName:   t.TableName,
			RowCount:    t.RowCount,
			ColumnCount: t.ColumnCount,
		})
	}
	return out, nil
}

// DescribeTable implements Catalog.
func (c *RemoteCatalog) DescribeTable(ctx context.Context, table string) (*model.TargetTable, error) {
	s, err := c.client.DescribeTable(ctx, table)
	if err != nil {
		return nil, err
	}
	if s.TableName == "" {
		return nil, eris.Errorf("analysis: empty schema for table %s", table)
	}
	return TableFromSchema(s), nil
}
