package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ingest-cli/internal/advisor"
	"github.com/sells-group/ingest-cli/internal/analysis"
	"github.com/sells-group/ingest-cli/internal/compat"
	"github.com/sells-group/ingest-cli/internal/mapping"
	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/recovery"
	"github.com/sells-group/ingest-cli/internal/upload"
	"github.com/sells-group/ingest-cli/internal/wizard"
	"github.com/sells-group/ingest-cli/pkg/ingestapi"
)

type analyzerFunc func(ctx context.Context, f model.File, opts analysis.Options) (*model.AnalysisResult, error)

func (fn analyzerFunc) Analyze(ctx context.Context, f model.File, opts analysis.Options) (*model.AnalysisResult, error) {
	return fn(ctx, f, opts)
}

type backendFunc func(ctx context.Context, req upload.Request) (*model.UploadResult, error)

func (fn backendFunc) Upload(ctx context.Context, req upload.Request) (*model.UploadResult, error) {
	return fn(ctx, req)
}

type advisorFunc func(ctx context.Context, req advisor.Request) (*advisor.Advice, error)

func (fn advisorFunc) Recommend(ctx context.Context, req advisor.Request) (*advisor.Advice, error) {
	return fn(ctx, req)
}

func csvFile(t *testing.T) model.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Leads 2024.csv")
	require.NoError(t, os.WriteFile(path, []byte("email,name,region\na@b.co,Ann,West\n"), 0o600))
	f, err := model.FileFromPath(path)
	require.NoError(t, err)
	return f
}

func quickResult() *model.AnalysisResult {
	return &model.AnalysisResult{
		FileName: "Leads 2024.csv",
		RowCount: 1,
		SourceColumns: []model.SourceColumn{
			{Name: "email", Type: model.TypeEmail},
			{Name: "name", Type: model.TypeText},
			{Name: "region", Type: model.TypeText},
		},
		Suggestions: []model.MappingSuggestion{
			{SourceColumn: "email", MappingType: model.MappingPattern},
			{SourceColumn: "name", MappingType: model.MappingPattern},
			{SourceColumn: "region", MappingType: model.MappingPattern},
		},
		OverallConfidence: 95,
		ConfidenceSource:  model.ConfidenceFromBackend,
		RecommendQuick:    true,
	}
}

func contactsTable() *model.TargetTable {
	return &model.TargetTable{Name: "contacts", Columns: []model.TargetColumn{
		{Name: "email", DataType: "text", Required: true},
		{Name: "full_name", DataType: "text", Required: true},
		{Name: "phone", DataType: "text"},
	}}
}

// appendResult targets contacts: region is new, phone is missing and name
// maps to full_name.
func appendResult() *model.AnalysisResult {
	res := quickResult()
	res.TargetTable = contactsTable()
	res.OverallConfidence = 72
	res.ConfidenceSource = model.ConfidenceDerived
	res.RecommendQuick = false
	res.Suggestions = []model.MappingSuggestion{
		{SourceColumn: "email", TargetColumn: "email", Confidence: 100, MappingType: model.MappingExact},
		{SourceColumn: "name", TargetColumn: "full_name", Confidence: 85, MappingType: model.MappingPattern},
		{SourceColumn: "region", MappingType: model.MappingPattern},
	}
	res.NewColumns = []string{"name", "region"}
	res.MissingColumns = []string{"full_name", "phone"}
	return res
}

func staticAnalyzer(res *model.AnalysisResult) analyzerFunc {
	return func(context.Context, model.File, analysis.Options) (*model.AnalysisResult, error) {
		return res, nil
	}
}

func recordingBackend(got *upload.Request) backendFunc {
	return func(_ context.Context, req upload.Request) (*model.UploadResult, error) {
		*got = req
		return &model.UploadResult{RowsProcessed: 1, ColumnsMapped: len(req.Mappings), TableName: req.Options.TargetTable}, nil
	}
}

// highSeverityAdvisor flags the missing phone column as high severity.
func highSeverityAdvisor() advisorFunc {
	return func(context.Context, advisor.Request) (*advisor.Advice, error) {
		return &advisor.Advice{
			Recommendations: []model.Recommendation{
				{Column: "region", Side: model.SideNew, Severity: model.SeverityMedium, SuggestedAction: model.ActionAddColumn},
				{Column: "phone", Side: model.SideMissing, Severity: model.SeverityHigh, SuggestedAction: model.ActionSkipColumn},
			},
			Confidence: 60,
		}, nil
	}
}

func testWizard(deps wizard.Deps) *wizard.Wizard {
	cfg := wizard.DefaultConfig()
	cfg.AutoRetry = false
	cfg.ProgressInterval = time.Millisecond
	cfg.UploadTimeout = time.Second
	return wizard.New(deps, cfg)
}

func TestRunUpload_QuickNewTable(t *testing.T) {
	var got upload.Request
	w := testWizard(wizard.Deps{Analyzer: staticAnalyzer(quickResult()), Backend: recordingBackend(&got)})
	defer w.Close()

	var out bytes.Buffer
	res, err := runUpload(context.Background(), w, csvFile(t), uploadFlags{}, &out)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RowsProcessed)
	assert.Equal(t, model.ModeQuick, got.Mode)
	assert.Equal(t, model.OperationCreate, got.Options.OperationMode)
	assert.Equal(t, model.ImportAsNew(), got.Mappings["region"])
	assert.Contains(t, out.String(), "confidence 95")
}

func TestRunUpload_ModeDecisionDefaultsToQuick(t *testing.T) {
	res := quickResult()
	res.OverallConfidence = 60
	res.RecommendQuick = false
	var got upload.Request
	w := testWizard(wizard.Deps{Analyzer: staticAnalyzer(res), Backend: recordingBackend(&got)})
	defer w.Close()

	var out bytes.Buffer
	_, err := runUpload(context.Background(), w, csvFile(t), uploadFlags{}, &out)
	require.NoError(t, err)
	assert.Equal(t, model.ModeQuick, got.Mode)
	assert.Contains(t, out.String(), "Mode: quick")
}

func TestRunUpload_PendingApprovalsStop(t *testing.T) {
	var got upload.Request
	w := testWizard(wizard.Deps{
		Analyzer: staticAnalyzer(appendResult()),
		Reviewer: compat.NewReviewer(highSeverityAdvisor()),
		Backend:  recordingBackend(&got),
	})
	defer w.Close()

	var out bytes.Buffer
	_, err := runUpload(context.Background(), w, csvFile(t),
		uploadFlags{Table: "contacts", Mode: model.ModeAdvanced}, &out)
	require.ErrorIs(t, err, wizard.ErrApprovalsPending)
	assert.Contains(t, err.Error(), "phone")
	assert.Equal(t, model.PhaseSchemaCompatibility, w.Phase())
	assert.Contains(t, out.String(), "[high] missing column phone: skip_column")
}

func TestRunUpload_ApproveAllAndSaveProfile(t *testing.T) {
	var got upload.Request
	w := testWizard(wizard.Deps{
		Analyzer: staticAnalyzer(appendResult()),
		Reviewer: compat.NewReviewer(highSeverityAdvisor()),
		Scorer:   compat.LocalScorer{},
		Backend:  recordingBackend(&got),
	})
	defer w.Close()

	profilePath := filepath.Join(t.TempDir(), "contacts.yaml")
	var out bytes.Buffer
	res, err := runUpload(context.Background(), w, csvFile(t), uploadFlags{
		Table:       "contacts",
		Mode:        model.ModeAdvanced,
		ApproveAll:  true,
		AutoApply:   true,
		SaveProfile: profilePath,
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "contacts", res.TableName)
	assert.Equal(t, model.ModeAdvanced, got.Mode)
	assert.Equal(t, model.ImportAsNew(), got.Mappings["region"], "add_column recommendation applied")
	assert.Equal(t, model.Column("full_name"), got.Mappings["name"])

	p, err := mapping.LoadProfile(profilePath)
	require.NoError(t, err)
	assert.Equal(t, "contacts", p.Table)
	assert.Equal(t, model.ImportAsNew(), p.Mappings["region"])
	assert.Contains(t, out.String(), "Saved mapping profile")
}

func TestRunUpload_AppliesProfile(t *testing.T) {
	res := quickResult()
	res.OverallConfidence = 60
	res.RecommendQuick = false
	var got upload.Request
	w := testWizard(wizard.Deps{Analyzer: staticAnalyzer(res), Backend: recordingBackend(&got)})
	defer w.Close()

	profilePath := filepath.Join(t.TempDir(), "leads.yaml")
	require.NoError(t, mapping.SaveProfile(profilePath, mapping.Profile{
		Name:     "leads",
		Mappings: model.UserMappings{"region": model.Ignore()},
	}))

	var out bytes.Buffer
	_, err := runUpload(context.Background(), w, csvFile(t), uploadFlags{
		Mode:    model.ModeAdvanced,
		Profile: profilePath,
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, model.Ignore(), got.Mappings["region"])
	assert.Contains(t, out.String(), "Applied 1 mappings from profile leads")
}

func TestRunUpload_AnalysisFailureIsClassified(t *testing.T) {
	analyzer := analyzerFunc(func(context.Context, model.File, analysis.Options) (*model.AnalysisResult, error) {
		return nil, &ingestapi.APIError{StatusCode: 404, Code: "TABLE_NOT_FOUND", Message: "no such table"}
	})
	w := testWizard(wizard.Deps{Analyzer: analyzer, Backend: recordingBackend(new(upload.Request))})
	defer w.Close()

	_, err := runUpload(context.Background(), w, csvFile(t), uploadFlags{Table: "ghost"}, &bytes.Buffer{})
	var pe *recovery.ParsedError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, recovery.KindTableNotFound, pe.Kind)
}

func TestUploadWithRetries_NonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	backend := backendFunc(func(context.Context, upload.Request) (*model.UploadResult, error) {
		calls++
		return nil, &ingestapi.APIError{StatusCode: 403, Code: "FORBIDDEN"}
	})
	w := testWizard(wizard.Deps{Analyzer: staticAnalyzer(quickResult()), Backend: backend})
	defer w.Close()

	_, err := w.SelectFile(context.Background(), csvFile(t), model.FileOptions{})
	require.NoError(t, err)
	require.Equal(t, model.PhaseUploadProcessing, w.Phase())

	_, err = uploadWithRetries(context.Background(), w, 3, &bytes.Buffer{})
	var pe *recovery.ParsedError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, recovery.KindPermissionDenied, pe.Kind)
	assert.Equal(t, 1, calls)
}

func TestUploadWithRetries_ZeroRetries(t *testing.T) {
	calls := 0
	backend := backendFunc(func(context.Context, upload.Request) (*model.UploadResult, error) {
		calls++
		return nil, &ingestapi.APIError{StatusCode: 503, Message: "maintenance"}
	})
	w := testWizard(wizard.Deps{Analyzer: staticAnalyzer(quickResult()), Backend: backend})
	defer w.Close()

	_, err := w.SelectFile(context.Background(), csvFile(t), model.FileOptions{})
	require.NoError(t, err)

	_, err = uploadWithRetries(context.Background(), w, 0, &bytes.Buffer{})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
