package mapping

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ingest-cli/internal/confidence"
	"github.com/sells-group/ingest-cli/internal/model"
)

func testSchema() *model.TargetTable {
	return &model.TargetTable{
		Name: "contacts",
		Columns: []model.TargetColumn{
			{Name: "email", DataType: "text", Required: true},
			{Name: "name", DataType: "text", Required: true},
			{Name: "company", DataType: "text"},
			{Name: "phone", DataType: "text"},
		},
	}
}

func testSources() []model.SourceColumn {
	var out []model.SourceColumn
	for _, s := range testSuggestions() {
		out = append(out, model.SourceColumn{Name: s.SourceColumn, Type: model.TypeText})
	}
	return out
}

func TestComputeStats_BucketsSumToTotal(t *testing.T) {
	states := []State{loaded(t)}
	s, err := Reduce(loaded(t), UpdateMapping{Source: "Phone", Target: model.ImportAsNew()})
	require.NoError(t, err)
	states = append(states, s)
	s, err = Reduce(s, UpdateMapping{Source: "Company", Target: model.Ignore()})
	require.NoError(t, err)
	states = append(states, s)
	s, err = Reduce(s, ClearAll{})
	require.NoError(t, err)
	states = append(states, s, State{})

	for _, st := range states {
		stats := ComputeStats(Effective(st))
		assert.Equal(t, stats.Total, stats.Mapped+stats.Ignored+stats.ImportAsNew+stats.Unmapped)
	}
}

func TestComputeStats_Counts(t *testing.T) {
	s, err := Reduce(loaded(t), UpdateMapping{Source: "Phone", Target: model.ImportAsNew()})
	require.NoError(t, err)

	stats := ComputeStats(Effective(s))
	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 3, stats.Mapped)
	assert.Equal(t, 1, stats.ImportAsNew)
	assert.Equal(t, 1, stats.Unmapped)
	assert.Equal(t, 0, stats.Ignored)
	assert.Equal(t, 88.0, stats.AvgConfidence[model.KindColumn])
	assert.Equal(t, 2, stats.ByLevel[confidence.LevelHigh])
	assert.Equal(t, 1, stats.ByLevel[confidence.LevelMedium])
	assert.Contains(t, stats.Summary(), "3 mapped")
}

func TestValidate_AllRequiredMapped_CanProceed(t *testing.T) {
	s := loaded(t)
	res := Validate(testSources(), testSchema(), Effective(s), s.User)

	assert.True(t, res.CanProceed)
	assert.True(t, res.IsValid)
	assert.NotEmpty(t, res.Warnings, "unmapped Phone and Employer still warn")
}

func TestValidate_MissingRequired_Blocks(t *testing.T) {
	s, err := Reduce(loaded(t), UpdateMapping{Source: "Full Name", Target: model.Ignore()})
	require.NoError(t, err)

	res := Validate(testSources(), testSchema(), Effective(s), s.User)
	assert.False(t, res.CanProceed)
	assert.False(t, res.IsValid)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, model.SeverityHigh, res.Issues[0].Severity)
	assert.Equal(t, "name", res.Issues[0].Column)
}

func TestValidate_WarningSeverities(t *testing.T) {
	s := loaded(t)
	s, err := Reduce(s, UpdateMapping{Source: "Phone", Target: model.Ignore()})
	require.NoError(t, err)

	res := Validate(testSources(), testSchema(), Effective(s), s.User)

	bySource := map[string]model.Severity{}
	for _, w := range res.Warnings {
		bySource[w.Column] = w.Severity
	}
	assert.Equal(t, model.SeverityLow, bySource["Phone"], "ignored")
	assert.Equal(t, model.SeverityMedium, bySource["Employer"], "imported as new")
	_, companyWarned := bySource["Company"]
	assert.False(t, companyWarned, "75 is not low confidence")
}

func TestValidate_LowConfidenceAutomaticMapping(t *testing.T) {
	s, err := Reduce(State{}, LoadSuggestions{Suggestions: []model.MappingSuggestion{
		{SourceColumn: "mail", TargetColumn: "email", Confidence: 60, MappingType: model.MappingAI},
		{SourceColumn: "who", TargetColumn: "name", Confidence: 95, MappingType: model.MappingExact},
	}})
	require.NoError(t, err)

	sources := []model.SourceColumn{{Name: "mail"}, {Name: "who"}}
	res := Validate(sources, testSchema(), Effective(s), s.User)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "mail", res.Warnings[0].Column)

	// Confirming the choice silences the warning.
	s, err = Reduce(s, UpdateMapping{Source: "mail", Target: model.Column("email")})
	require.NoError(t, err)
	res = Validate(sources, testSchema(), Effective(s), s.User)
	assert.Empty(t, res.Warnings)
}

func TestValidate_CreateModeHasNoRequirements(t *testing.T) {
	s := loaded(t)
	res := Validate(testSources(), nil, Effective(s), s.User)
	assert.True(t, res.CanProceed)
	assert.Empty(t, res.Issues)
}

func TestValidate_UnknownTargetIsNonBlockingIssue(t *testing.T) {
	s, err := Reduce(loaded(t), UpdateMapping{Source: "Phone", Target: model.Column("fax")})
	require.NoError(t, err)

	res := Validate(testSources(), testSchema(), Effective(s), s.User)
	assert.False(t, res.IsValid)
	assert.True(t, res.CanProceed)
}

func TestOptions_ExcludesClaimedTargets(t *testing.T) {
	eff := Effective(loaded(t))

	labels := func(opts []Option) []string {
		var out []string
		for _, o := range opts {
			out = append(out, o.Target.String())
		}
		return out
	}

	employer := labels(Options(testSchema(), eff, "Employer"))
	assert.NotContains(t, employer, "company")
	assert.NotContains(t, employer, "email")
	assert.Contains(t, employer, "phone")

	company := Options(testSchema(), eff, "Company")
	var selected []string
	for _, o := range company {
		if o.Selected {
			selected = append(selected, o.Target.String())
		}
	}
	assert.Equal(t, []string{"company"}, selected, "own selection is kept")
}

func TestOptions_NoSchemaOnlySentinels(t *testing.T) {
	opts := Options(nil, nil, "x")
	require.Len(t, opts, 2)
	assert.True(t, opts[0].Target.IsImportAsNew())
	assert.True(t, opts[1].Target.IsIgnore())
}

func TestProfile_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.yaml")
	in := Profile{
		Name:  "contacts",
		Table: "contacts",
		Mappings: model.UserMappings{
			"Email":     model.Column("email"),
			"Notes":     model.Ignore(),
			"Region":    model.ImportAsNew(),
			"Literal":   model.Column("ignore_column"),
			"Undecided": model.Unset(),
		},
	}
	require.NoError(t, SaveProfile(path, in))

	out, err := LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, in.Mappings, out.Mappings)
	assert.True(t, out.Mappings["Literal"].IsColumn(), "a real column named like a sentinel survives")
	assert.False(t, out.SavedAt.IsZero())
}
