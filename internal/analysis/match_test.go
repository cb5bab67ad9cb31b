package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ingest-cli/internal/model"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Email Address", "email_address"},
		{"  FirstName ", "first_name"},
		{"userID", "user_id"},
		{"E-mail", "e_mail"},
		{"ZIP  code!!", "zip_code"},
		{"Café Name", "cafe_name"},
		{"Número", "numero"},
		{"already_snake", "already_snake"},
		{"---", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeName(tt.in), "in=%q", tt.in)
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b     string
		want     float64
		wantKind model.MappingType
	}{
		{"Email", "email", 100, model.MappingExact},
		{"First Name", "firstname", 89, model.MappingPattern},
		{"Mobile", "phone", 85, model.MappingPattern},
		{"Company Name", "company", 85, model.MappingPattern},
		{"Order Date", "order_dt", 70, model.MappingPattern},
		{"Fruit", "email", 0, model.MappingPattern},
		{"", "email", 0, model.MappingPattern},
	}
	for _, tt := range tests {
		got, kind := Similarity(tt.a, tt.b)
		assert.Equal(t, tt.want, got, "%s ~ %s", tt.a, tt.b)
		assert.Equal(t, tt.wantKind, kind, "%s ~ %s", tt.a, tt.b)
	}
}

func TestSimilarity_PatternStaysBelowHigh(t *testing.T) {
	pairs := [][2]string{
		{"customer_name", "customer_nm"},
		{"order number", "order_no"},
		{"shipping address", "ship_address"},
	}
	for _, p := range pairs {
		got, kind := Similarity(p[0], p[1])
		if got == 0 {
			continue
		}
		assert.Equal(t, model.MappingPattern, kind)
		assert.GreaterOrEqual(t, got, 60.0)
		assert.Less(t, got, 90.0)
	}
}

func TestMatchColumns_TargetsAssignedOnce(t *testing.T) {
	sources := []model.SourceColumn{
		{Name: "Email Address", Type: model.TypeEmail},
		{Name: "Mail", Type: model.TypeEmail},
		{Name: "Full Name", Type: model.TypeText},
		{Name: "Widget", Type: model.TypeText},
	}
	table := &model.TargetTable{Name: "contacts", Columns: []model.TargetColumn{
		{Name: "email", DataType: "text", Required: true},
		{Name: "name", DataType: "text", Required: true},
		{Name: "notes", DataType: "text"},
	}}

	sugs := matchColumns(sources, table)
	require.Len(t, sugs, 4)
	assert.Equal(t, model.MappingSuggestion{SourceColumn: "Email Address", TargetColumn: "email", Confidence: 85, MappingType: model.MappingPattern}, sugs[0])
	assert.Empty(t, sugs[1].TargetColumn, "email is already taken")
	assert.Equal(t, "name", sugs[2].TargetColumn)
	assert.Empty(t, sugs[3].TargetColumn)
	assert.Zero(t, sugs[3].Confidence)
}

func TestMatchColumns_TypeMismatchPenalized(t *testing.T) {
	sources := []model.SourceColumn{{Name: "Total", Type: model.TypeText}}
	table := &model.TargetTable{Columns: []model.TargetColumn{{Name: "amount", DataType: "integer"}}}

	sugs := matchColumns(sources, table)
	assert.Equal(t, "amount", sugs[0].TargetColumn)
	assert.Equal(t, 70.0, sugs[0].Confidence)
}

func TestMatchColumns_NoTable(t *testing.T) {
	sugs := matchColumns([]model.SourceColumn{{Name: "a"}}, nil)
	require.Len(t, sugs, 1)
	assert.Empty(t, sugs[0].TargetColumn)
}

func TestColumnDiff(t *testing.T) {
	sources := []model.SourceColumn{{Name: "Email"}, {Name: "Full Name"}, {Name: "Extra"}}
	table := &model.TargetTable{Columns: []model.TargetColumn{{Name: "email"}, {Name: "full_name"}, {Name: "phone"}}}

	missing, added := columnDiff(sources, table)
	assert.Equal(t, []string{"phone"}, missing)
	assert.Equal(t, []string{"Extra"}, added)

	missing, added = columnDiff(sources, nil)
	assert.Nil(t, missing)
	assert.Nil(t, added)
}
