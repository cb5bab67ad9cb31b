package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_Rows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"contacts"}, []string{"email", "name"}).WillReturnResult(3)

	src := pgx.CopyFromRows([][]any{{"a@x.io", "Ann"}, {"b@x.io", "Bo"}, {"c@x.io", nil}})
	n, err := CopyFrom(context.Background(), mock, Table{Name: "contacts"}, []string{"email", "name"}, src)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_SchemaQualified(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"crm", "contacts"}, []string{"email"}).WillReturnResult(2)

	src := pgx.CopyFromRows([][]any{{"a@x.io"}, {"b@x.io"}})
	n, err := CopyFrom(context.Background(), mock, ParseTable("crm.contacts"), []string{"email"}, src)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"crm", "contacts"}, []string{"email"}).WillReturnError(fmt.Errorf("permission denied"))

	_, err = CopyFrom(context.Background(), mock, ParseTable("crm.contacts"), []string{"email"}, pgx.CopyFromRows([][]any{{"a@x.io"}}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "copy into crm.contacts")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_NoColumns(t *testing.T) {
	_, err := CopyFrom(context.Background(), nil, Table{Name: "contacts"}, nil, pgx.CopyFromRows(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns")
}

func TestParseTable(t *testing.T) {
	tests := []struct {
		input    string
		want     Table
		sanitize string
	}{
		{"contacts", Table{Name: "contacts"}, `"contacts"`},
		{"crm.contacts", Table{Schema: "crm", Name: "contacts"}, `"crm"."contacts"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseTable(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.sanitize, got.Sanitize())
			assert.Equal(t, tt.input, got.String())
		})
	}
}
