package warehouse

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sells-group/ingest-cli/internal/analysis"
)

// ValueError is a cell that cannot be stored in its column.
type ValueError struct {
	Row      int
	Column   string
	Value    string
	DataType string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("warehouse: row %d: cannot store %q in %s column %s", e.Row, e.Value, e.DataType, e.Column)
}

// ErrorCode implements recovery.Coded.
func (e *ValueError) ErrorCode() string { return "COLUMN_TYPE_MISMATCH" }

// converter turns a cell into the value handed to COPY. Empty cells are
// NULL in every column type.
type converter func(string) (any, bool)

func converterFor(dataType string) converter {
	dt := strings.ToLower(dataType)
	switch {
	case dt == "smallint" || dt == "integer" || dt == "bigint" || strings.HasPrefix(dt, "int"):
		return toInt
	case strings.Contains(dt, "numeric") || strings.Contains(dt, "decimal") ||
		strings.Contains(dt, "double") || dt == "real":
		return toFloat
	case strings.Contains(dt, "bool"):
		return toBool
	case dt == "date" || strings.HasPrefix(dt, "timestamp"):
		return toTime
	default:
		return func(v string) (any, bool) { return v, true }
	}
}

func toInt(v string) (any, bool) {
	n, err := strconv.ParseInt(analysis.CleanNumber(v), 10, 64)
	return n, err == nil
}

func toFloat(v string) (any, bool) {
	f, err := strconv.ParseFloat(analysis.CleanNumber(v), 64)
	return f, err == nil
}

func toBool(v string) (any, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "y", "t", "1":
		return true, true
	case "false", "no", "n", "f", "0":
		return false, true
	}
	return nil, false
}

func toTime(v string) (any, bool) {
	t, ok := analysis.ParseTime(v)
	return t, ok
}
