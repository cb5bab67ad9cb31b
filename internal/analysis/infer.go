package analysis

import (
	"net/mail"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/ingest-cli/internal/model"
)

// typeShare is the share of non-empty values that must agree before a
// column is given a type other than text.
const typeShare = 0.9

var (
	phonePattern = regexp.MustCompile(`^\+?[0-9(][0-9 ().\-]{6,}[0-9]$`)
	numericClean = strings.NewReplacer(",", "", "$", "", "%", "")

	dateLayouts = []string{
		"2006-01-02",
		"01/02/2006",
		"1/2/2006",
		"02.01.2006",
		"2006/01/02",
		"Jan 2, 2006",
		"2 Jan 2006",
	}
	dateTimeLayouts = []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04",
		"01/02/2006 15:04",
		"1/2/2006 3:04 PM",
	}
)

// inferenceOrder is checked most specific first.
var inferenceOrder = []model.SemanticType{
	model.TypeBoolean,
	model.TypeInteger,
	model.TypeDecimal,
	model.TypeDateTime,
	model.TypeDate,
	model.TypeEmail,
	model.TypeURL,
	model.TypePhone,
}

// inferType picks the first type that at least 90% of the non-empty values
// satisfy. It returns the type, the share of values that matched it (0-1),
// and whether the values were split between several types.
func inferType(values []string) (model.SemanticType, float64, bool) {
	var nonEmpty []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			nonEmpty = append(nonEmpty, v)
		}
	}
	if len(nonEmpty) == 0 {
		return model.TypeUnknown, 0, false
	}

	counts := make(map[model.SemanticType]int, len(inferenceOrder))
	for _, v := range nonEmpty {
		for _, t := range inferenceOrder {
			if matchesType(t, v) {
				counts[t]++
			}
		}
	}

	n := float64(len(nonEmpty))
	for _, t := range inferenceOrder {
		if share := float64(counts[t]) / n; share >= typeShare {
			return t, share, false
		}
	}

	// Text is the fallback. A column is mixed when some typed kind holds a
	// real share of the values without reaching the threshold.
	best := 0
	for _, c := range counts {
		best = max(best, c)
	}
	mixed := best > 0 && float64(best)/n >= 0.3
	return model.TypeText, 1 - float64(best)/n, mixed
}

func matchesType(t model.SemanticType, v string) bool {
	switch t {
	case model.TypeBoolean:
		switch strings.ToLower(v) {
		case "true", "false", "yes", "no", "y", "n", "t", "f":
			return true
		}
		return false
	case model.TypeInteger:
		_, err := strconv.ParseInt(numericClean.Replace(v), 10, 64)
		return err == nil
	case model.TypeDecimal:
		_, err := strconv.ParseFloat(numericClean.Replace(v), 64)
		return err == nil
	case model.TypeDate:
		return parsesAny(dateLayouts, v)
	case model.TypeDateTime:
		return parsesAny(dateTimeLayouts, v)
	case model.TypeEmail:
		if !strings.Contains(v, "@") || strings.ContainsAny(v, " <>") {
			return false
		}
		_, err := mail.ParseAddress(v)
		return err == nil
	case model.TypeURL:
		u, err := url.Parse(v)
		return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
	case model.TypePhone:
		return phonePattern.MatchString(v) && digits(v) >= 7
	default:
		return false
	}
}

// InferType returns the semantic type of a column's values, or text when
// they do not agree.
func InferType(values []string) model.SemanticType {
	t, _, _ := inferType(values)
	if t == model.TypeUnknown {
		return model.TypeText
	}
	return t
}

// ParseTime parses v with the date-time layouts, then the date layouts.
func ParseTime(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	for _, layouts := range [][]string{dateTimeLayouts, dateLayouts} {
		for _, l := range layouts {
			if t, err := time.Parse(l, v); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// CleanNumber strips thousands separators, currency and percent signs.
func CleanNumber(v string) string {
	return numericClean.Replace(strings.TrimSpace(v))
}

func parsesAny(layouts []string, v string) bool {
	for _, l := range layouts {
		if _, err := time.Parse(l, v); err == nil {
			return true
		}
	}
	return false
}

func digits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

// SQLType maps a semantic type onto a Postgres column type.
func SQLType(t model.SemanticType) string {
	switch t {
	case model.TypeInteger:
		return "bigint"
	case model.TypeDecimal:
		return "numeric"
	case model.TypeBoolean:
		return "boolean"
	case model.TypeDate:
		return "date"
	case model.TypeDateTime:
		return "timestamptz"
	default:
		return "text"
	}
}

var integerTypes = map[string]bool{
	"int": true, "int2": true, "int4": true, "int8": true, "integer": true,
	"smallint": true, "bigint": true, "serial": true, "bigserial": true,
}

// CompatibleTypes reports whether values of semantic type t can be written
// to a column declared as dataType.
func CompatibleTypes(t model.SemanticType, dataType string) bool {
	dt := strings.ToLower(dataType)
	switch {
	case dt == "" || t == model.TypeUnknown:
		return true
	case strings.Contains(dt, "char") || strings.Contains(dt, "text") || dt == "string":
		return true
	case integerTypes[dt]:
		return t == model.TypeInteger
	case strings.Contains(dt, "numeric") || strings.Contains(dt, "decimal") ||
		strings.Contains(dt, "double") || strings.Contains(dt, "real") || strings.Contains(dt, "float"):
		return t == model.TypeInteger || t == model.TypeDecimal
	case strings.Contains(dt, "bool"):
		return t == model.TypeBoolean
	case strings.Contains(dt, "timestamp"):
		return t == model.TypeDateTime || t == model.TypeDate
	case dt == "date":
		return t == model.TypeDate
	default:
		return true
	}
}
