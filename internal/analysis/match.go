package analysis

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/ingest-cli/internal/confidence"
	"github.com/sells-group/ingest-cli/internal/model"
)

// Score bands for name matching on the 0-100 scale.
const (
	scoreExact   = 100.0
	scoreCompact = 89.0
	scoreAlias   = 85.0
	scoreFloor   = 60.0

	// similarityFloor is the lowest token or edit similarity (0-1) that
	// still yields a pattern suggestion.
	similarityFloor = 0.6
	// typePenalty is taken off pattern matches whose sample values cannot
	// be stored in the target column.
	typePenalty = 15.0
)

// aliasGroups are header spellings that mean the same thing.
var aliasGroups = [][]string{
	{"email", "e_mail", "mail", "email_address", "mail_address"},
	{"phone", "telephone", "tel", "phone_number", "mobile", "cell", "cell_phone"},
	{"name", "full_name", "fullname", "contact_name"},
	{"first_name", "firstname", "given_name", "fname", "forename"},
	{"last_name", "lastname", "surname", "family_name", "lname"},
	{"company", "company_name", "organization", "organisation", "org", "employer", "business"},
	{"zip", "zipcode", "zip_code", "postal_code", "postcode"},
	{"address", "street", "street_address", "address_line_1", "address1"},
	{"city", "town", "locality"},
	{"state", "province", "region"},
	{"country", "country_code", "nation"},
	{"website", "url", "web", "homepage", "site"},
	{"created_at", "created", "date_created", "creation_date", "created_date"},
	{"updated_at", "updated", "modified", "last_modified", "date_modified"},
	{"title", "job_title", "position", "role"},
	{"amount", "total", "value", "sum"},
	{"description", "desc", "notes", "comment", "comments"},
}

var aliasIndex = func() map[string]int {
	idx := make(map[string]int)
	for i, g := range aliasGroups {
		for _, a := range g {
			idx[a] = i
		}
	}
	return idx
}()

// NormalizeName folds a header to lower snake case: accents removed,
// camelCase split, and runs of anything else collapsed to one underscore.
func NormalizeName(s string) string {
	// Chain transformers keep state; build one per call.
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, strings.TrimSpace(s))
	if err != nil {
		folded = s
	}

	var b strings.Builder
	sep := true
	prevLower := false
	for _, r := range folded {
		switch {
		case unicode.IsUpper(r):
			if prevLower && !sep {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			sep, prevLower = false, false
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			sep, prevLower = false, true
		default:
			if !sep {
				b.WriteByte('_')
			}
			sep, prevLower = true, false
		}
	}
	return strings.Trim(b.String(), "_")
}

// Similarity scores how likely two headers name the same column, on the
// 0-100 scale. Exact normalized equality is 100; alias, token and edit
// similarity fall between 60 and 89; anything weaker is 0.
func Similarity(a, b string) (float64, model.MappingType) {
	na, nb := NormalizeName(a), NormalizeName(b)
	if na == "" || nb == "" {
		return 0, model.MappingPattern
	}
	if na == nb {
		return scoreExact, model.MappingExact
	}
	ca, cb := strings.ReplaceAll(na, "_", ""), strings.ReplaceAll(nb, "_", "")
	if ca == cb {
		return scoreCompact, model.MappingPattern
	}
	if ga, ok := aliasIndex[na]; ok {
		if gb, ok := aliasIndex[nb]; ok && ga == gb {
			return scoreAlias, model.MappingPattern
		}
	}

	sim := max(tokenOverlap(na, nb), levenshteinRatio(ca, cb))
	if sim < similarityFloor {
		return 0, model.MappingPattern
	}
	score := scoreFloor + (sim-similarityFloor)/(1-similarityFloor)*(scoreAlias-1-scoreFloor)
	return float64(int(score)), model.MappingPattern
}

// tokenOverlap is the Jaccard index of the underscore tokens, with alias
// members reduced to their group.
func tokenOverlap(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for t := range ta {
		if tb[t] {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, t := range strings.Split(s, "_") {
		if t == "" {
			continue
		}
		if g, ok := aliasIndex[t]; ok {
			t = aliasGroups[g][0]
		}
		out[t] = true
	}
	return out
}

// levenshteinRatio is 1 - distance/max(len), over runes.
func levenshteinRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 && len(rb) == 0 {
		return 1
	}
	if len(ra) > len(rb) {
		ra, rb = rb, ra
	}
	prev := make([]int, len(ra)+1)
	curr := make([]int, len(ra)+1)
	for i := range prev {
		prev[i] = i
	}
	for j := 1; j <= len(rb); j++ {
		curr[0] = j
		for i := 1; i <= len(ra); i++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[i] = min(prev[i]+1, curr[i-1]+1, prev[i-1]+cost)
		}
		prev, curr = curr, prev
	}
	return 1 - float64(prev[len(ra)])/float64(len(rb))
}

type candidate struct {
	source string
	target string
	score  float64
	kind   model.MappingType
}

// matchColumns proposes one suggestion per source column against table.
// Pairs are assigned greedily by score so a target column is suggested at
// most once. Sources with no match get an empty suggestion.
func matchColumns(sources []model.SourceColumn, table *model.TargetTable) []model.MappingSuggestion {
	out := make([]model.MappingSuggestion, len(sources))
	for i, s := range sources {
		out[i] = model.MappingSuggestion{SourceColumn: s.Name, MappingType: model.MappingPattern}
	}
	if table == nil || len(table.Columns) == 0 {
		return out
	}

	var cands []candidate
	for _, s := range sources {
		for _, tc := range table.Columns {
			score, kind := Similarity(s.Name, tc.Name)
			if score == 0 {
				continue
			}
			if kind != model.MappingExact && !CompatibleTypes(s.Type, tc.DataType) {
				score -= typePenalty
			}
			if score < confidence.Low {
				continue
			}
			cands = append(cands, candidate{source: s.Name, target: tc.Name, score: score, kind: kind})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })

	usedSource := make(map[string]bool)
	usedTarget := make(map[string]bool)
	chosen := make(map[string]candidate)
	for _, c := range cands {
		if usedSource[c.source] || usedTarget[c.target] {
			continue
		}
		usedSource[c.source] = true
		usedTarget[c.target] = true
		chosen[c.source] = c
	}

	for i := range out {
		if c, ok := chosen[out[i].SourceColumn]; ok {
			out[i].TargetColumn = c.target
			out[i].Confidence = c.score
			out[i].MappingType = c.kind
		}
	}
	return out
}

// columnDiff lists source headers absent from the table (new) and table
// columns absent from the file (missing), comparing normalized names.
func columnDiff(sources []model.SourceColumn, table *model.TargetTable) (missing, added []string) {
	if table == nil {
		return nil, nil
	}
	inTable := make(map[string]bool, len(table.Columns))
	for _, c := range table.Columns {
		inTable[NormalizeName(c.Name)] = true
	}
	inFile := make(map[string]bool, len(sources))
	for _, s := range sources {
		n := NormalizeName(s.Name)
		inFile[n] = true
		if !inTable[n] {
			added = append(added, s.Name)
		}
	}
	for _, c := range table.Columns {
		if !inFile[NormalizeName(c.Name)] {
			missing = append(missing, c.Name)
		}
	}
	return missing, added
}
