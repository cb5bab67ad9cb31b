package analysis

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sells-group/ingest-cli/internal/fetcher"
	"github.com/sells-group/ingest-cli/internal/model"
)

const (
	maxProfileConcurrency = 8
	sampleValueCount      = 5
	// nullRatioWarn flags columns where at least this share of rows is empty.
	nullRatioWarn = 0.5
)

// columnProfile is what the local analyzer learns about one column.
type columnProfile struct {
	Name      string
	Type      model.SemanticType
	TypeShare float64 // 0-1
	Mixed     bool
	NullCount int
	Samples   []string
}

// profileColumns profiles every column of the sample concurrently. Results
// keep header order.
func profileColumns(ctx context.Context, s *fetcher.Sample) ([]columnProfile, error) {
	out := make([]columnProfile, len(s.Header))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxProfileConcurrency)
	for i, name := range s.Header {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = profileColumn(name, s.Column(i))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func profileColumn(name string, values []string) columnProfile {
	p := columnProfile{Name: name}
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			p.NullCount++
			continue
		}
		if len(p.Samples) < sampleValueCount {
			p.Samples = append(p.Samples, v)
		}
	}
	p.Type, p.TypeShare, p.Mixed = inferType(values)
	return p
}

// qualityIssues grades the sample: empty or duplicated headers are high,
// sparse columns medium, mixed-type columns low.
func qualityIssues(s *fetcher.Sample, profiles []columnProfile) []model.DataQualityIssue {
	var issues []model.DataQualityIssue
	rows := len(s.Rows)

	seen := make(map[string]int)
	for _, h := range s.Header {
		seen[NormalizeName(h)]++
	}
	reported := make(map[string]bool)
	for _, h := range s.Header {
		n := NormalizeName(h)
		if n == "" && !reported[""] {
			reported[""] = true
			issues = append(issues, model.DataQualityIssue{
				Severity: model.SeverityHigh,
				Message:  "file has columns without a header",
			})
			continue
		}
		if seen[n] > 1 && !reported[n] {
			reported[n] = true
			issues = append(issues, model.DataQualityIssue{
				Column:   h,
				Severity: model.SeverityHigh,
				Message:  fmt.Sprintf("header %q appears %d times", h, seen[n]),
			})
		}
	}

	if rows == 0 {
		return issues
	}
	for _, p := range profiles {
		ratio := float64(p.NullCount) / float64(rows)
		switch {
		case p.NullCount == rows:
			issues = append(issues, model.DataQualityIssue{
				Column:       p.Name,
				Severity:     model.SeverityHigh,
				Message:      fmt.Sprintf("column %q is empty", p.Name),
				AffectedRows: p.NullCount,
			})
		case ratio >= nullRatioWarn:
			issues = append(issues, model.DataQualityIssue{
				Column:       p.Name,
				Severity:     model.SeverityMedium,
				Message:      fmt.Sprintf("column %q is %.0f%% empty", p.Name, ratio*100),
				AffectedRows: p.NullCount,
			})
		}
		if p.Mixed {
			issues = append(issues, model.DataQualityIssue{
				Column:   p.Name,
				Severity: model.SeverityLow,
				Message:  fmt.Sprintf("column %q mixes value types", p.Name),
			})
		}
	}
	return issues
}
