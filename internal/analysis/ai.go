package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ingest-cli/internal/confidence"
	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/pkg/anthropic"
)

const aiMatchSystem = `You match spreadsheet columns to database columns.
Reply with JSON only: {"mappings":[{"source_column":"...","target_column":"...","confidence":0.0}]}.
Use only the target columns listed. Omit a source column when nothing fits.
Confidence is between 0 and 1.`

// AIMatcher asks Claude to map the columns name matching left unresolved.
type AIMatcher struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAIMatcher creates a matcher over client.
func NewAIMatcher(client anthropic.Client, model string, maxTokens int64) *AIMatcher {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &AIMatcher{client: client, model: model, maxTokens: maxTokens}
}

type aiMapping struct {
	SourceColumn string  `json:"source_column"`
	TargetColumn string  `json:"target_column"`
	Confidence   float64 `json:"confidence"`
}

// Suggest fills in suggestions that have no target. Targets already
// suggested are not offered again, and replies naming unknown or taken
// columns are dropped.
func (m *AIMatcher) Suggest(ctx context.Context, sources []model.SourceColumn, table *model.TargetTable, sugs []model.MappingSuggestion) ([]model.MappingSuggestion, error) {
	if table == nil {
		return sugs, nil
	}
	taken := make(map[string]bool)
	var open []string
	for _, s := range sugs {
		if s.TargetColumn != "" {
			taken[s.TargetColumn] = true
		} else {
			open = append(open, s.SourceColumn)
		}
	}
	var free []model.TargetColumn
	for _, c := range table.Columns {
		if !taken[c.Name] {
			free = append(free, c)
		}
	}
	if len(open) == 0 || len(free) == 0 {
		return sugs, nil
	}

	resp, err := m.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       m.model,
		MaxTokens:   m.maxTokens,
		System:      aiMatchSystem,
		CacheSystem: true,
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: matchPrompt(open, sources, free),
		}},
	})
	if err != nil {
		return sugs, eris.Wrap(err, "analysis: ai match")
	}
	resp.Usage.Log(m.model, "analysis.ai_match")

	var reply struct {
		Mappings []aiMapping `json:"mappings"`
	}
	if err := anthropic.DecodeJSON(resp.Text(), &reply); err != nil {
		return sugs, eris.Wrap(err, "analysis: ai match reply")
	}

	freeSet := make(map[string]bool, len(free))
	for _, c := range free {
		freeSet[c.Name] = true
	}
	byName := make(map[string]aiMapping, len(reply.Mappings))
	for _, am := range reply.Mappings {
		if !freeSet[am.TargetColumn] {
			continue
		}
		if prev, ok := byName[am.SourceColumn]; ok && prev.Confidence >= am.Confidence {
			continue
		}
		byName[am.SourceColumn] = am
	}

	out := make([]model.MappingSuggestion, len(sugs))
	copy(out, sugs)
	applied := 0
	for i := range out {
		if out[i].TargetColumn != "" {
			continue
		}
		am, ok := byName[out[i].SourceColumn]
		if !ok || taken[am.TargetColumn] {
			continue
		}
		conf := confidence.Normalize(am.Confidence)
		if conf < confidence.Low {
			continue
		}
		taken[am.TargetColumn] = true
		out[i].TargetColumn = am.TargetColumn
		out[i].Confidence = conf
		out[i].MappingType = model.MappingAI
		applied++
	}
	zap.L().Debug("analysis: ai match applied",
		zap.Int("requested", len(open)),
		zap.Int("applied", applied),
	)
	return out, nil
}

func matchPrompt(open []string, sources []model.SourceColumn, free []model.TargetColumn) string {
	samples := make(map[string][]string, len(sources))
	for _, s := range sources {
		samples[s.Name] = s.SampleValues
	}

	type src struct {
		Name    string   `json:"name"`
		Samples []string `json:"samples,omitempty"`
	}
	type tgt struct {
		Name     string `json:"name"`
		DataType string `json:"data_type,omitempty"`
	}
	var srcs []src
	for _, name := range open {
		srcs = append(srcs, src{Name: name, Samples: samples[name]})
	}
	var tgts []tgt
	for _, c := range free {
		tgts = append(tgts, tgt{Name: c.Name, DataType: c.DataType})
	}
	sj, _ := json.Marshal(srcs)
	tj, _ := json.Marshal(tgts)

	var b strings.Builder
	fmt.Fprintf(&b, "Source columns:\n%s\n\n", sj)
	fmt.Fprintf(&b, "Target columns:\n%s\n", tj)
	return b.String()
}
