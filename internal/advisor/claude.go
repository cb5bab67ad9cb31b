package advisor

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

const claudeSystem = `You review spreadsheet uploads into an existing database table.
For each listed column give one recommendation.
"new" columns are in the file but not the table; "missing" columns are in the table but not the file.
suggested_action is one of add_column, map_existing, skip_column.
For map_existing give target_column: a table column for a new column, or a file column for a missing column.
severity is high when the upload would fail or lose data without action, medium when the schema changes, low otherwise.
Reply with JSON only: {"recommendations":[{"column_name":"","side":"new","severity":"","suggested_action":"","target_column":"","reason":""}],"confidence":0.0}`

// Claude asks an Anthropic model for recommendations. Columns the model
// skips or answers badly get the heuristic recommendation instead.
type Claude struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewClaude creates a Claude-backed advisor.
func NewClaude(client anthropic.Client, model string, maxTokens int64) *Claude {
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &Claude{client: client, model: model, maxTokens: maxTokens}
}

type claudeRec struct {
	ColumnName      string `json:"column_name"`
	Side            string `json:"side"`
	Severity        string `json:"severity"`
	SuggestedAction string `json:"suggested_action"`
	TargetColumn    string `json:"target_column"`
	Reason          string `json:"reason"`
}

// Recommend implements Advisor.
func (c *Claude) Recommend(ctx context.Context, req Request) (*Advice, error) {
	if req.Empty() {
		return &Advice{Confidence: confidence.Max}, nil
	}

	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		System:      claudeSystem,
		CacheSystem: true,
		Messages:    []anthropic.Message{{Role: "user", Content: claudePrompt(req)}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "advisor: claude")
	}
	resp.Usage.Log(c.model, "advisor.recommend")

	var reply struct {
		Recommendations []claudeRec `json:"recommendations"`
		Confidence      float64     `json:"confidence"`
	}
	if err := anthropic.DecodeJSON(resp.Text(), &reply); err != nil {
		return nil, eris.Wrap(err, "advisor: claude reply")
	}

	fallback := make(map[string]model.Recommendation)
	for _, r := range heuristicRecommendations(req) {
		fallback[r.Column] = r
	}

	sides := req.sides()
	got := make(map[string]model.Recommendation, len(reply.Recommendations))
	for _, cr := range reply.Recommendations {
		side, ok := sides[cr.ColumnName]
		if !ok {
			continue
		}
		rec := model.Recommendation{
			Column:          cr.ColumnName,
			Side:            side,
			Severity:        parseSeverity(cr.Severity, fallback[cr.ColumnName].Severity),
			SuggestedAction: parseAction(cr.SuggestedAction, side),
			TargetColumn:    cr.TargetColumn,
			Reason:          cr.Reason,
		}
		if rec.SuggestedAction == model.ActionMapExisting && !validTarget(req, side, rec.TargetColumn) {
			continue
		}
		if rec.SuggestedAction != model.ActionMapExisting {
			rec.TargetColumn = ""
		}
		// A required column can never be skipped at low severity.
		if fb := fallback[rec.Column]; fb.Severity == model.SeverityHigh && rec.SuggestedAction == model.ActionSkipColumn {
			rec.Severity = model.SeverityHigh
		}
		got[rec.Column] = rec
	}

	adv := &Advice{}
	filled := 0
	for _, col := range append(append([]string{}, req.NewColumns...), req.MissingColumns...) {
		rec, ok := got[col]
		if !ok {
			rec = fallback[col]
			filled++
		}
		adv.Recommendations = append(adv.Recommendations, rec)
	}
	if reply.Confidence > 0 {
		adv.Confidence = confidence.Normalize(reply.Confidence)
	} else {
		adv.Confidence = adviceConfidence(adv.Recommendations)
	}
	if filled > 0 {
		zap.L().Debug("advisor: filled columns claude skipped", zap.Int("count", filled))
	}
	return adv, nil
}

func validTarget(req Request, side model.ColumnSide, target string) bool {
	if target == "" {
		return false
	}
	if side == model.SideNew {
		_, ok := req.Table.Column(target)
		return ok
	}
	for _, s := range req.SourceColumns {
		if s.Name == target {
			return true
		}
	}
	return false
}

func claudePrompt(req Request) string {
	type col struct {
		Name     string   `json:"name"`
		Type     string   `json:"type,omitempty"`
		Required bool     `json:"required,omitempty"`
		Samples  []string `json:"samples,omitempty"`
	}
	var table, file []col
	if req.Table != nil {
		for _, c := range req.Table.Columns {
			table = append(table, col{Name: c.Name, Type: c.DataType, Required: c.Required})
		}
	}
	for _, s := range req.SourceColumns {
		samples := s.SampleValues
		if len(samples) > 3 {
			samples = samples[:3]
		}
		file = append(file, col{Name: s.Name, Type: string(s.Type), Samples: samples})
	}
	tj, _ := json.Marshal(table)
	fj, _ := json.Marshal(file)

	var b strings.Builder
	fmt.Fprintf(&b, "Table %q columns:\n%s\n\n", req.TableName(), tj)
	fmt.Fprintf(&b, "File columns:\n%s\n\n", fj)
	fmt.Fprintf(&b, "New columns: %s\n", strings.Join(req.NewColumns, ", "))
	fmt.Fprintf(&b, "Missing columns: %s\n", strings.Join(req.MissingColumns, ", "))
	return b.String()
}
