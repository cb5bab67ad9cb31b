package mapping

import (
	"fmt"

	"github.com/sells-group/ingest-cli/internal/confidence"
	"github.com/sells-group/ingest-cli/internal/model"
)

// Stats summarizes effective mappings. Mapped + Ignored + ImportAsNew +
// Unmapped always equals Total.
type Stats struct {
	Total       int `json:"total"`
	Mapped      int `json:"mapped"`
	Ignored     int `json:"ignored"`
	ImportAsNew int `json:"import_as_new"`
	Unmapped    int `json:"unmapped"`

	// AvgConfidence is the mean confidence per bucket, keyed by target kind.
	AvgConfidence map[model.TargetKind]float64 `json:"avg_confidence"`
	// ByLevel counts mapped columns per confidence level.
	ByLevel map[confidence.Level]int `json:"by_level"`
}

// ComputeStats buckets effective mappings by target kind.
func ComputeStats(effective []model.EffectiveMapping) Stats {
	st := Stats{
		Total:         len(effective),
		AvgConfidence: map[model.TargetKind]float64{},
		ByLevel:       map[confidence.Level]int{},
	}
	scores := map[model.TargetKind][]float64{}

	for _, em := range effective {
		kind := em.Target.Kind()
		switch kind {
		case model.KindColumn:
			st.Mapped++
			st.ByLevel[confidence.LevelOf(em.Confidence)]++
		case model.KindIgnore:
			st.Ignored++
		case model.KindImportAsNew:
			st.ImportAsNew++
		default:
			st.Unmapped++
		}
		scores[kind] = append(scores[kind], em.Confidence)
	}

	for kind, s := range scores {
		st.AvgConfidence[kind] = confidence.Average(s)
	}
	return st
}

// Summary renders the counts for logs.
func (s Stats) Summary() string {
	return fmt.Sprintf("%d columns: %d mapped, %d new, %d ignored, %d unmapped",
		s.Total, s.Mapped, s.ImportAsNew, s.Ignored, s.Unmapped)
}
