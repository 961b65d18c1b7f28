package upcast

import (
	"context"

	"github.com/tallylabs/creditcore/pkg/journal"
)

// AnalyzeReport summarizes how much of the journal is behind the latest
// schema versions.
type AnalyzeReport struct {
	TotalEvents   int                    `json:"total_events"`
	NeedingUpcast int                    `json:"needing_upcast"`
	ByType        map[string]map[int]int `json:"by_type"` // event type -> schema version -> count
}

// Analyze scans the whole journal and counts events per type and version
// that still need upcasting.
func (r *Registry) Analyze(ctx context.Context, j journal.Journal, batchSize int) (*AnalyzeReport, error) {
	report := &AnalyzeReport{ByType: make(map[string]map[int]int)}

	var after uint64
	for {
		batch, err := j.Read(ctx, after, batchSize)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			return report, nil
		}
		for _, env := range batch {
			report.TotalEvents++
			after = env.Sequence
			if !r.Needed(env) {
				continue
			}
			report.NeedingUpcast++
			versions, ok := report.ByType[env.EventType]
			if !ok {
				versions = make(map[int]int)
				report.ByType[env.EventType] = versions
			}
			versions[env.SchemaVersion]++
		}
	}
}
