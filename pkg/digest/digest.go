package digest

import (
	"time"

	"github.com/EternisAI/inbox-digest/pkg/extract"
)

// Digest is the consolidated result of one pipeline run: every new record
// merged, deduplicated, and topped with an executive summary. Digests are
// immutable once built.
type Digest struct {
	ID               string               `json:"id"`
	CreatedAt        time.Time            `json:"created_at"`
	Scope            string               `json:"scope,omitempty"`
	DateRange        string               `json:"date_range"`
	SourceMessageIDs []string             `json:"source_message_ids"`
	ExecutiveSummary string               `json:"executive_summary"`
	Events           []extract.Event      `json:"events"`
	ActionItems      []extract.ActionItem `json:"action_items"`
	Announcements    []string             `json:"announcements"`
	Records          []*extract.Record    `json:"records"`
}

// DegradedCount reports how many source records came from the fallback path.
func (d *Digest) DegradedCount() int {
	n := 0
	for _, r := range d.Records {
		if r.Degraded {
			n++
		}
	}
	return n
}
