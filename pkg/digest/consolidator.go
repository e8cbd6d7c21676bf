package digest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/EternisAI/inbox-digest/pkg/ai"
	"github.com/EternisAI/inbox-digest/pkg/extract"
	"github.com/EternisAI/inbox-digest/pkg/prompts"
)

const summarySystemPrompt = "You write short, factual executive summaries for personal email digests. Plain prose only."

// digestJSONLimit caps the serialized digest passed to the summary prompt.
const digestJSONLimit = 15000

// Options configures a Consolidator.
type Options struct {
	Model          string
	Scope          string
	RequestTimeout time.Duration
	Retry          ai.RetryConfig
}

// Consolidator merges per-message records into one Digest. The merge itself
// is fully deterministic; the completion service is used only for the
// executive summary, and its failure degrades to a templated summary rather
// than failing the digest.
type Consolidator struct {
	ai     ai.Completion
	opts   Options
	logger *log.Logger
}

func NewConsolidator(logger *log.Logger, completions ai.Completion, opts Options) *Consolidator {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry = ai.DefaultRetryConfig()
	}
	return &Consolidator{ai: completions, opts: opts, logger: logger}
}

// Consolidate builds the digest for one run. records must be non-empty; the
// caller skips consolidation entirely when a run produced no new records.
func (c *Consolidator) Consolidate(ctx context.Context, records []*extract.Record) (*Digest, error) {
	if len(records) == 0 {
		return nil, errors.New("no records to consolidate")
	}

	d := &Digest{
		ID:            uuid.New().String(),
		CreatedAt:     time.Now().UTC(),
		Scope:         c.opts.Scope,
		Events:        mergeEvents(records),
		ActionItems:   mergeActionItems(records),
		Announcements: mergeAnnouncements(records),
		Records:       records,
	}
	for _, r := range records {
		d.SourceMessageIDs = append(d.SourceMessageIDs, r.MessageID)
	}
	d.DateRange = dateRange(d)

	d.ExecutiveSummary = c.executiveSummary(ctx, d)

	c.logger.Info("Consolidated digest",
		"id", d.ID,
		"messages", len(records),
		"events", len(d.Events),
		"actionItems", len(d.ActionItems),
		"degraded", d.DegradedCount())
	return d, nil
}

// mergeEvents deduplicates events on (title, date), case-insensitive on the
// title. First occurrence wins its position; later duplicates fill in fields
// the first left empty, raise the priority, and contribute any distinct
// description. Output is sorted by date then title, undated events last.
func mergeEvents(records []*extract.Record) []extract.Event {
	type slot struct {
		event        extract.Event
		descriptions []string
	}
	var order []string
	merged := map[string]*slot{}

	for _, r := range records {
		for _, ev := range r.Events {
			key := strings.ToLower(strings.TrimSpace(ev.Title)) + "|" + ev.Date
			s, ok := merged[key]
			if !ok {
				s = &slot{event: ev}
				if ev.Description != "" {
					s.descriptions = []string{ev.Description}
				}
				merged[key] = s
				order = append(order, key)
				continue
			}
			if s.event.Time == "" {
				s.event.Time = ev.Time
			}
			if s.event.Location == "" {
				s.event.Location = ev.Location
			}
			if s.event.Scope == "" {
				s.event.Scope = ev.Scope
			}
			if priorityRank(ev.Priority) < priorityRank(s.event.Priority) {
				s.event.Priority = ev.Priority
			}
			if ev.Description != "" && !lo.Contains(s.descriptions, ev.Description) {
				s.descriptions = append(s.descriptions, ev.Description)
			}
		}
	}

	events := make([]extract.Event, 0, len(order))
	for _, key := range order {
		s := merged[key]
		s.event.Description = strings.Join(s.descriptions, "; ")
		events = append(events, s.event)
	}
	sort.SliceStable(events, func(i, j int) bool {
		di, dj := events[i].Date, events[j].Date
		if di == "" || dj == "" {
			return dj == "" && di != ""
		}
		if di != dj {
			return di < dj
		}
		return strings.ToLower(events[i].Title) < strings.ToLower(events[j].Title)
	})
	return events
}

// mergeActionItems deduplicates on the item text, case-insensitive, keeping
// the highest priority and the earliest due date seen. Output is sorted
// high to low.
func mergeActionItems(records []*extract.Record) []extract.ActionItem {
	var order []string
	merged := map[string]extract.ActionItem{}

	for _, r := range records {
		for _, item := range r.ActionItems {
			key := strings.ToLower(strings.TrimSpace(item.Text))
			existing, ok := merged[key]
			if !ok {
				merged[key] = item
				order = append(order, key)
				continue
			}
			if priorityRank(item.Priority) < priorityRank(existing.Priority) {
				existing.Priority = item.Priority
			}
			if existing.DueDate == "" || (item.DueDate != "" && item.DueDate < existing.DueDate) {
				existing.DueDate = item.DueDate
			}
			merged[key] = existing
		}
	}

	items := make([]extract.ActionItem, 0, len(order))
	for _, key := range order {
		items = append(items, merged[key])
	}
	sort.SliceStable(items, func(i, j int) bool {
		return priorityRank(items[i].Priority) < priorityRank(items[j].Priority)
	})
	return items
}

func mergeAnnouncements(records []*extract.Record) []string {
	var all []string
	for _, r := range records {
		all = append(all, r.Announcements...)
	}
	all = lo.Filter(all, func(s string, _ int) bool { return strings.TrimSpace(s) != "" })
	return lo.UniqBy(all, func(s string) string {
		return strings.ToLower(strings.TrimSpace(s))
	})
}

func priorityRank(p string) int {
	switch p {
	case extract.PriorityHigh:
		return 0
	case extract.PriorityLow:
		return 2
	default:
		return 1
	}
}

// dateRange spans the earliest to latest dated entry across events and key
// dates, falling back to the digest creation day.
func dateRange(d *Digest) string {
	var min, max string
	observe := func(date string) {
		if date == "" {
			return
		}
		if min == "" || date < min {
			min = date
		}
		if max == "" || date > max {
			max = date
		}
	}
	for _, ev := range d.Events {
		observe(ev.Date)
	}
	for _, r := range d.Records {
		for _, kd := range r.KeyDates {
			observe(kd)
		}
	}
	if min == "" {
		return d.CreatedAt.Format("2006-01-02")
	}
	if min == max {
		return min
	}
	return min + " to " + max
}

func (c *Consolidator) executiveSummary(ctx context.Context, d *Digest) string {
	prompt, err := c.buildSummaryPrompt(d)
	if err == nil {
		err = ai.Retry(ctx, c.logger, c.opts.Retry, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
			defer cancel()

			completion, err := c.ai.Completions(callCtx, []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(summarySystemPrompt),
				openai.UserMessage(prompt),
			}, c.opts.Model)
			if err != nil {
				return err
			}
			if strings.TrimSpace(completion.Content) == "" {
				return errors.New("empty summary from completions endpoint")
			}
			d.ExecutiveSummary = strings.TrimSpace(completion.Content)
			return nil
		})
	}
	if err != nil {
		c.logger.Warn("Executive summary generation failed, using templated summary", "id", d.ID, "error", err)
		return fallbackSummary(d)
	}
	return d.ExecutiveSummary
}

func (c *Consolidator) buildSummaryPrompt(d *Digest) (string, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return "", errors.Wrap(err, "marshal digest for summary prompt")
	}
	digestJSON := string(payload)
	if len(digestJSON) > digestJSONLimit {
		cut := digestJSONLimit
		for cut > 0 && !utf8.RuneStart(digestJSON[cut]) {
			cut--
		}
		digestJSON = digestJSON[:cut]
	}
	return prompts.BuildDigestSummaryPrompt(prompts.DigestSummaryPrompt{
		Scope:            c.opts.Scope,
		ScopeDescription: prompts.DescribeScope(c.opts.Scope),
		DateRange:        d.DateRange,
		MessageCount:     len(d.Records),
		DigestJSON:       digestJSON,
	})
}

func fallbackSummary(d *Digest) string {
	return fmt.Sprintf(
		"Digest covering %d messages between %s: %d events, %d action items, %d announcements. See the individual summaries below.",
		len(d.Records), d.DateRange, len(d.Events), len(d.ActionItems), len(d.Announcements))
}
