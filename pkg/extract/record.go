package extract

import "strings"

// Priority levels used for events and action items. Anything the model
// returns outside this set is coerced to PriorityMedium.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Event is one dated happening pulled from a message. Date is always a
// single ISO day; multi-day spans arrive as one Event per day.
type Event struct {
	Title       string `json:"title"`
	Date        string `json:"date"`
	Time        string `json:"time,omitempty"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority"`
	Scope       string `json:"scope,omitempty"`
}

// ActionItem is something the recipient is expected to do.
type ActionItem struct {
	Text     string `json:"text"`
	Priority string `json:"priority"`
	DueDate  string `json:"due_date,omitempty"`
}

// Record is the structured extraction result for one message. Exactly one
// Record exists per processed message; Degraded marks records built from
// the fallback path instead of model output.
type Record struct {
	MessageID     string       `json:"message_id"`
	Summary       string       `json:"summary"`
	Events        []Event      `json:"events"`
	ActionItems   []ActionItem `json:"action_items"`
	Announcements []string     `json:"announcements"`
	Importance    string       `json:"importance"`
	KeyDates      []string     `json:"key_dates"`
	Degraded      bool         `json:"degraded,omitempty"`
}

// fallbackPlaceholder keeps the summary non-empty when there is no usable
// text to excerpt, such as an image-only message.
const fallbackPlaceholder = "Summary unavailable for this message."

// NewFallbackRecord builds the degraded record used when extraction cannot
// produce valid structured output. The summary is a plain excerpt of the
// given text (the raw model reply when one exists, the message body
// otherwise); all collections are present and empty so consumers never see
// nil.
func NewFallbackRecord(messageID, text string, excerptLimit int) *Record {
	excerpt := strings.TrimSpace(text)
	if runes := []rune(excerpt); len(runes) > excerptLimit {
		excerpt = strings.TrimSpace(string(runes[:excerptLimit]))
	}
	if excerpt == "" {
		excerpt = fallbackPlaceholder
	}
	return &Record{
		MessageID:     messageID,
		Summary:       excerpt,
		Events:        []Event{},
		ActionItems:   []ActionItem{},
		Announcements: []string{},
		Importance:    PriorityMedium,
		KeyDates:      []string{},
		Degraded:      true,
	}
}

func normalizePriority(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case PriorityHigh:
		return PriorityHigh
	case PriorityLow:
		return PriorityLow
	default:
		return PriorityMedium
	}
}
