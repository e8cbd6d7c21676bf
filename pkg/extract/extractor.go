package extract

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go"
	"github.com/pkg/errors"

	"github.com/EternisAI/inbox-digest/pkg/ai"
	"github.com/EternisAI/inbox-digest/pkg/normalize"
	"github.com/EternisAI/inbox-digest/pkg/prompts"
)

const systemPrompt = "You are a precise extraction assistant for personal email digests. You respond with raw JSON only, no markdown fences and no commentary."

// Options configures a single Extractor.
type Options struct {
	Model                string
	Scope                string
	FallbackExcerptLimit int
	RequestTimeout       time.Duration
	Retry                ai.RetryConfig
}

// Extractor turns one normalized message into one Record via the completion
// service. It always produces a Record: when the model call fails or its
// output cannot be parsed into the schema, the result is a degraded fallback
// record rather than an error.
type Extractor struct {
	ai     ai.Completion
	opts   Options
	logger *log.Logger
}

func NewExtractor(logger *log.Logger, completions ai.Completion, opts Options) *Extractor {
	if opts.FallbackExcerptLimit <= 0 {
		opts.FallbackExcerptLimit = 500
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry = ai.DefaultRetryConfig()
	}
	return &Extractor{ai: completions, opts: opts, logger: logger}
}

// Extract runs the extraction prompt for msg. The only error it returns is
// context cancellation; every other failure degrades to a fallback record.
func (e *Extractor) Extract(ctx context.Context, msg *normalize.Message) (*Record, error) {
	prompt, err := e.buildPrompt(msg)
	if err != nil {
		e.logger.Error("Failed to build extraction prompt, using fallback", "id", msg.ID, "error", err)
		return NewFallbackRecord(msg.ID, msg.BodyText, e.opts.FallbackExcerptLimit), nil
	}

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		e.userMessage(prompt, msg.Images),
	}

	var content string
	err = ai.Retry(ctx, e.logger, e.opts.Retry, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout)
		defer cancel()

		completion, err := e.ai.Completions(callCtx, messages, e.opts.Model)
		if err != nil {
			return err
		}
		content = completion.Content
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), "extraction cancelled")
		}
		e.logger.Error("Extraction call failed after retries, using fallback", "id", msg.ID, "error", err)
		return NewFallbackRecord(msg.ID, msg.BodyText, e.opts.FallbackExcerptLimit), nil
	}

	record, err := ParseRecord(msg.ID, content)
	if err != nil {
		// The raw reply is the best summary we have: a model that answered
		// in prose instead of JSON usually still described the message.
		e.logger.Warn("Model output rejected, using fallback",
			"id", msg.ID, "error", err, "outputChars", len(content))
		return NewFallbackRecord(msg.ID, content, e.opts.FallbackExcerptLimit), nil
	}

	e.logger.Info("Extracted message",
		"id", msg.ID,
		"events", len(record.Events),
		"actionItems", len(record.ActionItems),
		"importance", record.Importance)
	return record, nil
}

func (e *Extractor) buildPrompt(msg *normalize.Message) (string, error) {
	attachments := make([]prompts.PromptAttachment, 0, len(msg.AttachmentTexts))
	for _, a := range msg.AttachmentTexts {
		if a.Skipped || a.Text == "" {
			continue
		}
		attachments = append(attachments, prompts.PromptAttachment{Filename: a.Filename, Text: a.Text})
	}
	return prompts.BuildEmailExtractionPrompt(prompts.EmailExtractionPrompt{
		Scope:            e.opts.Scope,
		ScopeDescription: prompts.DescribeScope(e.opts.Scope),
		Sender:           msg.Sender,
		Subject:          msg.Subject,
		Received:         msg.ReceivedAt.Format(time.RFC1123Z),
		Body:             msg.BodyText,
		Attachments:      attachments,
		HasImages:        len(msg.Images) > 0,
	})
}

func (e *Extractor) userMessage(prompt string, images []normalize.Image) openai.ChatCompletionMessageParamUnion {
	if len(images) == 0 {
		return openai.UserMessage(prompt)
	}
	parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(prompt)}
	for _, img := range images {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: ai.ImageDataURI(img.MimeType, img.Data),
		}))
	}
	return openai.UserMessage(parts)
}

// ParseRecord decodes model output into a Record. It first tries the content
// as-is, then salvages the outermost JSON object from surrounding prose or
// fences. The decoded record is sanitized; a record carrying a date range
// where a single day is required is rejected outright.
func ParseRecord(messageID, content string) (*Record, error) {
	var record Record
	if err := json.Unmarshal([]byte(content), &record); err != nil {
		salvaged, ok := salvageJSON(content)
		if !ok {
			return nil, errors.Wrap(err, "no JSON object in model output")
		}
		if err := json.Unmarshal([]byte(salvaged), &record); err != nil {
			return nil, errors.Wrap(err, "unmarshal salvaged model output")
		}
	}

	record.MessageID = messageID
	if err := sanitizeRecord(&record); err != nil {
		return nil, err
	}
	return &record, nil
}

// salvageJSON cuts the substring between the first '{' and the last '}'.
func salvageJSON(content string) (string, bool) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end <= start {
		return "", false
	}
	return content[start : end+1], true
}

var (
	isoDayRE = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	// Range shapes like "2025-10-20 - 2025-10-23" or "Oct 20 through 23".
	// Slashes are deliberately excluded so "10/27/2025" is treated as a
	// malformed single date, not a range.
	dateRangeRE = regexp.MustCompile(`(?i)\d\s*[-–—]\s*\d|\b(?:through|thru|until)\b|\bto\s+\d`)
)

func sanitizeRecord(r *Record) error {
	if strings.TrimSpace(r.Summary) == "" {
		return errors.New("record has empty summary")
	}

	for i := range r.Events {
		ev := &r.Events[i]
		ev.Priority = normalizePriority(ev.Priority)
		date, err := sanitizeDate(ev.Date)
		if err != nil {
			return errors.Wrapf(err, "event %q", ev.Title)
		}
		ev.Date = date
	}
	for i := range r.ActionItems {
		item := &r.ActionItems[i]
		item.Priority = normalizePriority(item.Priority)
		due, err := sanitizeDate(item.DueDate)
		if err != nil {
			return errors.Wrapf(err, "action item %q", item.Text)
		}
		item.DueDate = due
	}

	keyDates := r.KeyDates[:0]
	for _, d := range r.KeyDates {
		date, err := sanitizeDate(d)
		if err != nil {
			return errors.Wrap(err, "key date")
		}
		if date != "" {
			keyDates = append(keyDates, date)
		}
	}
	r.KeyDates = keyDates

	r.Importance = normalizePriority(r.Importance)
	if r.Events == nil {
		r.Events = []Event{}
	}
	if r.ActionItems == nil {
		r.ActionItems = []ActionItem{}
	}
	if r.Announcements == nil {
		r.Announcements = []string{}
	}
	if r.KeyDates == nil {
		r.KeyDates = []string{}
	}
	return nil
}

// sanitizeDate accepts a single ISO day or nothing. Range-shaped values are
// an error so the whole record degrades; other malformed values are dropped.
func sanitizeDate(date string) (string, error) {
	date = strings.TrimSpace(date)
	if date == "" {
		return "", nil
	}
	if isoDayRE.MatchString(date) {
		return date, nil
	}
	if dateRangeRE.MatchString(date) {
		return "", errors.Errorf("date range %q where a single day is required", date)
	}
	return "", nil
}
