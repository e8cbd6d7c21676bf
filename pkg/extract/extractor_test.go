package extract

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/inbox-digest/pkg/ai"
	"github.com/EternisAI/inbox-digest/pkg/normalize"
)

type fakeCompletion struct {
	replies []string
	errs    []error
	calls   int
}

func (f *fakeCompletion) Completions(_ context.Context, _ []openai.ChatCompletionMessageParamUnion, _ string) (openai.ChatCompletionMessage, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return openai.ChatCompletionMessage{}, f.errs[i]
	}
	reply := f.replies[len(f.replies)-1]
	if i < len(f.replies) {
		reply = f.replies[i]
	}
	return openai.ChatCompletionMessage{Content: reply}, nil
}

func testExtractor(t *testing.T, completions ai.Completion) *Extractor {
	t.Helper()
	retry := ai.DefaultRetryConfig().WithSleep(func(context.Context, time.Duration) error { return nil })
	return NewExtractor(log.New(os.Stderr), completions, Options{
		Model:                "test-model",
		Scope:                "school",
		FallbackExcerptLimit: 500,
		RequestTimeout:       time.Second,
		Retry:                retry,
	})
}

func testMessage() *normalize.Message {
	return &normalize.Message{
		ID:         "msg-1",
		Subject:    "Fall Carnival",
		Sender:     "office@district.org",
		ReceivedAt: time.Date(2025, 10, 20, 8, 0, 0, 0, time.UTC),
		BodyText:   "The carnival runs Monday through Thursday next week. Tickets at the front office.",
	}
}

const validReply = `{
	"summary": "Fall carnival announcement with ticket details.",
	"events": [
		{"title": "Fall Carnival", "date": "2025-10-27", "priority": "high"},
		{"title": "Fall Carnival", "date": "2025-10-28", "priority": "high"}
	],
	"action_items": [{"text": "Buy tickets", "priority": "Medium", "due_date": "2025-10-24"}],
	"announcements": ["Front office hours extended"],
	"importance": "high",
	"key_dates": ["2025-10-27"]
}`

func TestExtractValidOutput(t *testing.T) {
	fake := &fakeCompletion{replies: []string{validReply}}
	record, err := testExtractor(t, fake).Extract(context.Background(), testMessage())
	require.NoError(t, err)

	require.False(t, record.Degraded)
	require.Equal(t, "msg-1", record.MessageID)
	require.Len(t, record.Events, 2)
	require.Equal(t, "2025-10-27", record.Events[0].Date)
	require.Equal(t, PriorityMedium, record.ActionItems[0].Priority)
	require.Equal(t, PriorityHigh, record.Importance)
	require.Equal(t, 1, fake.calls)
}

func TestExtractSalvagesFencedOutput(t *testing.T) {
	fenced := "Here is the extraction:\n```json\n" + validReply + "\n```\nLet me know if you need more."
	fake := &fakeCompletion{replies: []string{fenced}}
	record, err := testExtractor(t, fake).Extract(context.Background(), testMessage())
	require.NoError(t, err)

	require.False(t, record.Degraded)
	require.Equal(t, "Fall carnival announcement with ticket details.", record.Summary)
}

func TestExtractMalformedOutputDegrades(t *testing.T) {
	reply := "Sure! Here's the summary: the carnival is on Monday in the gym."
	fake := &fakeCompletion{replies: []string{reply}}
	record, err := testExtractor(t, fake).Extract(context.Background(), testMessage())
	require.NoError(t, err)

	require.True(t, record.Degraded)
	require.Equal(t, reply, record.Summary, "prose reply becomes the excerpt, not the email body")
	require.Equal(t, PriorityMedium, record.Importance)
	require.NotNil(t, record.Events)
	require.Empty(t, record.Events)
	require.NotNil(t, record.ActionItems)
	require.NotNil(t, record.Announcements)
	require.Equal(t, 1, fake.calls, "malformed output is not a transport error, no retry")
}

func TestExtractLongProseReplyExcerpted(t *testing.T) {
	reply := "No JSON today. " + strings.Repeat("More prose. ", 100)
	fake := &fakeCompletion{replies: []string{reply}}
	record, err := testExtractor(t, fake).Extract(context.Background(), testMessage())
	require.NoError(t, err)

	require.True(t, record.Degraded)
	require.LessOrEqual(t, len([]rune(record.Summary)), 500)
	require.True(t, strings.HasPrefix(reply, record.Summary))
}

func TestExtractDateRangeDegrades(t *testing.T) {
	reply := `{"summary": "Carnival", "events": [{"title": "Carnival", "date": "2025-10-27 - 2025-10-30", "priority": "high"}]}`
	fake := &fakeCompletion{replies: []string{reply}}
	record, err := testExtractor(t, fake).Extract(context.Background(), testMessage())
	require.NoError(t, err)
	require.True(t, record.Degraded)
}

func TestExtractRetriesTransientFailures(t *testing.T) {
	fake := &fakeCompletion{
		errs:    []error{errors.New("503"), errors.New("timeout"), nil},
		replies: []string{"", "", validReply},
	}
	record, err := testExtractor(t, fake).Extract(context.Background(), testMessage())
	require.NoError(t, err)
	require.False(t, record.Degraded)
	require.Equal(t, 3, fake.calls)
}

func TestExtractExhaustedRetriesDegrade(t *testing.T) {
	fake := &fakeCompletion{
		errs:    []error{errors.New("down"), errors.New("down"), errors.New("down")},
		replies: []string{""},
	}
	msg := testMessage()
	record, err := testExtractor(t, fake).Extract(context.Background(), msg)
	require.NoError(t, err)
	require.True(t, record.Degraded)
	require.Equal(t, msg.BodyText, record.Summary, "no reply to excerpt, fall back to the body")
	require.Equal(t, 3, fake.calls)
}

func TestExtractCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fake := &fakeCompletion{errs: []error{errors.New("down")}, replies: []string{""}}
	_, err := testExtractor(t, fake).Extract(ctx, testMessage())
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFallbackRecordExcerptLimit(t *testing.T) {
	body := strings.Repeat("x", 900)
	record := NewFallbackRecord("msg-9", body, 500)
	require.Len(t, record.Summary, 500)
	require.True(t, record.Degraded)
}

func TestFallbackRecordEmptyTextGetsPlaceholder(t *testing.T) {
	record := NewFallbackRecord("msg-img", "   ", 500)
	require.NotEmpty(t, record.Summary)
	require.Equal(t, fallbackPlaceholder, record.Summary)
}

func TestParseRecordRejectsEmptySummary(t *testing.T) {
	_, err := ParseRecord("m", `{"summary": "  ", "events": []}`)
	require.Error(t, err)
}

func TestParseRecordDropsUnparseableSingleDate(t *testing.T) {
	record, err := ParseRecord("m", `{"summary": "s", "events": [{"title": "PTA", "date": "next Monday"}]}`)
	require.NoError(t, err)
	require.Equal(t, "", record.Events[0].Date)
}
