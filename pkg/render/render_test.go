package render

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/inbox-digest/pkg/digest"
	"github.com/EternisAI/inbox-digest/pkg/extract"
)

func testDigest() *digest.Digest {
	return &digest.Digest{
		ID:               "d-1",
		CreatedAt:        time.Date(2025, 10, 20, 7, 30, 0, 0, time.UTC),
		Scope:            "school",
		DateRange:        "2025-10-21 to 2025-10-27",
		SourceMessageIDs: []string{"a", "b"},
		ExecutiveSummary: "Two busy school days ahead.",
		Events: []extract.Event{
			{Title: "Fall Carnival", Date: "2025-10-27", Time: "17:00", Location: "Gym", Priority: extract.PriorityHigh, Description: "Bring cash | small bills"},
		},
		ActionItems: []extract.ActionItem{
			{Text: "Sign permission slip", Priority: extract.PriorityHigh, DueDate: "2025-10-24"},
		},
		Announcements: []string{"Library closed Friday"},
		Records: []*extract.Record{
			{MessageID: "a", Summary: "Carnival details and ticket prices."},
			{MessageID: "b", Summary: "Raw excerpt of an unparseable newsletter.", Degraded: true},
		},
	}
}

func TestMarkdownSections(t *testing.T) {
	r := NewRenderer(log.New(os.Stderr), t.TempDir())
	md := r.Markdown(testDigest())

	require.Contains(t, md, "# Inbox Digest: 2025-10-21 to 2025-10-27")
	require.Contains(t, md, "Two busy school days ahead.")
	require.Contains(t, md, "| 2025-10-27 | 17:00 | Fall Carnival | Gym | high |")
	require.Contains(t, md, `Bring cash \| small bills`)
	require.Contains(t, md, "- [ ] Sign permission slip (high, due 2025-10-24)")
	require.Contains(t, md, "- Library closed Friday")
	require.Contains(t, md, "### b (fallback excerpt)")
	require.Contains(t, md, "(1 with fallback summaries)")
	require.NotContains(t, md, "### a (fallback excerpt)")
}

func TestWriteArtifact(t *testing.T) {
	dir := t.TempDir()
	r := NewRenderer(log.New(os.Stderr), dir)

	path, err := r.WriteArtifact(testDigest())
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "digest-school-2025-10-20-073000.md"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data), "# Inbox Digest:"))
}

func TestEmailBodyAndSubject(t *testing.T) {
	r := NewRenderer(log.New(os.Stderr), t.TempDir())
	d := testDigest()

	require.Equal(t, "School digest: 2025-10-21 to 2025-10-27 (2 messages)", r.EmailSubject(d))

	body := r.EmailBody(d)
	require.Contains(t, body, "UPCOMING EVENTS")
	require.Contains(t, body, "Fall Carnival @ Gym")
	require.Contains(t, body, "* Sign permission slip (high, due 2025-10-24)")
	require.NotContains(t, body, "|", "email body must not carry markdown tables")
}

func TestEmailSubjectNonASCIIScope(t *testing.T) {
	r := NewRenderer(log.New(os.Stderr), t.TempDir())
	d := testDigest()
	d.Scope = "école"

	subject := r.EmailSubject(d)
	require.True(t, strings.HasPrefix(subject, "École digest:"), "got %q", subject)
	require.True(t, utf8.ValidString(subject))
}
