package render

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/EternisAI/inbox-digest/pkg/digest"
)

// Renderer turns a digest into its markdown artifact and the plain-text
// email body. Rendering is pure; only WriteArtifact touches the filesystem.
type Renderer struct {
	outputDir string
	logger    *log.Logger
}

func NewRenderer(logger *log.Logger, outputDir string) *Renderer {
	return &Renderer{outputDir: outputDir, logger: logger}
}

// WriteArtifact renders the digest to markdown and writes it under the
// output directory. The filename carries the scope and creation time so
// repeated runs never clobber each other.
func (r *Renderer) WriteArtifact(d *digest.Digest) (string, error) {
	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return "", errors.Wrap(err, "create output directory")
	}

	name := fmt.Sprintf("digest-%s.md", d.CreatedAt.Format("2006-01-02-150405"))
	if d.Scope != "" {
		name = fmt.Sprintf("digest-%s-%s.md", d.Scope, d.CreatedAt.Format("2006-01-02-150405"))
	}
	path := filepath.Join(r.outputDir, name)

	if err := os.WriteFile(path, []byte(r.Markdown(d)), 0o644); err != nil {
		return "", errors.Wrap(err, "write digest artifact")
	}
	r.logger.Info("Wrote digest artifact", "path", path)
	return path, nil
}

// Markdown renders the full digest document.
func (r *Renderer) Markdown(d *digest.Digest) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Inbox Digest: %s\n\n", d.DateRange)
	fmt.Fprintf(&sb, "Generated %s from %d messages", d.CreatedAt.Format("Jan 2, 2006 15:04 MST"), len(d.Records))
	if n := d.DegradedCount(); n > 0 {
		fmt.Fprintf(&sb, " (%d with fallback summaries)", n)
	}
	sb.WriteString(".\n\n")

	sb.WriteString("## Summary\n\n")
	sb.WriteString(d.ExecutiveSummary)
	sb.WriteString("\n\n")

	if len(d.Events) > 0 {
		sb.WriteString("## Upcoming Events\n\n")
		sb.WriteString("| Date | Time | Event | Location | Priority |\n")
		sb.WriteString("|------|------|-------|----------|----------|\n")
		for _, ev := range d.Events {
			fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s |\n",
				orDash(ev.Date), orDash(ev.Time), cell(ev.Title), cell(orDash(ev.Location)), ev.Priority)
			if ev.Description != "" {
				fmt.Fprintf(&sb, "| | | %s | | |\n", cell(ev.Description))
			}
		}
		sb.WriteString("\n")
	}

	if len(d.ActionItems) > 0 {
		sb.WriteString("## Action Items\n\n")
		for _, item := range d.ActionItems {
			fmt.Fprintf(&sb, "- [ ] %s (%s", item.Text, item.Priority)
			if item.DueDate != "" {
				fmt.Fprintf(&sb, ", due %s", item.DueDate)
			}
			sb.WriteString(")\n")
		}
		sb.WriteString("\n")
	}

	if len(d.Announcements) > 0 {
		sb.WriteString("## Announcements\n\n")
		for _, a := range d.Announcements {
			fmt.Fprintf(&sb, "- %s\n", a)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Message Summaries\n\n")
	for _, rec := range d.Records {
		fmt.Fprintf(&sb, "### %s", rec.MessageID)
		if rec.Degraded {
			sb.WriteString(" (fallback excerpt)")
		}
		sb.WriteString("\n\n")
		sb.WriteString(rec.Summary)
		sb.WriteString("\n\n")
	}

	return sb.String()
}

// EmailSubject is the subject line used when the digest is mailed out.
func (r *Renderer) EmailSubject(d *digest.Digest) string {
	scope := "Inbox"
	if d.Scope != "" {
		r, size := utf8.DecodeRuneInString(d.Scope)
		scope = strings.ToUpper(string(r)) + d.Scope[size:]
	}
	return fmt.Sprintf("%s digest: %s (%d messages)", scope, d.DateRange, len(d.Records))
}

// EmailBody renders the plain-text body for delivery. It mirrors the
// markdown document without table syntax so it reads cleanly in any client.
func (r *Renderer) EmailBody(d *digest.Digest) string {
	var sb strings.Builder

	sb.WriteString(d.ExecutiveSummary)
	sb.WriteString("\n\n")

	if len(d.Events) > 0 {
		sb.WriteString("UPCOMING EVENTS\n")
		for _, ev := range d.Events {
			fmt.Fprintf(&sb, "  %s", orDash(ev.Date))
			if ev.Time != "" {
				fmt.Fprintf(&sb, " %s", ev.Time)
			}
			fmt.Fprintf(&sb, "  %s", ev.Title)
			if ev.Location != "" {
				fmt.Fprintf(&sb, " @ %s", ev.Location)
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if len(d.ActionItems) > 0 {
		sb.WriteString("ACTION ITEMS\n")
		for _, item := range d.ActionItems {
			fmt.Fprintf(&sb, "  * %s (%s", item.Text, item.Priority)
			if item.DueDate != "" {
				fmt.Fprintf(&sb, ", due %s", item.DueDate)
			}
			sb.WriteString(")\n")
		}
		sb.WriteString("\n")
	}

	if len(d.Announcements) > 0 {
		sb.WriteString("ANNOUNCEMENTS\n")
		for _, a := range d.Announcements {
			fmt.Fprintf(&sb, "  * %s\n", a)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "Covering %d messages, %s.\n", len(d.Records), d.DateRange)
	return sb.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// cell escapes pipes so free text cannot break the table row.
func cell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
