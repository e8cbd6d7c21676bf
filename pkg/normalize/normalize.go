package normalize

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jaytaylor/html2text"
	"github.com/mnako/letters"
	"github.com/pkg/errors"
)

// ErrContent marks a raw message that cannot be normalized (corrupt MIME,
// unreadable encoding). Callers skip the message and continue the batch.
var ErrContent = errors.New("unparseable message content")

// Image is one inline image that survived the size filter. Never mutated
// after construction.
type Image struct {
	ContentID string
	Filename  string
	MimeType  string
	Width     int
	Height    int
	Data      []byte
}

// AttachmentText is the best-effort text extract of one attachment. Skipped
// is set when extraction failed; the attachment is recorded rather than
// failing the whole message.
type AttachmentText struct {
	Filename string
	Text     string
	Skipped  bool
}

// Message is the canonical normalized form of one raw message. It is built
// once per raw message, consumed read-only by the extractor, and discarded
// at the end of the run — never persisted.
type Message struct {
	ID              string
	ThreadID        string
	Subject         string
	Sender          string
	ReceivedAt      time.Time
	BodyText        string
	Images          []Image
	AttachmentTexts []AttachmentText
}

// Options configures the lossy parts of normalization.
type Options struct {
	BodyCharLimit       int
	AttachmentCharLimit int
	// Inline images smaller than MinImageWidth x MinImageHeight are dropped
	// as signatures/logos. This filter is lossy and not reversible.
	MinImageWidth      int
	MinImageHeight     int
	ProcessAttachments bool
}

type Normalizer struct {
	opts   Options
	logger *log.Logger
}

func NewNormalizer(logger *log.Logger, opts Options) *Normalizer {
	if opts.BodyCharLimit <= 0 {
		opts.BodyCharLimit = 8000
	}
	if opts.AttachmentCharLimit <= 0 {
		opts.AttachmentCharLimit = 8000
	}
	return &Normalizer{opts: opts, logger: logger}
}

// Normalize parses one raw RFC822 message into a Message. The id must be
// stable across runs for the same raw message; it becomes the dedup key.
func (n *Normalizer) Normalize(id, threadID string, raw []byte) (*Message, error) {
	email, err := letters.ParseEmail(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrapf(ErrContent, "parse message %s: %v", id, err)
	}

	body := n.extractBody(id, email)
	if body == "" && len(email.InlineFiles) == 0 && len(email.AttachedFiles) == 0 {
		return nil, errors.Wrapf(ErrContent, "message %s has no usable content", id)
	}

	msg := &Message{
		ID:         id,
		ThreadID:   threadID,
		Subject:    email.Headers.Subject,
		ReceivedAt: email.Headers.Date,
		BodyText:   TruncateAtParagraph(body, n.opts.BodyCharLimit),
	}
	if len(email.Headers.From) > 0 {
		msg.Sender = email.Headers.From[0].String()
	}

	for _, f := range email.InlineFiles {
		if img, ok := n.acceptImage(f.ContentType.ContentType, f.ContentID, fileName(f.ContentType.Params, f.ContentDisposition.Params), f.Data); ok {
			msg.Images = append(msg.Images, img)
		}
	}
	for _, f := range email.AttachedFiles {
		name := fileName(f.ContentType.Params, f.ContentDisposition.Params)
		switch {
		case strings.HasPrefix(f.ContentType.ContentType, "image/"):
			if img, ok := n.acceptImage(f.ContentType.ContentType, "", name, f.Data); ok {
				msg.Images = append(msg.Images, img)
			}
		case f.ContentType.ContentType == "application/pdf" && n.opts.ProcessAttachments:
			msg.AttachmentTexts = append(msg.AttachmentTexts, n.extractAttachment(id, name, f.Data))
		}
	}

	n.logger.Info("Normalized message",
		"id", id,
		"bodyChars", len(msg.BodyText),
		"images", len(msg.Images),
		"attachments", len(msg.AttachmentTexts))

	return msg, nil
}

// extractBody prefers the HTML part stripped to plain text over the plain
// part, matching how most newsletters put the real content in HTML only.
func (n *Normalizer) extractBody(id string, email letters.Email) string {
	if email.HTML != "" {
		text, err := html2text.FromString(email.HTML, html2text.Options{OmitLinks: true, TextOnly: true})
		if err == nil && strings.TrimSpace(text) != "" {
			return cleanBodyText(text)
		}
		if err != nil {
			n.logger.Warn("HTML body conversion failed, falling back to plain text", "id", id, "error", err)
		}
	}
	if email.Text != "" {
		return cleanBodyText(email.Text)
	}
	return cleanBodyText(email.EnrichedText)
}

func (n *Normalizer) acceptImage(mimeType, contentID, filename string, data []byte) (Image, bool) {
	if len(data) == 0 {
		return Image{}, false
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		n.logger.Warn("Dropping undecodable image", "filename", filename, "error", err)
		return Image{}, false
	}
	if cfg.Width < n.opts.MinImageWidth || cfg.Height < n.opts.MinImageHeight {
		// Signature/logo sized, not content.
		return Image{}, false
	}
	return Image{
		ContentID: contentID,
		Filename:  filename,
		MimeType:  mimeType,
		Width:     cfg.Width,
		Height:    cfg.Height,
		Data:      data,
	}, true
}

func (n *Normalizer) extractAttachment(id, filename string, data []byte) AttachmentText {
	text, err := ExtractPDFText(data)
	if err != nil {
		n.logger.Warn("Attachment text extraction skipped", "id", id, "filename", filename, "error", err)
		return AttachmentText{Filename: filename, Skipped: true}
	}
	return AttachmentText{
		Filename: filename,
		Text:     TruncateAtParagraph(text, n.opts.AttachmentCharLimit),
	}
}

func fileName(contentTypeParams, dispositionParams map[string]string) string {
	if name := dispositionParams["filename"]; name != "" {
		return name
	}
	if name := contentTypeParams["name"]; name != "" {
		return name
	}
	return "attachment"
}

var (
	crlfRE     = regexp.MustCompile(`\r\n?`)
	blankRunRE = regexp.MustCompile(`\n{3,}`)
	spaceRunRE = regexp.MustCompile(`[ \t]+`)
)

// cleanBodyText normalizes line endings and collapses whitespace while
// keeping blank lines intact: paragraph boundaries are what truncation
// cuts at.
func cleanBodyText(s string) string {
	s = crlfRE.ReplaceAllString(s, "\n")
	s = spaceRunRE.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " ")
	}
	s = strings.Join(lines, "\n")
	s = blankRunRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
