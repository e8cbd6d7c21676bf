package mailbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const listPageSize = 100

// MessageRef identifies one matching message before fetch.
type MessageRef struct {
	ID       string
	ThreadID string
}

// RawMessage is the fetched RFC822 payload of one message.
type RawMessage struct {
	ID       string
	ThreadID string
	RFC822   []byte
}

// GmailSource lists, fetches and sends messages through the Gmail API for
// one account. Authentication is non-interactive: the OAuth client config
// and a previously issued refresh token are read from disk, so a run can
// happen unattended.
type GmailSource struct {
	service *gmail.Service
	logger  *log.Logger
}

func NewGmailSource(ctx context.Context, logger *log.Logger, credentialsPath, tokenPath string) (*GmailSource, error) {
	credBytes, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, errors.Wrap(err, "read gmail credentials")
	}
	config, err := google.ConfigFromJSON(credBytes, gmail.GmailReadonlyScope, gmail.GmailSendScope)
	if err != nil {
		return nil, errors.Wrap(err, "parse gmail credentials")
	}

	token, err := readToken(tokenPath)
	if err != nil {
		return nil, err
	}

	service, err := gmail.NewService(ctx, option.WithHTTPClient(config.Client(ctx, token)))
	if err != nil {
		return nil, errors.Wrap(err, "create gmail service")
	}
	return &GmailSource{service: service, logger: logger}, nil
}

func readToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open gmail token")
	}
	defer f.Close()

	token := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(token); err != nil {
		return nil, errors.Wrap(err, "decode gmail token")
	}
	return token, nil
}

// List returns refs for every message carrying the label and received
// within the lookback window, oldest page first exhausted via paging.
func (g *GmailSource) List(ctx context.Context, label string, lookback time.Duration) ([]MessageRef, error) {
	query := fmt.Sprintf("label:%s after:%d", label, time.Now().Add(-lookback).Unix())

	var refs []MessageRef
	pageToken := ""
	for {
		call := g.service.Users.Messages.List("me").
			Q(query).
			MaxResults(listPageSize).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, errors.Wrapf(err, "list messages for label %q", label)
		}
		for _, m := range resp.Messages {
			refs = append(refs, MessageRef{ID: m.Id, ThreadID: m.ThreadId})
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	g.logger.Info("Listed labeled messages", "label", label, "lookback", lookback, "count", len(refs))
	return refs, nil
}

// Fetch downloads the full RFC822 payload of one message.
func (g *GmailSource) Fetch(ctx context.Context, id string) (*RawMessage, error) {
	msg, err := g.service.Users.Messages.Get("me", id).Format("raw").Context(ctx).Do()
	if err != nil {
		return nil, errors.Wrapf(err, "fetch message %s", id)
	}
	payload, err := decodeBase64URL(msg.Raw)
	if err != nil {
		return nil, errors.Wrapf(err, "decode message %s", id)
	}
	return &RawMessage{ID: msg.Id, ThreadID: msg.ThreadId, RFC822: payload}, nil
}

// Send delivers a plain-text message from the authenticated account.
func (g *GmailSource) Send(ctx context.Context, to, subject, body string) error {
	var sb strings.Builder
	sb.WriteString("To: " + to + "\r\n")
	sb.WriteString("Subject: " + subject + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(body)

	_, err := g.service.Users.Messages.Send("me", &gmail.Message{
		Raw: base64.RawURLEncoding.EncodeToString([]byte(sb.String())),
	}).Context(ctx).Do()
	if err != nil {
		return errors.Wrapf(err, "send digest to %s", to)
	}
	g.logger.Info("Sent digest email", "to", to, "subject", subject)
	return nil
}

// decodeBase64URL tolerates both padded and unpadded input; the Gmail API
// strips padding from raw payloads.
func decodeBase64URL(s string) ([]byte, error) {
	if m := len(s) % 4; m != 0 {
		s += strings.Repeat("=", 4-m)
	}
	return base64.URLEncoding.DecodeString(s)
}
