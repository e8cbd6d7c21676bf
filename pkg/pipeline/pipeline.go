package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/EternisAI/inbox-digest/pkg/db"
	"github.com/EternisAI/inbox-digest/pkg/digest"
	"github.com/EternisAI/inbox-digest/pkg/extract"
	"github.com/EternisAI/inbox-digest/pkg/mailbox"
	"github.com/EternisAI/inbox-digest/pkg/normalize"
	"github.com/EternisAI/inbox-digest/pkg/render"
)

// Source lists and fetches labeled messages.
type Source interface {
	List(ctx context.Context, label string, lookback time.Duration) ([]mailbox.MessageRef, error)
	Fetch(ctx context.Context, id string) (*mailbox.RawMessage, error)
}

// Sink delivers the finished digest.
type Sink interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Options carries the run-level knobs; component-level knobs live in each
// component's own constructor.
type Options struct {
	Label         string
	Lookback      time.Duration
	RetentionDays int

	SendDigest bool
	Recipient  string
}

// Summary reports what one run did. A run that found nothing new still
// succeeds with an empty DigestID.
type Summary struct {
	Found     int    `json:"found"`
	Skipped   int    `json:"skipped"`
	Processed int    `json:"processed"`
	Degraded  int    `json:"degraded"`
	Errors    int    `json:"errors"`
	DigestID  string `json:"digest_id,omitempty"`
	Artifact  string `json:"artifact,omitempty"`
}

// Pipeline wires source, normalizer, extractor, consolidator, renderer and
// ledger into one sequential run. Messages are processed one at a time: the
// ledger write happens immediately after each extraction, so an interrupted
// run never re-extracts what it already paid for.
type Pipeline struct {
	source       Source
	sink         Sink
	store        *db.Store
	normalizer   *normalize.Normalizer
	extractor    *extract.Extractor
	consolidator *digest.Consolidator
	renderer     *render.Renderer
	opts         Options
	logger       *log.Logger
}

func NewPipeline(
	logger *log.Logger,
	source Source,
	sink Sink,
	store *db.Store,
	normalizer *normalize.Normalizer,
	extractor *extract.Extractor,
	consolidator *digest.Consolidator,
	renderer *render.Renderer,
	opts Options,
) *Pipeline {
	return &Pipeline{
		source:       source,
		sink:         sink,
		store:        store,
		normalizer:   normalizer,
		extractor:    extractor,
		consolidator: consolidator,
		renderer:     renderer,
		opts:         opts,
		logger:       logger,
	}
}

// Run executes one digest cycle. force re-extracts messages the ledger has
// already seen. The returned error is fatal (ledger unavailable, source
// listing failed, cancellation); per-message failures are absorbed into the
// Summary instead.
func (p *Pipeline) Run(ctx context.Context, force bool) (*Summary, error) {
	refs, err := p.source.List(ctx, p.opts.Label, p.opts.Lookback)
	if err != nil {
		return nil, errors.Wrap(err, "list mailbox")
	}

	summary := &Summary{Found: len(refs)}
	var records []*extract.Record

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if !force {
			processed, err := p.store.IsProcessed(ctx, ref.ID)
			if err != nil {
				return nil, errors.Wrap(err, "ledger check")
			}
			if processed {
				summary.Skipped++
				continue
			}
		}

		record, err := p.processMessage(ctx, ref)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			var ledgerErr *ledgerError
			if errors.As(err, &ledgerErr) {
				return nil, err
			}
			p.logger.Warn("Skipping message", "id", ref.ID, "error", err)
			summary.Errors++
			continue
		}

		records = append(records, record)
		summary.Processed++
		if record.Degraded {
			summary.Degraded++
		}
	}

	if len(records) == 0 {
		p.logger.Info("No new messages, skipping digest", "found", summary.Found, "skipped", summary.Skipped)
		p.prune(ctx)
		return summary, nil
	}

	d, err := p.consolidator.Consolidate(ctx, records)
	if err != nil {
		return nil, errors.Wrap(err, "consolidate records")
	}
	summary.DigestID = d.ID

	artifactPath, err := p.renderer.WriteArtifact(d)
	if err != nil {
		p.logger.Error("Failed to write digest artifact", "id", d.ID, "error", err)
		summary.Errors++
		artifactPath = ""
	}
	summary.Artifact = artifactPath

	if err := p.saveDigest(ctx, d, artifactPath); err != nil {
		return nil, err
	}

	if p.opts.SendDigest && p.sink != nil {
		if err := p.sink.Send(ctx, p.opts.Recipient, p.renderer.EmailSubject(d), p.renderer.EmailBody(d)); err != nil {
			p.logger.Error("Digest delivery failed, artifact is still on disk",
				"id", d.ID, "recipient", p.opts.Recipient, "error", err)
			summary.Errors++
		}
	}

	p.prune(ctx)

	p.logger.Info("Run complete",
		"found", summary.Found,
		"processed", summary.Processed,
		"degraded", summary.Degraded,
		"skipped", summary.Skipped,
		"errors", summary.Errors,
		"digest", summary.DigestID)
	return summary, nil
}

// ledgerError marks failures that must abort the run: continuing without a
// working ledger would double-process messages on the next run.
type ledgerError struct{ err error }

func (e *ledgerError) Error() string { return e.err.Error() }
func (e *ledgerError) Unwrap() error { return e.err }

func (p *Pipeline) processMessage(ctx context.Context, ref mailbox.MessageRef) (*extract.Record, error) {
	raw, err := p.source.Fetch(ctx, ref.ID)
	if err != nil {
		return nil, errors.Wrap(err, "fetch")
	}

	msg, err := p.normalizer.Normalize(raw.ID, raw.ThreadID, raw.RFC822)
	if err != nil {
		// Unparseable content is skipped without a ledger entry so a
		// later run can retry it after an upstream fix.
		return nil, err
	}

	record, err := p.extractor.Extract(ctx, msg)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return nil, errors.Wrap(err, "marshal record")
	}
	entry := db.LedgerEntry{
		MessageID: msg.ID,
		ThreadID:  msg.ThreadID,
		Subject:   msg.Subject,
		Sender:    msg.Sender,
		Degraded:  record.Degraded,
		Record:    payload,
	}
	if err := p.store.MarkProcessed(ctx, entry); err != nil {
		return nil, &ledgerError{err: err}
	}
	return record, nil
}

func (p *Pipeline) saveDigest(ctx context.Context, d *digest.Digest, artifactPath string) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return errors.Wrap(err, "marshal digest")
	}
	row := db.DigestRow{
		ID:           d.ID,
		CreatedAt:    d.CreatedAt,
		DateRange:    d.DateRange,
		MessageCount: len(d.Records),
		ArtifactPath: artifactPath,
		Data:         payload,
	}
	if err := p.store.SaveDigest(ctx, row); err != nil {
		return err
	}
	if err := p.store.LinkDigest(ctx, d.ID, d.SourceMessageIDs); err != nil {
		return err
	}
	return nil
}

func (p *Pipeline) prune(ctx context.Context) {
	if p.opts.RetentionDays <= 0 {
		return
	}
	retention := time.Duration(p.opts.RetentionDays) * 24 * time.Hour
	if _, err := p.store.Prune(ctx, retention); err != nil {
		p.logger.Error("Ledger pruning failed", "error", err)
	}
}
