package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// LedgerEntry records that one message has been extracted. Record holds the
// serialized extraction; the ledger treats it as opaque bytes.
type LedgerEntry struct {
	MessageID   string         `db:"message_id"`
	ThreadID    string         `db:"thread_id"`
	Subject     string         `db:"subject"`
	Sender      string         `db:"sender"`
	ProcessedAt time.Time      `db:"processed_at"`
	Degraded    bool           `db:"degraded"`
	Record      []byte         `db:"record"`
	DigestID    sql.NullString `db:"digest_id"`
}

// IsProcessed reports whether messageID already has a ledger entry.
func (s *Store) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	var one int
	err := s.db.GetContext(ctx, &one,
		`SELECT 1 FROM processed_messages WHERE message_id = ?`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "ledger existence check")
	}
	return true, nil
}

// MarkProcessed upserts the entry for its message id. Re-extraction of the
// same id overwrites; the ledger never accumulates duplicates.
func (s *Store) MarkProcessed(ctx context.Context, entry LedgerEntry) error {
	if entry.ProcessedAt.IsZero() {
		entry.ProcessedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_messages (message_id, thread_id, subject, sender, processed_at, degraded, record, digest_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (message_id) DO UPDATE SET
			thread_id = excluded.thread_id,
			subject = excluded.subject,
			sender = excluded.sender,
			processed_at = excluded.processed_at,
			degraded = excluded.degraded,
			record = excluded.record,
			digest_id = excluded.digest_id`,
		entry.MessageID, entry.ThreadID, entry.Subject, entry.Sender,
		entry.ProcessedAt, entry.Degraded, entry.Record, entry.DigestID)
	if err != nil {
		return errors.Wrapf(err, "mark message %s processed", entry.MessageID)
	}
	return nil
}

// GetEntry returns the ledger entry for messageID, or sql.ErrNoRows wrapped.
func (s *Store) GetEntry(ctx context.Context, messageID string) (*LedgerEntry, error) {
	var entry LedgerEntry
	err := s.db.GetContext(ctx, &entry,
		`SELECT message_id, thread_id, subject, sender, processed_at, degraded, record, digest_id
		 FROM processed_messages WHERE message_id = ?`, messageID)
	if err != nil {
		return nil, errors.Wrapf(err, "load ledger entry %s", messageID)
	}
	return &entry, nil
}

// ListProcessedIDs returns every message id in the ledger, oldest first.
func (s *Store) ListProcessedIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		`SELECT message_id FROM processed_messages ORDER BY processed_at ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "list processed ids")
	}
	return ids, nil
}

// LinkDigest back-references the digest that consumed the given messages.
func (s *Store) LinkDigest(ctx context.Context, digestID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	query, args, err := sqlx.In(
		`UPDATE processed_messages SET digest_id = ? WHERE message_id IN (?)`,
		digestID, messageIDs)
	if err != nil {
		return errors.Wrap(err, "expand digest link query")
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return errors.Wrapf(err, "link digest %s", digestID)
	}
	return nil
}

// Prune deletes ledger entries processed before the cutoff and returns the
// number removed. Pruning is audit-only: digests embed their merged content,
// so removing old entries never invalidates a digest.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM processed_messages WHERE processed_at < ?`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "prune ledger")
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "prune ledger rows affected")
	}
	if deleted > 0 {
		s.logger.Info("Pruned old ledger entries", "deleted", deleted, "cutoff", cutoff)
	}
	return deleted, nil
}
