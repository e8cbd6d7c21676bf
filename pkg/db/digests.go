package db

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// DigestRow is the persisted audit copy of one consolidated digest. Data is
// the serialized digest content; it embeds merged events and action items so
// digests stay readable after the ledger is pruned.
type DigestRow struct {
	ID           string    `db:"id"`
	CreatedAt    time.Time `db:"created_at"`
	DateRange    string    `db:"date_range"`
	MessageCount int       `db:"message_count"`
	ArtifactPath string    `db:"artifact_path"`
	Data         []byte    `db:"data"`
}

// SaveDigest inserts the digest audit row. Digests are never mutated after
// creation, so there is no upsert path.
func (s *Store) SaveDigest(ctx context.Context, row DigestRow) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO digests (id, created_at, date_range, message_count, artifact_path, data)
		VALUES (?, ?, ?, ?, ?, ?)`,
		row.ID, row.CreatedAt, row.DateRange, row.MessageCount, row.ArtifactPath, row.Data)
	if err != nil {
		return errors.Wrapf(err, "save digest %s", row.ID)
	}
	return nil
}

// RecentDigests returns up to limit digests, newest first.
func (s *Store) RecentDigests(ctx context.Context, limit int) ([]DigestRow, error) {
	if limit <= 0 {
		limit = 7
	}
	var rows []DigestRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, created_at, date_range, message_count, artifact_path, data
		FROM digests ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list recent digests")
	}
	return rows, nil
}

// Stats summarizes ledger and digest counts for the --stats command.
type Stats struct {
	ProcessedMessages int        `json:"processed_messages"`
	ProcessedLast7d   int        `json:"processed_last_7_days"`
	DegradedMessages  int        `json:"degraded_messages"`
	Digests           int        `json:"digests"`
	LastDigestAt      *time.Time `json:"last_digest_at,omitempty"`
}

func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := s.db.GetContext(ctx, &stats.ProcessedMessages,
		`SELECT COUNT(*) FROM processed_messages`); err != nil {
		return nil, errors.Wrap(err, "count processed messages")
	}
	if err := s.db.GetContext(ctx, &stats.ProcessedLast7d,
		`SELECT COUNT(*) FROM processed_messages WHERE processed_at >= datetime('now', '-7 days')`); err != nil {
		return nil, errors.Wrap(err, "count recent messages")
	}
	if err := s.db.GetContext(ctx, &stats.DegradedMessages,
		`SELECT COUNT(*) FROM processed_messages WHERE degraded = 1`); err != nil {
		return nil, errors.Wrap(err, "count degraded messages")
	}
	if err := s.db.GetContext(ctx, &stats.Digests,
		`SELECT COUNT(*) FROM digests`); err != nil {
		return nil, errors.Wrap(err, "count digests")
	}

	var last time.Time
	err := s.db.GetContext(ctx, &last,
		`SELECT created_at FROM digests ORDER BY created_at DESC LIMIT 1`)
	if err == nil {
		stats.LastDigestAt = &last
	}
	return &stats, nil
}
