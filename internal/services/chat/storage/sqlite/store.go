// Package sqlite provides SQLite-backed persistence for chat messages.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gatechat/gatechat/internal/platform/id"
	"github.com/gatechat/gatechat/internal/platform/storage/sqlitemigrate"
	"github.com/gatechat/gatechat/internal/services/chat/storage"
	"github.com/gatechat/gatechat/internal/services/chat/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store provides SQLite-backed persistence for chat messages.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a SQLite store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := sqlitemigrate.Apply(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// AppendMessage persists one message record and returns its id.
func (s *Store) AppendMessage(ctx context.Context, record storage.MessageRecord) (string, error) {
	if s == nil || s.sqlDB == nil {
		return "", fmt.Errorf("store is not open")
	}

	recordID := strings.TrimSpace(record.ID)
	if recordID == "" {
		generated, err := id.NewID()
		if err != nil {
			return "", fmt.Errorf("generate message id: %w", err)
		}
		recordID = generated
	}

	sentAt := record.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO messages (id, room, user_id, username, body, moderation_status, moderation_reason, sent_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
		recordID,
		record.Room,
		record.UserID,
		record.Username,
		record.Body,
		record.ModerationStatus,
		record.ModerationReason,
		toMillis(sentAt),
	)
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}
	return recordID, nil
}

// RecentMessages returns up to limit of the newest messages for a room,
// ordered by ascending send time.
func (s *Store) RecentMessages(ctx context.Context, room string, limit int) ([]storage.MessageRecord, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("store is not open")
	}
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, room, user_id, username, body, moderation_status, moderation_reason, sent_at
FROM messages
WHERE room = ?
ORDER BY sent_at DESC, id DESC
LIMIT ?
`, room, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var records []storage.MessageRecord
	for rows.Next() {
		var (
			rec    storage.MessageRecord
			sentAt int64
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.Room,
			&rec.UserID,
			&rec.Username,
			&rec.Body,
			&rec.ModerationStatus,
			&rec.ModerationReason,
			&sentAt,
		); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		rec.SentAt = fromMillis(sentAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	// The query walks newest-first to bound the scan; clients render oldest-first.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}
