package tokenstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	sqlRecordTag = `INSERT INTO request_tags
		(tag, provider, account, operation, created_at)
		VALUES (?, ?, ?, ?, ?)`

	sqlCompleteTag = `UPDATE request_tags
		SET completed_at = ?, error = ?
		WHERE tag = ?`

	sqlListTags = `SELECT tag, provider, account, operation, created_at, completed_at, error
		FROM request_tags WHERE provider = ? AND account = ? ORDER BY created_at`

	sqlDeleteTagsOlderThan = `DELETE FROM request_tags WHERE created_at < ?`
)

func (s *Store) prepareTagStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.tagStmts.record, sqlRecordTag, "recordTag"},
		{&s.tagStmts.complete, sqlCompleteTag, "completeTag"},
		{&s.tagStmts.list, sqlListTags, "listTags"},
		{&s.tagStmts.deleteOlderThan, sqlDeleteTagsOlderThan, "deleteTagsOlderThan"},
	})
}

// RequestTag records one in-flight library operation so a crash mid-request
// can be correlated back to what was running: which account, which
// operation, and whether it ever completed.
type RequestTag struct {
	Tag         string
	Provider    string
	Account     string
	Operation   string
	CreatedAt   time.Time
	CompletedAt *time.Time
	Error       string
}

// RecordTag generates a fresh uuid.UUID tag and persists the start of a
// request. The returned tag should be passed to CompleteTag once the
// request finishes, success or failure.
func (s *Store) RecordTag(ctx context.Context, key AccountKey, operation string) (string, error) {
	tag := uuid.NewString()

	_, err := s.tagStmts.record.ExecContext(ctx, tag, key.Provider, key.Account, operation, time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("tokenstore: record tag: %w", err)
	}

	return tag, nil
}

// CompleteTag marks a previously recorded tag as finished. opErr may be nil
// for a successful completion.
func (s *Store) CompleteTag(ctx context.Context, tag string, opErr error) error {
	errMsg := ""
	if opErr != nil {
		errMsg = opErr.Error()
	}

	_, err := s.tagStmts.complete.ExecContext(ctx, time.Now().Unix(), errMsg, tag)
	if err != nil {
		return fmt.Errorf("tokenstore: complete tag %s: %w", tag, err)
	}

	return nil
}

// ListTags returns every request tag recorded for key, oldest first. A tag
// with a nil CompletedAt after process restart indicates the request was
// in flight when the process died.
func (s *Store) ListTags(ctx context.Context, key AccountKey) ([]RequestTag, error) {
	rows, err := s.tagStmts.list.QueryContext(ctx, key.Provider, key.Account)
	if err != nil {
		return nil, fmt.Errorf("tokenstore: list tags: %w", err)
	}
	defer rows.Close()

	var tags []RequestTag

	for rows.Next() {
		var (
			t             RequestTag
			createdUnix   int64
			completedUnix sql.NullInt64
		)

		if err := rows.Scan(&t.Tag, &t.Provider, &t.Account, &t.Operation, &createdUnix, &completedUnix, &t.Error); err != nil {
			return nil, fmt.Errorf("tokenstore: scan tag row: %w", err)
		}

		t.CreatedAt = time.Unix(createdUnix, 0)

		if completedUnix.Valid {
			completed := time.Unix(completedUnix.Int64, 0)
			t.CompletedAt = &completed
		}

		tags = append(tags, t)
	}

	return tags, rows.Err()
}

// PruneTagsOlderThan deletes completed and stale request tags recorded
// before cutoff, keeping the diagnostics table from growing unbounded.
func (s *Store) PruneTagsOlderThan(ctx context.Context, cutoff time.Time) error {
	if _, err := s.tagStmts.deleteOlderThan.ExecContext(ctx, cutoff.Unix()); err != nil {
		return fmt.Errorf("tokenstore: prune tags: %w", err)
	}

	return nil
}
