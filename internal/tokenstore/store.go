// Package tokenstore persists provider credentials and in-flight request
// tags to a local SQLite database, so a caller's credential cache survives
// process restarts and a crash mid-request can be correlated back to the
// operation that was running.
package tokenstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

// Pragma tuning constants, matching the durability/concurrency tradeoffs a
// single-process credential cache needs: durable writes, no multi-writer
// contention to worry about beyond WAL's normal readers-don't-block-writer
// behavior.
const walJournalSizeLimit = 67108864 // 64 MiB WAL journal size limit

// Store is a SQLite-backed persistence layer for provider tokens and
// request-tag crash diagnostics. Safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	tokenStmts tokenStatements
	tagStmts   tagStatements
}

type tokenStatements struct {
	get, upsert, delete, listAccounts *sql.Stmt
}

type tagStatements struct {
	record, complete, list, deleteOlderThan *sql.Stmt
}

// Open opens (creating if necessary) the SQLite database at dbPath, applies
// pending migrations, and prepares all statements. Use ":memory:" for
// tests; logger defaults to slog.Default() if nil.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("opening token store", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("tokenstore: open sqlite: %w", err)
	}

	ctx := context.Background()

	if err := setPragmas(ctx, db, logger); err != nil {
		db.Close()

		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()

		return nil, err
	}

	s := &Store{db: db, logger: logger}

	if err := s.prepareAllStatements(ctx); err != nil {
		db.Close()

		return nil, fmt.Errorf("tokenstore: prepare statements: %w", err)
	}

	logger.Info("token store ready", "path", dbPath)

	return s, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func setPragmas(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	pragmas := []struct {
		sql  string
		desc string
	}{
		{"PRAGMA journal_mode = WAL", "WAL mode"},
		{"PRAGMA synchronous = FULL", "synchronous FULL"},
		{"PRAGMA foreign_keys = ON", "foreign keys"},
		{fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit), "journal size limit"},
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.sql); err != nil {
			return fmt.Errorf("tokenstore: set pragma %s: %w", p.desc, err)
		}

		logger.Debug("pragma set", "pragma", p.desc)
	}

	return nil
}

// stmtDef maps a SQL string to the prepared statement pointer it should
// populate, letting a generic loop do the repetitive error handling.
type stmtDef struct {
	dest **sql.Stmt
	sql  string
	name string
}

func prepareAll(ctx context.Context, db *sql.DB, defs []stmtDef) error {
	for i := range defs {
		stmt, err := db.PrepareContext(ctx, defs[i].sql)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", defs[i].name, err)
		}

		*defs[i].dest = stmt
	}

	return nil
}

func (s *Store) prepareAllStatements(ctx context.Context) error {
	if err := s.prepareTokenStmts(ctx); err != nil {
		return err
	}

	return s.prepareTagStmts(ctx)
}
