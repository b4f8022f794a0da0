package ingest

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/ivansantander-hub/docuchat/internal/errors"
)

// FileRecord is one uploaded file of one user. Vectorized flips to true only
// once the file's chunks are present in the owning stores, so a false record
// marks an upload whose indexing has not (yet) succeeded.
type FileRecord struct {
	UserID     string    `json:"user_id"`
	Document   string    `json:"document"`
	SizeBytes  int64     `json:"size_bytes"`
	ChunkCount int       `json:"chunk_count"`
	Vectorized bool      `json:"vectorized"`
	IngestedAt time.Time `json:"ingested_at"`
}

// Catalog tracks which files each user has ingested, backed by SQLite.
// A re-ingested file replaces its existing record.
type Catalog struct {
	db *sql.DB
}

const catalogSchema = `
CREATE TABLE IF NOT EXISTS user_files (
	user_id     TEXT NOT NULL,
	document    TEXT NOT NULL,
	size_bytes  INTEGER NOT NULL,
	chunk_count INTEGER NOT NULL,
	vectorized  INTEGER NOT NULL DEFAULT 0,
	ingested_at TIMESTAMP NOT NULL,
	PRIMARY KEY (user_id, document)
);
CREATE INDEX IF NOT EXISTS idx_user_files_user ON user_files(user_id);
`

// OpenCatalog opens (or creates) the catalog database at path.
func OpenCatalog(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.New(errors.ErrCodeCatalogFailed, "failed to open catalog database", err)
	}

	// SQLite works best single-writer; one connection avoids lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL must be set via PRAGMA statements for modernc.org/sqlite.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.New(errors.ErrCodeCatalogFailed, "failed to configure catalog database", err)
		}
	}

	if _, err := db.Exec(catalogSchema); err != nil {
		_ = db.Close()
		return nil, errors.New(errors.ErrCodeCatalogFailed, "failed to create catalog schema", err)
	}

	return &Catalog{db: db}, nil
}

// Record inserts or replaces a file record.
func (c *Catalog) Record(ctx context.Context, rec FileRecord) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO user_files (user_id, document, size_bytes, chunk_count, vectorized, ingested_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.UserID, rec.Document, rec.SizeBytes, rec.ChunkCount, rec.Vectorized, rec.IngestedAt.UTC())
	if err != nil {
		return errors.New(errors.ErrCodeCatalogFailed, "failed to record file", err)
	}
	return nil
}

// ListFiles returns the user's file records, newest first.
func (c *Catalog) ListFiles(ctx context.Context, userID string) ([]FileRecord, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT user_id, document, size_bytes, chunk_count, vectorized, ingested_at
		 FROM user_files WHERE user_id = ?
		 ORDER BY ingested_at DESC, document ASC`, userID)
	if err != nil {
		return nil, errors.New(errors.ErrCodeCatalogFailed, "failed to list files", err)
	}
	defer rows.Close()

	var records []FileRecord
	for rows.Next() {
		var rec FileRecord
		if err := rows.Scan(&rec.UserID, &rec.Document, &rec.SizeBytes, &rec.ChunkCount, &rec.Vectorized, &rec.IngestedAt); err != nil {
			return nil, errors.New(errors.ErrCodeCatalogFailed, "failed to scan file record", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.ErrCodeCatalogFailed, "failed to read file records", err)
	}
	return records, nil
}

// DeleteFile removes a file record. Unknown records are a no-op.
func (c *Catalog) DeleteFile(ctx context.Context, userID, document string) error {
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM user_files WHERE user_id = ? AND document = ?`, userID, document)
	if err != nil {
		return errors.New(errors.ErrCodeCatalogFailed, "failed to delete file record", err)
	}
	return nil
}

// Users returns the IDs of all users with at least one ingested file.
func (c *Catalog) Users(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM user_files ORDER BY user_id`)
	if err != nil {
		return nil, errors.New(errors.ErrCodeCatalogFailed, "failed to list users", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.New(errors.ErrCodeCatalogFailed, "failed to scan user ID", err)
		}
		users = append(users, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.ErrCodeCatalogFailed, "failed to read users", err)
	}
	return users, nil
}

// HasUser reports whether the user has ingested at least one file.
func (c *Catalog) HasUser(ctx context.Context, userID string) (bool, error) {
	var one int
	err := c.db.QueryRowContext(ctx,
		`SELECT 1 FROM user_files WHERE user_id = ? LIMIT 1`, userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.New(errors.ErrCodeCatalogFailed, "failed to look up user", err)
	}
	return true, nil
}

// Close closes the underlying database.
func (c *Catalog) Close() error {
	return c.db.Close()
}
