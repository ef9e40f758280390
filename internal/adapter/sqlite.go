package adapter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonno85/videovault-chunkstore/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteManifestStore keeps manifests in a local SQLite database.
type SQLiteManifestStore struct {
	db *sql.DB
}

// OpenSQLiteManifestStore opens or creates the database at path and applies migrations.
func OpenSQLiteManifestStore(path string) (*SQLiteManifestStore, error) {
	if path == "" {
		return nil, errors.New("sqlite: db path required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection serialises writers so Create never hits a busy snapshot.
	db.SetMaxOpenConns(1)
	store := &SQLiteManifestStore{db: db}
	if err := store.applyPragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteManifestStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteManifestStore) applyPragmas(ctx context.Context) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteManifestStore) migrate(ctx context.Context) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
)`); err != nil {
		return err
	}
	var version int
	if err = tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return err
	}
	if version < 1 {
		ddl := []string{
			`CREATE TABLE IF NOT EXISTS manifests (
				file_id TEXT PRIMARY KEY,
				filename TEXT NOT NULL,
				total_size INTEGER NOT NULL,
				chunk_count INTEGER NOT NULL,
				chunk_size INTEGER NOT NULL,
				created_at_ns INTEGER NOT NULL,
				owner TEXT NOT NULL,
				compression TEXT NOT NULL DEFAULT '',
				backend TEXT NOT NULL DEFAULT '',
				source_url TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE INDEX IF NOT EXISTS manifests_owner_created_idx ON manifests(owner, created_at_ns)`,
			`CREATE TABLE IF NOT EXISTS manifest_chunks (
				file_id TEXT NOT NULL REFERENCES manifests(file_id) ON DELETE CASCADE,
				seq INTEGER NOT NULL,
				remote_id TEXT NOT NULL,
				size INTEGER NOT NULL,
				checksum TEXT NOT NULL,
				PRIMARY KEY(file_id, seq)
			)`,
		}
		for _, stmt := range ddl {
			if _, err = tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		if _, err = tx.ExecContext(ctx, "INSERT INTO schema_migrations(version, applied_at) VALUES(1, ?)", time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Create inserts the manifest row and all chunk rows in a single transaction.
func (s *SQLiteManifestStore) Create(ctx context.Context, m domain.Manifest) (err error) {
	if err := m.Validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var exists int
	if err = tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM manifests WHERE file_id = ?", m.FileID).Scan(&exists); err != nil {
		return err
	}
	if exists > 0 {
		return fmt.Errorf("manifest %s: %w", m.FileID, domain.ErrDuplicateID)
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO manifests(file_id, filename, total_size, chunk_count, chunk_size, created_at_ns, owner, compression, backend, source_url)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.FileID, m.Filename, m.TotalSize, m.ChunkCount, m.ChunkSize, m.CreatedAt.UnixNano(), m.Owner, m.Compression, m.Backend, m.SourceURL)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("manifest %s: %w", m.FileID, domain.ErrDuplicateID)
		}
		return err
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO manifest_chunks(file_id, seq, remote_id, size, checksum) VALUES(?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, ref := range m.Chunks {
		if _, err = stmt.ExecContext(ctx, m.FileID, ref.Index, ref.RemoteID, ref.Size, ref.Checksum); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const sqliteManifestColumns = "file_id, filename, total_size, chunk_count, chunk_size, created_at_ns, owner, compression, backend, source_url"

func (s *SQLiteManifestStore) Get(ctx context.Context, fileID string) (domain.Manifest, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sqliteManifestColumns+" FROM manifests WHERE file_id = ?", fileID)
	m, err := scanSQLiteManifest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Manifest{}, fmt.Errorf("manifest %s: %w", fileID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Manifest{}, err
	}
	if m.Chunks, err = s.chunks(ctx, fileID); err != nil {
		return domain.Manifest{}, err
	}
	return m, m.Validate()
}

func (s *SQLiteManifestStore) ListByOwner(ctx context.Context, owner string) ([]domain.Manifest, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+sqliteManifestColumns+" FROM manifests WHERE owner = ? ORDER BY created_at_ns DESC, file_id", owner)
	if err != nil {
		return nil, err
	}
	manifests := []domain.Manifest{}
	for rows.Next() {
		m, err := scanSQLiteManifest(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		manifests = append(manifests, m)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()
	for i := range manifests {
		if manifests[i].Chunks, err = s.chunks(ctx, manifests[i].FileID); err != nil {
			return nil, err
		}
	}
	return manifests, nil
}

func (s *SQLiteManifestStore) chunks(ctx context.Context, fileID string) ([]domain.ChunkRef, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT seq, remote_id, size, checksum FROM manifest_chunks WHERE file_id = ? ORDER BY seq", fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var refs []domain.ChunkRef
	for rows.Next() {
		var ref domain.ChunkRef
		if err := rows.Scan(&ref.Index, &ref.RemoteID, &ref.Size, &ref.Checksum); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteManifest(row rowScanner) (domain.Manifest, error) {
	var (
		m         domain.Manifest
		createdNS int64
	)
	err := row.Scan(&m.FileID, &m.Filename, &m.TotalSize, &m.ChunkCount, &m.ChunkSize, &createdNS, &m.Owner, &m.Compression, &m.Backend, &m.SourceURL)
	if err != nil {
		return m, err
	}
	m.CreatedAt = time.Unix(0, createdNS).UTC()
	return m, nil
}
