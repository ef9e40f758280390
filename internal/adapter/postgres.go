package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jonno85/videovault-chunkstore/internal/domain"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS manifests (
	file_id     TEXT PRIMARY KEY,
	filename    TEXT NOT NULL,
	total_size  BIGINT NOT NULL,
	chunk_count INTEGER NOT NULL,
	chunk_size  BIGINT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	owner       TEXT NOT NULL,
	compression TEXT NOT NULL DEFAULT '',
	backend     TEXT NOT NULL DEFAULT '',
	source_url  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS manifests_owner_created_idx ON manifests(owner, created_at DESC);
CREATE TABLE IF NOT EXISTS manifest_chunks (
	file_id   TEXT NOT NULL REFERENCES manifests(file_id) ON DELETE CASCADE,
	seq       INTEGER NOT NULL,
	remote_id TEXT NOT NULL,
	size      BIGINT NOT NULL,
	checksum  TEXT NOT NULL,
	PRIMARY KEY (file_id, seq)
);`

// PostgresManifestStore keeps manifests in PostgreSQL.
type PostgresManifestStore struct {
	pool *pgxpool.Pool
}

// ConnectPostgresManifestStore creates a pgx pool and runs schema migrations.
func ConnectPostgresManifestStore(ctx context.Context, databaseURL string) (*PostgresManifestStore, error) {
	if databaseURL == "" {
		return nil, errors.New("postgres: database url required")
	}
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	config.MaxConns = 10
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate manifests schema: %w", err)
	}
	return &PostgresManifestStore{pool: pool}, nil
}

func (p *PostgresManifestStore) Close() error {
	p.pool.Close()
	return nil
}

// Create writes the manifest and its chunk rows in one transaction.
func (p *PostgresManifestStore) Create(ctx context.Context, m domain.Manifest) error {
	if err := m.Validate(); err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
INSERT INTO manifests (file_id, filename, total_size, chunk_count, chunk_size, created_at, owner, compression, backend, source_url)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (file_id) DO NOTHING`,
			m.FileID, m.Filename, m.TotalSize, m.ChunkCount, m.ChunkSize, m.CreatedAt, m.Owner, m.Compression, m.Backend, m.SourceURL)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("manifest %s: %w", m.FileID, domain.ErrDuplicateID)
		}
		rows := make([][]any, len(m.Chunks))
		for i, ref := range m.Chunks {
			rows[i] = []any{m.FileID, ref.Index, ref.RemoteID, ref.Size, ref.Checksum}
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"manifest_chunks"},
			[]string{"file_id", "seq", "remote_id", "size", "checksum"},
			pgx.CopyFromRows(rows),
		)
		return err
	})
}

const postgresManifestColumns = "file_id, filename, total_size, chunk_count, chunk_size, created_at, owner, compression, backend, source_url"

func (p *PostgresManifestStore) Get(ctx context.Context, fileID string) (domain.Manifest, error) {
	row := p.pool.QueryRow(ctx, "SELECT "+postgresManifestColumns+" FROM manifests WHERE file_id = $1", fileID)
	m, err := scanPostgresManifest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Manifest{}, fmt.Errorf("manifest %s: %w", fileID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Manifest{}, err
	}
	chunks, err := p.chunks(ctx, []string{fileID})
	if err != nil {
		return domain.Manifest{}, err
	}
	m.Chunks = chunks[fileID]
	return m, m.Validate()
}

func (p *PostgresManifestStore) ListByOwner(ctx context.Context, owner string) ([]domain.Manifest, error) {
	rows, err := p.pool.Query(ctx, "SELECT "+postgresManifestColumns+" FROM manifests WHERE owner = $1 ORDER BY created_at DESC, file_id", owner)
	if err != nil {
		return nil, err
	}
	manifests, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Manifest, error) {
		return scanPostgresManifest(row)
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(manifests))
	for i, m := range manifests {
		ids[i] = m.FileID
	}
	chunks, err := p.chunks(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range manifests {
		manifests[i].Chunks = chunks[manifests[i].FileID]
	}
	return manifests, nil
}

func (p *PostgresManifestStore) chunks(ctx context.Context, fileIDs []string) (map[string][]domain.ChunkRef, error) {
	out := make(map[string][]domain.ChunkRef, len(fileIDs))
	if len(fileIDs) == 0 {
		return out, nil
	}
	rows, err := p.pool.Query(ctx, "SELECT file_id, seq, remote_id, size, checksum FROM manifest_chunks WHERE file_id = ANY($1) ORDER BY file_id, seq", fileIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			fileID string
			ref    domain.ChunkRef
		)
		if err := rows.Scan(&fileID, &ref.Index, &ref.RemoteID, &ref.Size, &ref.Checksum); err != nil {
			return nil, err
		}
		out[fileID] = append(out[fileID], ref)
	}
	return out, rows.Err()
}

func scanPostgresManifest(row pgx.Row) (domain.Manifest, error) {
	var m domain.Manifest
	err := row.Scan(&m.FileID, &m.Filename, &m.TotalSize, &m.ChunkCount, &m.ChunkSize, &m.CreatedAt, &m.Owner, &m.Compression, &m.Backend, &m.SourceURL)
	return m, err
}
