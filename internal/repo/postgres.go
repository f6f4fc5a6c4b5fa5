package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net"
	"net/url"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/google/uuid"

	"github.com/NEXORA-Studios/NovaCL/internal/data"
	"github.com/NEXORA-Studios/NovaCL/internal/fp"
)

// PostgresRepo implements DownloadRepo backed by PostgreSQL. Segment
// checkpoints are stored as JSONB in the parts column.
type PostgresRepo struct {
	db *sql.DB
}

// NewPostgresRepo constructs a repository using the provided DSN.
func NewPostgresRepo(dsn string) (*PostgresRepo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	r := &PostgresRepo{db: db}
	if err := r.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// NewPostgresRepoFromEnv uses DATABASE_URL when set, otherwise builds a DSN
// from component env vars (with defaults):
//
//	POSTGRES_HOST (localhost), POSTGRES_PORT (5432), POSTGRES_DB (novacl),
//	POSTGRES_USER (novacl), POSTGRES_PASSWORD (empty), POSTGRES_SSLMODE (disable)
func NewPostgresRepoFromEnv() (*PostgresRepo, error) {
	return NewPostgresRepo(DSNFromEnv())
}

// DSNFromEnv returns the connection string NewPostgresRepoFromEnv would use.
func DSNFromEnv() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(getenv("POSTGRES_USER", "novacl"), getenv("POSTGRES_PASSWORD", "")),
		Host:   net.JoinHostPort(getenv("POSTGRES_HOST", "localhost"), getenv("POSTGRES_PORT", "5432")),
		Path:   "/" + getenv("POSTGRES_DB", "novacl"),
	}
	q := url.Values{}
	q.Set("sslmode", getenv("POSTGRES_SSLMODE", "disable"))
	u.RawQuery = q.Encode()
	return u.String()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func (r *PostgresRepo) Close() error { return r.db.Close() }

// Ping reports whether the database is reachable.
func (r *PostgresRepo) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func (r *PostgresRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS downloads (
    id TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    target_path TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    segments INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    desired_status TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    total_size BIGINT NOT NULL DEFAULT -1,
    accept_ranges BOOLEAN NOT NULL DEFAULT FALSE,
    parts JSONB,
    created_at TIMESTAMPTZ NOT NULL,
    fingerprint TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS downloads_fingerprint_idx ON downloads (fingerprint);
`)
	return err
}

const selectColumns = `SELECT id,source,target_path,name,segments,status,desired_status,error,total_size,accept_ranges,parts,created_at FROM downloads`

// List implements DownloadReader.List
func (r *PostgresRepo) List(ctx context.Context) (data.Downloads, error) {
	return r.query(ctx, selectColumns+` ORDER BY created_at ASC, id ASC`)
}

// Get implements DownloadReader.Get
func (r *PostgresRepo) Get(ctx context.Context, id string) (*data.Download, error) {
	dl, err := scanDownload(r.db.QueryRowContext(ctx, selectColumns+` WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, data.ErrNotFound
		}
		return nil, err
	}
	return dl, nil
}

// Add implements DownloadWriter.Add
func (r *PostgresRepo) Add(ctx context.Context, d *data.Download) (*data.Download, error) {
	next := d.Clone()
	if next.ID == "" {
		next.ID = uuid.NewString()
	}
	if next.CreatedAt.IsZero() {
		next.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO downloads (id,source,target_path,name,segments,status,desired_status,error,total_size,accept_ranges,parts,created_at,fingerprint) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		next.ID, next.Source, next.TargetPath, next.Name, next.Segments, string(next.Status), string(next.DesiredStatus), next.Error,
		next.TotalSize, next.AcceptRanges, partsJSON(next.Parts), next.CreatedAt, fp.Fingerprint(next.Source, next.Path()))
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, next.ID)
}

// Update implements DownloadWriter.Update. The row is locked with
// SELECT ... FOR UPDATE for the duration of mutate.
func (r *PostgresRepo) Update(ctx context.Context, id string, mutate func(*data.Download) error) (*data.Download, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	cur, err := scanDownload(tx.QueryRowContext(ctx, selectColumns+` WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, data.ErrNotFound
		}
		return nil, err
	}

	next := cur.Clone()
	if mutate != nil {
		if err := mutate(next); err != nil {
			return nil, err
		}
	}
	if equalDownloads(cur, next) {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return cur, nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE downloads SET source=$1, target_path=$2, name=$3, segments=$4, status=$5, desired_status=$6, error=$7, total_size=$8, accept_ranges=$9, parts=$10, fingerprint=$11 WHERE id=$12`,
		next.Source, next.TargetPath, next.Name, next.Segments, string(next.Status), string(next.DesiredStatus), next.Error,
		next.TotalSize, next.AcceptRanges, partsJSON(next.Parts), fp.Fingerprint(next.Source, next.Path()), id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	next.ID = cur.ID
	next.CreatedAt = cur.CreatedAt
	return next, nil
}

// Delete implements DownloadWriter.Delete
func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM downloads WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return data.ErrNotFound
	}
	return nil
}

// FindByFingerprint implements DownloadFinder
func (r *PostgresRepo) FindByFingerprint(ctx context.Context, fprint string) (data.Downloads, error) {
	return r.query(ctx, selectColumns+` WHERE fingerprint=$1 ORDER BY created_at ASC`, fprint)
}

func (r *PostgresRepo) query(ctx context.Context, q string, args ...any) (data.Downloads, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := data.Downloads{}
	for rows.Next() {
		dl, err := scanDownload(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanDownload(rs rowScanner) (*data.Download, error) {
	var (
		dl              data.Download
		status, desired string
		partsRaw        sql.NullString
	)
	if err := rs.Scan(&dl.ID, &dl.Source, &dl.TargetPath, &dl.Name, &dl.Segments, &status, &desired, &dl.Error,
		&dl.TotalSize, &dl.AcceptRanges, &partsRaw, &dl.CreatedAt); err != nil {
		return nil, err
	}
	dl.Status = data.DownloadStatus(status)
	dl.DesiredStatus = data.DownloadStatus(desired)
	if partsRaw.Valid && partsRaw.String != "" {
		if err := json.Unmarshal([]byte(partsRaw.String), &dl.Parts); err != nil {
			return nil, err
		}
	}
	return &dl, nil
}

func equalDownloads(a, b *data.Download) bool {
	if a.Source != b.Source || a.TargetPath != b.TargetPath || a.Name != b.Name || a.Segments != b.Segments ||
		a.Status != b.Status || a.DesiredStatus != b.DesiredStatus || a.Error != b.Error ||
		a.TotalSize != b.TotalSize || a.AcceptRanges != b.AcceptRanges {
		return false
	}
	return string(mustJSON(a.Parts)) == string(mustJSON(b.Parts))
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func partsJSON(parts []data.Segment) any {
	if len(parts) == 0 {
		return nil
	}
	return string(mustJSON(parts))
}
