package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dharsanguruparan/lockdrop/internal/catalog"
	"github.com/dharsanguruparan/lockdrop/internal/errs"
	"github.com/dharsanguruparan/lockdrop/internal/model"
)

const columns = `id, display_name_enc, storage_locator_enc, password_hash, is_encrypted, size_bytes, content_type, created_at, download_count`

// Catalog wraps all SQL touching the artifacts table.
type Catalog struct {
	pool  PgxPool
	codec catalog.FieldCodec
}

var _ catalog.Catalog = (*Catalog)(nil)

// New constructs a Catalog. codec seals display names and locators.
func New(pool PgxPool, codec catalog.FieldCodec) *Catalog {
	return &Catalog{pool: pool, codec: codec}
}

// Create inserts a sealed row.
func (c *Catalog) Create(ctx context.Context, a *model.Artifact) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	r, err := catalog.Seal(c.codec, a)
	if err != nil {
		return err
	}
	_, err = c.pool.Exec(ctx, `INSERT INTO artifacts (`+columns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		r.ID, r.DisplayNameEnc, r.LocatorEnc, r.PasswordHash, r.IsEncrypted, r.Size, r.ContentType, r.CreatedAt, r.DownloadCount)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("artifact %s: %w", a.ID, errs.ErrDuplicateID)
		}
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

// Get returns one artifact by id.
func (c *Catalog) Get(ctx context.Context, id string) (*model.Artifact, error) {
	var r catalog.Row
	err := c.pool.QueryRow(ctx, `SELECT `+columns+` FROM artifacts WHERE id=$1`, id).Scan(
		&r.ID, &r.DisplayNameEnc, &r.LocatorEnc, &r.PasswordHash, &r.IsEncrypted, &r.Size, &r.ContentType, &r.CreatedAt, &r.DownloadCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("artifact %s: %w", id, errs.ErrNotFound)
		}
		return nil, fmt.Errorf("select artifact: %w", err)
	}
	return catalog.Open(c.codec, r)
}

// IncrementDownloadCount bumps the counter in a single statement so
// concurrent fetches never lose an update.
func (c *Catalog) IncrementDownloadCount(ctx context.Context, id string) (int64, error) {
	var n int64
	err := c.pool.QueryRow(ctx, `UPDATE artifacts SET download_count = download_count + 1 WHERE id=$1 RETURNING download_count`, id).Scan(&n)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("artifact %s: %w", id, errs.ErrNotFound)
		}
		return 0, fmt.Errorf("increment download count: %w", err)
	}
	return n, nil
}

// List scans every row newest first.
func (c *Catalog) List(ctx context.Context) (*catalog.Listing, error) {
	rows, err := c.pool.Query(ctx, `SELECT `+columns+` FROM artifacts ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []catalog.Row
	for rows.Next() {
		var r catalog.Row
		if err := rows.Scan(&r.ID, &r.DisplayNameEnc, &r.LocatorEnc, &r.PasswordHash, &r.IsEncrypted, &r.Size, &r.ContentType, &r.CreatedAt, &r.DownloadCount); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return catalog.OpenAll(c.codec, out), nil
}

// Delete removes a row.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	tag, err := c.pool.Exec(ctx, `DELETE FROM artifacts WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("artifact %s: %w", id, errs.ErrNotFound)
	}
	return nil
}
