// Package catalog maps artifact ids to their sealed metadata. Display names
// and storage locators are encrypted on the way in and decrypted on the way
// out; callers only ever see plaintext model.Artifact values.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/dharsanguruparan/lockdrop/internal/model"
)

// Catalog is the persistence contract used by the custody pipeline.
type Catalog interface {
	// Create inserts a new row. A second row with the same id yields
	// errs.ErrDuplicateID.
	Create(ctx context.Context, a *model.Artifact) error
	// Get returns errs.ErrNotFound for unknown ids and errs.ErrDecryption
	// when the row exists but its metadata cannot be opened.
	Get(ctx context.Context, id string) (*model.Artifact, error)
	// IncrementDownloadCount atomically adds one and returns the new value.
	IncrementDownloadCount(ctx context.Context, id string) (int64, error)
	// List returns readable rows newest first.
	List(ctx context.Context) (*Listing, error)
	Delete(ctx context.Context, id string) error
}

// Listing is the result of a full scan. Rows whose metadata failed to
// decrypt are left out of Artifacts and named in Unreadable.
type Listing struct {
	Artifacts  []model.Artifact
	Unreadable []string
}

// FieldCodec seals short strings. *vault.Vault satisfies it.
type FieldCodec interface {
	EncryptField(plain string) (string, error)
	DecryptField(token string) (string, error)
}

// Row is the at-rest shape of an artifact.
type Row struct {
	ID             string
	DisplayNameEnc string
	LocatorEnc     string
	PasswordHash   string
	IsEncrypted    bool
	Size           int64
	ContentType    string
	CreatedAt      time.Time
	DownloadCount  int64
}

// Seal encrypts the sensitive fields of a.
func Seal(codec FieldCodec, a *model.Artifact) (Row, error) {
	name, err := codec.EncryptField(a.DisplayName)
	if err != nil {
		return Row{}, fmt.Errorf("seal display name: %w", err)
	}
	loc, err := codec.EncryptField(a.StorageLocator)
	if err != nil {
		return Row{}, fmt.Errorf("seal storage locator: %w", err)
	}
	return Row{
		ID:             a.ID,
		DisplayNameEnc: name,
		LocatorEnc:     loc,
		PasswordHash:   a.PasswordHash,
		IsEncrypted:    a.IsEncrypted,
		Size:           a.Size,
		ContentType:    a.ContentType,
		CreatedAt:      a.CreatedAt,
		DownloadCount:  a.DownloadCount,
	}, nil
}

// Open decrypts a row. Failures wrap errs.ErrDecryption.
func Open(codec FieldCodec, r Row) (*model.Artifact, error) {
	name, err := codec.DecryptField(r.DisplayNameEnc)
	if err != nil {
		return nil, fmt.Errorf("open display name of %s: %w", r.ID, err)
	}
	loc, err := codec.DecryptField(r.LocatorEnc)
	if err != nil {
		return nil, fmt.Errorf("open storage locator of %s: %w", r.ID, err)
	}
	return &model.Artifact{
		ID:             r.ID,
		DisplayName:    name,
		StorageLocator: loc,
		PasswordHash:   r.PasswordHash,
		IsEncrypted:    r.IsEncrypted,
		Size:           r.Size,
		ContentType:    r.ContentType,
		CreatedAt:      r.CreatedAt,
		DownloadCount:  r.DownloadCount,
	}, nil
}

// OpenAll decrypts rows in order, collecting the ids that fail.
func OpenAll(codec FieldCodec, rows []Row) *Listing {
	out := &Listing{Artifacts: make([]model.Artifact, 0, len(rows))}
	for _, r := range rows {
		a, err := Open(codec, r)
		if err != nil {
			out.Unreadable = append(out.Unreadable, r.ID)
			continue
		}
		out.Artifacts = append(out.Artifacts, *a)
	}
	return out
}
