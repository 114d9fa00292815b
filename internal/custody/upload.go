package custody

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/lockdrop/internal/errs"
	"github.com/dharsanguruparan/lockdrop/internal/events"
	"github.com/dharsanguruparan/lockdrop/internal/model"
)

// UploadRequest is one file plus the password that will protect it.
type UploadRequest struct {
	Filename string
	Data     []byte
	Password string
}

// Upload validates, seals, stores, hashes and catalogs a file. If anything
// fails after the bytes were stored they are deleted again, so the store
// never keeps an object without a row.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*model.Artifact, error) {
	checked, err := s.policy.Check(req.Filename, req.Data, req.Password)
	if err != nil {
		s.events.Emit(ctx, events.Rejected(events.UploadRejected, errs.Reason(err)),
			zap.String("file_name", req.Filename), zap.Int("size", len(req.Data)))
		return nil, err
	}

	payload := req.Data
	if s.opts.EncryptFiles {
		payload, err = s.vault.EncryptBytes(req.Data)
		if err != nil {
			s.events.Emit(ctx, events.Rejected(events.UploadRejected, "encryption"))
			return nil, fmt.Errorf("seal upload: %w", err)
		}
	}

	var locator string
	err = s.call(ctx, func(ctx context.Context) error {
		var perr error
		locator, perr = s.store.Put(ctx, payload)
		return perr
	})
	if err != nil {
		s.events.Emit(ctx, events.Rejected(events.UploadRejected, "store"), zap.Error(err))
		return nil, fmt.Errorf("store upload: %w", err)
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		s.discard(ctx, locator)
		s.events.Emit(ctx, events.Rejected(events.UploadRejected, "hashing"))
		return nil, fmt.Errorf("hash password: %w", err)
	}

	a := &model.Artifact{
		ID:             uuid.NewString(),
		DisplayName:    checked.Name,
		StorageLocator: locator,
		PasswordHash:   hash,
		IsEncrypted:    s.opts.EncryptFiles,
		Size:           int64(len(req.Data)),
		ContentType:    checked.ContentType,
		CreatedAt:      time.Now().UTC(),
	}
	err = s.call(ctx, func(ctx context.Context) error { return s.catalog.Create(ctx, a) })
	if err != nil {
		s.discard(ctx, locator)
		s.events.Emit(ctx, events.Rejected(events.UploadRejected, "catalog"), zap.Error(err))
		return nil, fmt.Errorf("catalog upload: %w", err)
	}

	s.events.Emit(ctx, events.UploadSucceeded,
		zap.String("id", a.ID), zap.String("file_name", a.DisplayName),
		zap.Int64("size", a.Size), zap.Bool("encrypted", a.IsEncrypted))
	return a, nil
}

// RejectUpload records an upload that failed before it reached Upload, such
// as an unreadable or oversized request body.
func (s *Service) RejectUpload(ctx context.Context, filename string, err error) {
	reason := errs.Reason(err)
	if reason == "" {
		reason = "malformed"
	}
	s.events.Emit(ctx, events.Rejected(events.UploadRejected, reason), zap.String("file_name", filename))
}

// discard is the compensating delete for a stored object whose upload did
// not complete. It runs even if the request context is already canceled.
func (s *Service) discard(ctx context.Context, locator string) {
	err := s.call(detached(ctx), func(ctx context.Context) error { return s.store.Delete(ctx, locator) })
	if err != nil {
		s.log.Error("compensating delete failed; object is now an orphan",
			zap.String("locator", locator), zap.Error(err))
	}
}
