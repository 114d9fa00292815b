package custody

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/lockdrop/internal/errs"
	"github.com/dharsanguruparan/lockdrop/internal/events"
	"github.com/dharsanguruparan/lockdrop/internal/model"
)

// Authorize checks password against the artifact's hash and, on success,
// issues a download token scoped to id. It never changes the download count.
func (s *Service) Authorize(ctx context.Context, id, password string) (*model.Grant, error) {
	if password == "" {
		s.events.Emit(ctx, events.Rejected(events.DownloadRejected, "missing_password"), zap.String("id", id))
		return nil, errs.Invalid("missing_password", "password is required")
	}
	a, err := s.lookup(ctx, id)
	if err != nil {
		s.events.Emit(ctx, events.Rejected(events.DownloadRejected, rejectReason(err)), zap.String("id", id))
		return nil, err
	}
	if !s.hasher.Verify(a.PasswordHash, password) {
		s.events.Emit(ctx, events.Rejected(events.DownloadRejected, "password"), zap.String("id", id))
		return nil, fmt.Errorf("artifact %s: %w", id, errs.ErrUnauthorized)
	}
	tok, exp, err := s.tokens.IssueDownload(a.ID)
	if err != nil {
		return nil, err
	}
	s.events.Emit(ctx, events.DownloadAuthorized, zap.String("id", id), zap.Time("expires_at", exp))
	return &model.Grant{ArtifactID: a.ID, Token: tok, FileName: a.DisplayName, ExpiresAt: exp}, nil
}

// Download is handed to the delivery callback. Content is only valid until
// the callback returns.
type Download struct {
	Artifact model.Artifact
	Content  io.ReadSeeker
}

// Fetch verifies the download token, loads and decrypts the bytes and passes
// them to deliver. Decrypted bytes go through a scratch file that is removed
// on every exit path. The download count is incremented only when deliver
// returns nil.
func (s *Service) Fetch(ctx context.Context, id, rawToken string, deliver func(Download) error) error {
	if _, err := s.tokens.VerifyDownload(rawToken, id); err != nil {
		s.events.Emit(ctx, events.Rejected(events.DownloadFailed, "token"), zap.String("id", id))
		return err
	}
	a, err := s.lookup(ctx, id)
	if err != nil {
		s.events.Emit(ctx, events.Rejected(events.DownloadFailed, rejectReason(err)), zap.String("id", id))
		return err
	}

	var data []byte
	err = s.read(ctx, func(ctx context.Context) error {
		var gerr error
		data, gerr = s.store.Get(ctx, a.StorageLocator)
		return gerr
	})
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			s.log.Warn("catalog row points at a missing object", zap.String("id", id))
			s.events.Emit(ctx, events.Rejected(events.DownloadFailed, "dangling"), zap.String("id", id))
			return fmt.Errorf("artifact %s bytes: %w", id, errs.ErrNotFound)
		}
		s.events.Emit(ctx, events.Rejected(events.DownloadFailed, rejectReason(err)), zap.String("id", id))
		return fmt.Errorf("load artifact %s: %w", id, err)
	}

	var content io.ReadSeeker = bytes.NewReader(data)
	if a.IsEncrypted {
		plain, err := s.vault.DecryptBytes(data)
		if err != nil {
			s.events.Emit(ctx, events.Rejected(events.DownloadFailed, "decryption"), zap.String("id", id))
			return fmt.Errorf("open artifact %s: %w", id, err)
		}
		scratch, cleanup, err := s.scratch(plain)
		if err != nil {
			s.events.Emit(ctx, events.Rejected(events.DownloadFailed, "scratch"), zap.String("id", id))
			return err
		}
		defer cleanup()
		content = scratch
	}

	if err := deliver(Download{Artifact: *a, Content: content}); err != nil {
		s.events.Emit(ctx, events.Rejected(events.DownloadFailed, "delivery"), zap.String("id", id), zap.Error(err))
		return fmt.Errorf("deliver artifact %s: %w", id, err)
	}

	var count int64
	err = s.call(detached(ctx), func(ctx context.Context) error {
		var ierr error
		count, ierr = s.catalog.IncrementDownloadCount(ctx, id)
		return ierr
	})
	if err != nil {
		s.log.Error("download delivered but count not updated", zap.String("id", id), zap.Error(err))
		return fmt.Errorf("count download %s: %w", id, err)
	}
	s.events.Emit(ctx, events.DownloadCompleted, zap.String("id", id), zap.Int64("download_count", count))
	return nil
}

// scratch writes plain to a private temp file and rewinds it. cleanup closes
// and removes the file.
func (s *Service) scratch(plain []byte) (*os.File, func(), error) {
	f, err := os.CreateTemp(s.opts.ScratchDir, "lockdrop-*.part")
	if err != nil {
		return nil, nil, fmt.Errorf("create scratch file: %w", err)
	}
	cleanup := func() {
		f.Close()
		if err := os.Remove(f.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Error("remove scratch file", zap.String("path", f.Name()), zap.Error(err))
		}
	}
	if _, err := f.Write(plain); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("write scratch file: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("rewind scratch file: %w", err)
	}
	return f, cleanup, nil
}

func (s *Service) lookup(ctx context.Context, id string) (*model.Artifact, error) {
	var a *model.Artifact
	err := s.read(ctx, func(ctx context.Context) error {
		var gerr error
		a, gerr = s.catalog.Get(ctx, id)
		return gerr
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return "not_found"
	case errors.Is(err, errs.ErrTimeout):
		return "timeout"
	case errors.Is(err, errs.ErrDecryption):
		return "unreadable"
	case errors.Is(err, errs.ErrUnauthorized):
		return "token"
	default:
		return "internal"
	}
}
