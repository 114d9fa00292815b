package custody

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/lockdrop/internal/catalog"
	"github.com/dharsanguruparan/lockdrop/internal/errs"
	"github.com/dharsanguruparan/lockdrop/internal/events"
)

// List returns the activity listing, newest first. Rows that cannot be
// decrypted are named in Unreadable and left out of Artifacts.
func (s *Service) List(ctx context.Context) (*catalog.Listing, error) {
	var l *catalog.Listing
	err := s.read(ctx, func(ctx context.Context) error {
		var lerr error
		l, lerr = s.catalog.List(ctx)
		return lerr
	})
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	if len(l.Unreadable) > 0 {
		s.log.Warn("listing omitted unreadable rows", zap.Strings("ids", l.Unreadable))
	}
	return l, nil
}

// Purge deletes an artifact's row and then its bytes. A missing object is
// not an error; the row is what makes an artifact exist.
func (s *Service) Purge(ctx context.Context, id string) error {
	a, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	if err := s.call(ctx, func(ctx context.Context) error { return s.catalog.Delete(ctx, id) }); err != nil {
		return fmt.Errorf("delete row %s: %w", id, err)
	}
	err = s.call(detached(ctx), func(ctx context.Context) error { return s.store.Delete(ctx, a.StorageLocator) })
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		s.log.Error("row purged but object kept", zap.String("id", id), zap.Error(err))
		return fmt.Errorf("delete object of %s: %w", id, err)
	}
	s.events.Emit(ctx, events.ArtifactPurged, zap.String("id", id))
	return nil
}
