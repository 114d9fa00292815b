package custody

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/lockdrop/internal/blobstore"
	"github.com/dharsanguruparan/lockdrop/internal/catalog"
	"github.com/dharsanguruparan/lockdrop/internal/errs"
	"github.com/dharsanguruparan/lockdrop/internal/events"
	"github.com/dharsanguruparan/lockdrop/internal/model"
)

// Reconcile compares the store with the catalog. Objects without a row are
// orphans, rows without an object are dangling. Dangling rows are only
// reported. With recatalog set, orphans older than the grace period get a
// fresh row protected by the recovery password.
func (s *Service) Reconcile(ctx context.Context, recatalog bool) (*model.ReconcileReport, error) {
	if recatalog && s.opts.RecoveryPassword == "" {
		return nil, errs.Invalid("recovery_password", "re-cataloging requires a recovery password")
	}

	var objects []blobstore.Object
	err := s.read(ctx, func(ctx context.Context) error {
		var lerr error
		objects, lerr = s.store.List(ctx)
		return lerr
	})
	if err != nil {
		return nil, fmt.Errorf("list store: %w", err)
	}
	var listing *catalog.Listing
	err = s.read(ctx, func(ctx context.Context) error {
		var lerr error
		listing, lerr = s.catalog.List(ctx)
		return lerr
	})
	if err != nil {
		return nil, fmt.Errorf("list catalog: %w", err)
	}

	stored := make(map[string]time.Time, len(objects))
	for _, o := range objects {
		stored[o.Locator] = o.ModTime
	}
	referenced := make(map[string]bool, len(listing.Artifacts))

	report := &model.ReconcileReport{
		Orphans:    []string{},
		Dangling:   []string{},
		Unreadable: append([]string{}, listing.Unreadable...),
		ScannedAt:  s.now().UTC(),
	}
	for _, a := range listing.Artifacts {
		referenced[a.StorageLocator] = true
		if _, ok := stored[a.StorageLocator]; !ok {
			report.Dangling = append(report.Dangling, a.ID)
		}
	}
	for _, o := range objects {
		if !referenced[o.Locator] {
			report.Orphans = append(report.Orphans, o.Locator)
		}
	}
	sort.Strings(report.Orphans)
	sort.Strings(report.Dangling)
	sort.Strings(report.Unreadable)

	for _, l := range report.Orphans {
		s.events.Emit(ctx, events.ReconcileOrphan, zap.String("locator", l))
	}
	for _, id := range report.Dangling {
		s.events.Emit(ctx, events.ReconcileDangling, zap.String("id", id))
	}
	for _, id := range report.Unreadable {
		s.events.Emit(ctx, events.ReconcileUnread, zap.String("id", id))
	}

	if recatalog && len(report.Orphans) > 0 {
		// An unreadable row may own one of the "orphans"; adopting it would
		// give one object two rows.
		if len(report.Unreadable) > 0 {
			s.log.Warn("skipping re-catalog while unreadable rows exist",
				zap.Int("unreadable", len(report.Unreadable)))
			return report, nil
		}
		report.Recataloged = make(map[string]string)
		cutoff := s.now().Add(-s.opts.OrphanGrace)
		for _, l := range report.Orphans {
			if stored[l].After(cutoff) {
				report.Deferred = append(report.Deferred, l)
				continue
			}
			id, err := s.adopt(ctx, l)
			if err != nil {
				s.log.Error("re-catalog orphan", zap.String("locator", l), zap.Error(err))
				continue
			}
			report.Recataloged[l] = id
			s.events.Emit(ctx, events.ReconcileRecatalog, zap.String("locator", l), zap.String("id", id))
		}
	}

	s.log.Info("reconcile finished",
		zap.Int("objects", len(objects)),
		zap.Int("rows", len(listing.Artifacts)),
		zap.Int("orphans", len(report.Orphans)),
		zap.Int("dangling", len(report.Dangling)),
		zap.Int("unreadable", len(report.Unreadable)),
		zap.Int("deferred", len(report.Deferred)))
	return report, nil
}

// adopt creates a catalog row for an orphaned object. Whether the bytes are
// sealed is decided by trying to open them.
func (s *Service) adopt(ctx context.Context, locator string) (string, error) {
	var data []byte
	err := s.read(ctx, func(ctx context.Context) error {
		var gerr error
		data, gerr = s.store.Get(ctx, locator)
		return gerr
	})
	if err != nil {
		return "", err
	}
	plain, encrypted := data, false
	if opened, err := s.vault.DecryptBytes(data); err == nil {
		plain, encrypted = opened, true
	}
	hash, err := s.hasher.Hash(s.opts.RecoveryPassword)
	if err != nil {
		return "", err
	}
	a := &model.Artifact{
		ID:             uuid.NewString(),
		DisplayName:    "recovered-" + path.Base(locator),
		StorageLocator: locator,
		PasswordHash:   hash,
		IsEncrypted:    encrypted,
		Size:           int64(len(plain)),
		ContentType:    http.DetectContentType(plain),
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.call(ctx, func(ctx context.Context) error { return s.catalog.Create(ctx, a) }); err != nil {
		return "", err
	}
	return a.ID, nil
}
