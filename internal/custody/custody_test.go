package custody

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dharsanguruparan/lockdrop/internal/blobstore/fsstore"
	"github.com/dharsanguruparan/lockdrop/internal/catalog"
	"github.com/dharsanguruparan/lockdrop/internal/errs"
	"github.com/dharsanguruparan/lockdrop/internal/events"
	"github.com/dharsanguruparan/lockdrop/internal/model"
	"github.com/dharsanguruparan/lockdrop/internal/passhash"
	"github.com/dharsanguruparan/lockdrop/internal/token"
	"github.com/dharsanguruparan/lockdrop/internal/validate"
	"github.com/dharsanguruparan/lockdrop/internal/vault"
)

type fixture struct {
	svc     *Service
	store   *fsstore.Store
	cat     *catalog.Memory
	vault   *vault.Vault
	tokens  *token.Service
	rec     *events.Recorder
	scratch string
}

func newFixture(t *testing.T, tune ...func(*Deps, *Options)) *fixture {
	t.Helper()

	key, err := vault.GenerateKey()
	require.NoError(t, err)
	v, err := vault.New(key)
	require.NoError(t, err)
	store, err := fsstore.New(t.TempDir())
	require.NoError(t, err)

	f := &fixture{
		store:   store,
		cat:     catalog.NewMemory(v),
		vault:   v,
		tokens:  token.New([]byte("test-secret"), token.TTLs{}),
		rec:     &events.Recorder{},
		scratch: t.TempDir(),
	}
	deps := Deps{
		Store:   f.store,
		Catalog: f.cat,
		Vault:   v,
		Hasher:  passhash.New(bcrypt.MinCost),
		Tokens:  f.tokens,
		Policy:  validate.NewPolicy([]string{"txt", "pdf", "png", "zip"}, 10<<20),
		Events:  f.rec,
	}
	opts := Options{
		EncryptFiles:     true,
		OpTimeout:        time.Second,
		RetryBackoff:     time.Millisecond,
		ScratchDir:       f.scratch,
		RecoveryPassword: "recover-me",
	}
	for _, fn := range tune {
		fn(&deps, &opts)
	}
	f.svc = New(deps, opts)
	return f
}

func (f *fixture) upload(t *testing.T, name, body, password string) *model.Artifact {
	t.Helper()
	a, err := f.svc.Upload(context.Background(), UploadRequest{Filename: name, Data: []byte(body), Password: password})
	require.NoError(t, err)
	return a
}

func (f *fixture) count(t *testing.T, id string) int64 {
	t.Helper()
	a, err := f.cat.Get(context.Background(), id)
	require.NoError(t, err)
	return a.DownloadCount
}

func (f *fixture) requireScratchEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.scratch)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func readAll(dst *[]byte) func(Download) error {
	return func(d Download) error {
		b, err := io.ReadAll(d.Content)
		*dst = b
		return err
	}
}

func TestHelloScenario(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	a := f.upload(t, "hello.txt", "hello world", "s3cret")
	require.Equal(t, "hello.txt", a.DisplayName)
	require.True(t, a.IsEncrypted)
	require.Equal(t, int64(11), a.Size)

	// Bytes at rest are sealed.
	raw, err := f.store.Get(ctx, a.StorageLocator)
	require.NoError(t, err)
	require.False(t, bytes.Contains(raw, []byte("hello world")))

	_, err = f.svc.Authorize(ctx, a.ID, "S3cret")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	require.Equal(t, int64(0), f.count(t, a.ID))

	grant, err := f.svc.Authorize(ctx, a.ID, "s3cret")
	require.NoError(t, err)
	require.Equal(t, "hello.txt", grant.FileName)
	require.Equal(t, int64(0), f.count(t, a.ID))

	var got []byte
	require.NoError(t, f.svc.Fetch(ctx, a.ID, grant.Token, readAll(&got)))
	require.Equal(t, "hello world", string(got))
	require.Equal(t, int64(1), f.count(t, a.ID))
	f.requireScratchEmpty(t)

	require.Equal(t, []string{
		events.UploadSucceeded,
		"download.rejected:password",
		events.DownloadAuthorized,
		events.DownloadCompleted,
	}, f.rec.Names())
}

func TestAuthorize_PasswordNearMisses(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	a := f.upload(t, "a.txt", "x", "Passw0rd")

	for _, pw := range []string{"passw0rd", "PASSW0RD", "Passw0rd ", " Passw0rd", "Passw0r"} {
		_, err := f.svc.Authorize(ctx, a.ID, pw)
		require.ErrorIs(t, err, errs.ErrUnauthorized, pw)
	}
	_, err := f.svc.Authorize(ctx, a.ID, "")
	require.ErrorIs(t, err, errs.ErrValidation)

	_, err = f.svc.Authorize(ctx, "no-such-id", "Passw0rd")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestUpload_RejectsExecutableWithoutSideEffects(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.Upload(ctx, UploadRequest{Filename: "virus.exe", Data: []byte("MZ"), Password: "pw"})
	require.ErrorIs(t, err, errs.ErrValidation)
	require.Equal(t, validate.ReasonExtension, errs.Reason(err))

	objs, err := f.store.List(ctx)
	require.NoError(t, err)
	require.Empty(t, objs)
	l, err := f.cat.List(ctx)
	require.NoError(t, err)
	require.Empty(t, l.Artifacts)
	require.Equal(t, []string{"upload.rejected:extension"}, f.rec.Names())
}

func TestUpload_RejectsOversize(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	big := bytes.Repeat([]byte("a"), 11<<20)
	_, err := f.svc.Upload(ctx, UploadRequest{Filename: "big.txt", Data: big, Password: "pw"})
	require.ErrorIs(t, err, errs.ErrValidation)
	require.Equal(t, validate.ReasonSize, errs.Reason(err))

	objs, err := f.store.List(ctx)
	require.NoError(t, err)
	require.Empty(t, objs)
}

type failingCreate struct{ catalog.Catalog }

func (failingCreate) Create(context.Context, *model.Artifact) error { return errors.New("db down") }

func TestUpload_CompensatesWhenCatalogFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, func(d *Deps, _ *Options) { d.Catalog = failingCreate{d.Catalog} })
	_, err := f.svc.Upload(ctx, UploadRequest{Filename: "a.txt", Data: []byte("hi"), Password: "pw"})
	require.Error(t, err)

	objs, err := f.store.List(ctx)
	require.NoError(t, err)
	require.Empty(t, objs)
	require.Equal(t, []string{"upload.rejected:catalog"}, f.rec.Names())
}

func TestFetch_DeliveryFailureDoesNotCount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	a := f.upload(t, "a.txt", "payload", "pw")
	grant, err := f.svc.Authorize(ctx, a.ID, "pw")
	require.NoError(t, err)

	broken := errors.New("client went away")
	err = f.svc.Fetch(ctx, a.ID, grant.Token, func(d Download) error {
		// The scratch file exists only while delivering.
		entries, rerr := os.ReadDir(f.scratch)
		require.NoError(t, rerr)
		require.Len(t, entries, 1)
		return broken
	})
	require.ErrorIs(t, err, broken)
	require.Equal(t, int64(0), f.count(t, a.ID))
	f.requireScratchEmpty(t)
}

func TestFetch_RejectsForeignOrMissingToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	a := f.upload(t, "a.txt", "one", "pw")
	b := f.upload(t, "b.txt", "two", "pw")
	grantA, err := f.svc.Authorize(ctx, a.ID, "pw")
	require.NoError(t, err)

	called := false
	deliver := func(Download) error { called = true; return nil }
	require.ErrorIs(t, f.svc.Fetch(ctx, b.ID, grantA.Token, deliver), errs.ErrUnauthorized)
	require.ErrorIs(t, f.svc.Fetch(ctx, a.ID, "", deliver), errs.ErrUnauthorized)
	require.False(t, called)
	require.Equal(t, int64(0), f.count(t, b.ID))
}

func TestFetch_ConcurrentDownloadsAllCount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	a := f.upload(t, "a.txt", "shared", "pw")
	grant, err := f.svc.Authorize(ctx, a.ID, "pw")
	require.NoError(t, err)

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var got []byte
			assert.NoError(t, f.svc.Fetch(ctx, a.ID, grant.Token, readAll(&got)))
			assert.Equal(t, "shared", string(got))
		}()
	}
	wg.Wait()
	require.Equal(t, int64(n), f.count(t, a.ID))
	f.requireScratchEmpty(t)
}

func TestFetch_LegacyPlainBytes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, func(_ *Deps, o *Options) { o.EncryptFiles = false })
	a := f.upload(t, "a.txt", "plain bytes", "pw")
	require.False(t, a.IsEncrypted)

	raw, err := f.store.Get(ctx, a.StorageLocator)
	require.NoError(t, err)
	require.Equal(t, "plain bytes", string(raw))

	grant, err := f.svc.Authorize(ctx, a.ID, "pw")
	require.NoError(t, err)
	var got []byte
	require.NoError(t, f.svc.Fetch(ctx, a.ID, grant.Token, readAll(&got)))
	require.Equal(t, "plain bytes", string(got))
}

func TestFetch_DanglingRowIsNotServed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	a := f.upload(t, "a.txt", "gone soon", "pw")
	grant, err := f.svc.Authorize(ctx, a.ID, "pw")
	require.NoError(t, err)
	require.NoError(t, f.store.Delete(ctx, a.StorageLocator))

	err = f.svc.Fetch(ctx, a.ID, grant.Token, func(Download) error { return nil })
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.Equal(t, int64(0), f.count(t, a.ID))
	require.Contains(t, f.rec.Names(), "download.failed:dangling")
}

func TestReconcile_OrphanAndDangling(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	kept := f.upload(t, "kept.txt", "kept", "pw")
	lost := f.upload(t, "lost.txt", "lost", "pw")
	require.NoError(t, f.store.Delete(ctx, lost.StorageLocator))

	sealed, err := f.vault.EncryptBytes([]byte("stray bytes"))
	require.NoError(t, err)
	orphan, err := f.store.Put(ctx, sealed)
	require.NoError(t, err)

	report, err := f.svc.Reconcile(ctx, false)
	require.NoError(t, err)
	require.Equal(t, []string{orphan}, report.Orphans)
	require.Equal(t, []string{lost.ID}, report.Dangling)
	require.Empty(t, report.Recataloged)

	// Dangling rows are reported, never deleted.
	_, err = f.cat.Get(ctx, lost.ID)
	require.NoError(t, err)
	_, err = f.cat.Get(ctx, kept.ID)
	require.NoError(t, err)
	require.Contains(t, f.rec.Names(), events.ReconcileOrphan)
	require.Contains(t, f.rec.Names(), events.ReconcileDangling)
}

func TestReconcile_RecatalogsOrphans(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	sealed, err := f.vault.EncryptBytes([]byte("stray bytes"))
	require.NoError(t, err)
	orphan, err := f.store.Put(ctx, sealed)
	require.NoError(t, err)
	f.svc.now = func() time.Time { return time.Now().Add(time.Hour) }

	report, err := f.svc.Reconcile(ctx, true)
	require.NoError(t, err)
	require.Empty(t, report.Deferred)
	id, ok := report.Recataloged[orphan]
	require.True(t, ok)

	a, err := f.cat.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, a.IsEncrypted)
	require.Equal(t, int64(len("stray bytes")), a.Size)

	grant, err := f.svc.Authorize(ctx, id, "recover-me")
	require.NoError(t, err)
	var got []byte
	require.NoError(t, f.svc.Fetch(ctx, id, grant.Token, readAll(&got)))
	require.Equal(t, "stray bytes", string(got))

	again, err := f.svc.Reconcile(ctx, true)
	require.NoError(t, err)
	require.Empty(t, again.Orphans)
}

func TestReconcile_DefersRecentOrphans(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	// Bytes stored by an upload whose row is not written yet.
	sealed, err := f.vault.EncryptBytes([]byte("in flight"))
	require.NoError(t, err)
	inFlight, err := f.store.Put(ctx, sealed)
	require.NoError(t, err)

	report, err := f.svc.Reconcile(ctx, true)
	require.NoError(t, err)
	require.Equal(t, []string{inFlight}, report.Orphans)
	require.Equal(t, []string{inFlight}, report.Deferred)
	require.Empty(t, report.Recataloged)

	l, err := f.cat.List(ctx)
	require.NoError(t, err)
	require.Empty(t, l.Artifacts)
	require.NotContains(t, f.rec.Names(), events.ReconcileRecatalog)

	// Once past the grace period the same object is adopted.
	f.svc.now = func() time.Time { return time.Now().Add(DefaultOrphanGrace + time.Minute) }
	report, err = f.svc.Reconcile(ctx, true)
	require.NoError(t, err)
	require.Empty(t, report.Deferred)
	require.Contains(t, report.Recataloged, inFlight)
}

func TestReconcile_RecatalogNeedsRecoveryPassword(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(_ *Deps, o *Options) { o.RecoveryPassword = "" })
	_, err := f.svc.Reconcile(context.Background(), true)
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestReconcile_SkipsRecatalogWithUnreadableRows(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	other, err := vault.GenerateKey()
	require.NoError(t, err)
	ov, err := vault.New(other)
	require.NoError(t, err)
	row, err := catalog.Seal(ov, &model.Artifact{ID: "foreign", DisplayName: "x", StorageLocator: "y"})
	require.NoError(t, err)
	f.cat.PutRow(row)
	_, err = f.store.Put(ctx, []byte("stray"))
	require.NoError(t, err)

	report, err := f.svc.Reconcile(ctx, true)
	require.NoError(t, err)
	require.Equal(t, []string{"foreign"}, report.Unreadable)
	require.Len(t, report.Orphans, 1)
	require.Empty(t, report.Recataloged)
}

type slowGet struct {
	catalog.Catalog
	calls atomic.Int32
}

func (s *slowGet) Get(ctx context.Context, _ string) (*model.Artifact, error) {
	s.calls.Add(1)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestTimeoutIsDistinctFromNotFound(t *testing.T) {
	t.Parallel()

	slow := &slowGet{}
	f := newFixture(t, func(d *Deps, o *Options) {
		slow.Catalog = d.Catalog
		d.Catalog = slow
		o.OpTimeout = 20 * time.Millisecond
	})
	_, err := f.svc.Authorize(context.Background(), "any", "pw")
	require.ErrorIs(t, err, errs.ErrTimeout)
	require.NotErrorIs(t, err, errs.ErrNotFound)
	// Reads are retried once.
	require.Equal(t, int32(2), slow.calls.Load())
}

func TestListAndPurge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	a := f.upload(t, "a.txt", "one", "pw")
	b := f.upload(t, "b.txt", "two", "pw")

	l, err := f.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, l.Artifacts, 2)

	require.NoError(t, f.svc.Purge(ctx, a.ID))
	_, err = f.cat.Get(ctx, a.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)
	_, err = f.store.Get(ctx, a.StorageLocator)
	require.ErrorIs(t, err, errs.ErrNotFound)

	// Purging a row whose object is already gone still succeeds.
	require.NoError(t, f.store.Delete(ctx, b.StorageLocator))
	require.NoError(t, f.svc.Purge(ctx, b.ID))
	require.ErrorIs(t, f.svc.Purge(ctx, b.ID), errs.ErrNotFound)
}
