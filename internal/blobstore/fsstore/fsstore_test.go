package fsstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/lockdrop/internal/blobstore"
	"github.com/dharsanguruparan/lockdrop/internal/errs"
)

func TestPutGetDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)

	loc, err := s.Put(ctx, []byte("hello"))
	require.NoError(t, err)
	require.NotEmpty(t, loc)

	got, err := s.Get(ctx, loc)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{loc}, blobstore.Locators(list))
	require.WithinDuration(t, time.Now(), list[0].ModTime, time.Minute)

	require.NoError(t, s.Delete(ctx, loc))
	_, err = s.Get(ctx, loc)
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.ErrorIs(t, s.Delete(ctx, loc), errs.ErrNotFound)
}

func TestLocatorsAreUnique(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)

	a, err := s.Put(ctx, []byte("same"))
	require.NoError(t, err)
	b, err := s.Put(ctx, []byte("same"))
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestRejectsEscapes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	parent := t.TempDir()
	root := filepath.Join(parent, "store")
	s, err := New(root)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secret.txt"), []byte("x"), 0o600))

	for _, loc := range []string{"", "..", "../secret.txt", "a/../../secret.txt"} {
		_, err := s.Get(ctx, loc)
		require.Error(t, err, loc)
	}
	// Absolute-looking locators are confined to the root.
	_, err = s.Get(ctx, "/etc/passwd")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestList_SkipsTempFiles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), ".put-123"), []byte("partial"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), "legacy"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "legacy", "old.txt"), []byte("old"), 0o600))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"legacy/old.txt"}, blobstore.Locators(list))

	got, err := s.Get(ctx, "legacy/old.txt")
	require.NoError(t, err)
	require.Equal(t, []byte("old"), got)
}

func TestCanceledContext(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Put(ctx, []byte("x"))
	require.ErrorIs(t, err, context.Canceled)
}
