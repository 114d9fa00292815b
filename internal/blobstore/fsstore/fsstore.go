// Package fsstore keeps artifacts as plain files under a root directory.
package fsstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dharsanguruparan/lockdrop/internal/blobstore"
	"github.com/dharsanguruparan/lockdrop/internal/errs"
)

// Store is a blobstore.Store backed by the local filesystem.
type Store struct {
	root string
}

var _ blobstore.Store = (*Store)(nil)

// New creates root if needed and returns a Store rooted there.
func New(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve upload dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute directory the store writes to.
func (s *Store) Root() string { return s.root }

// Put writes data to a temp file and renames it into place so readers never
// observe a partial object.
func (s *Store) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	locator := blobstore.NewLocator()
	dst, err := s.resolve(locator)
	if err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(s.root, ".put-*")
	if err != nil {
		return "", fmt.Errorf("create temp object: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("sync object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close object: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("commit object: %w", err)
	}
	return locator, nil
}

func (s *Store) Get(ctx context.Context, locator string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.resolve(locator)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("object %s: %w", locator, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

func (s *Store) Delete(ctx context.Context, locator string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.resolve(locator)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("object %s: %w", locator, errs.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

// List walks the root and returns slash-separated relative paths. In-flight
// temp files are skipped.
func (s *Store) List(ctx context.Context) ([]blobstore.Object, error) {
	var out []blobstore.Object
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if errors.Is(err, fs.ErrNotExist) {
			// Deleted while walking.
			return nil
		}
		if err != nil {
			return err
		}
		out = append(out, blobstore.Object{Locator: filepath.ToSlash(rel), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	return out, nil
}

// resolve maps a locator to an absolute path and rejects anything that would
// land outside the root.
func (s *Store) resolve(locator string) (string, error) {
	rel := strings.ReplaceAll(strings.TrimSpace(locator), "\\", "/")
	if rel == "" || strings.Contains(rel, "\x00") {
		return "", fmt.Errorf("invalid locator %q: %w", locator, errs.ErrNotFound)
	}
	rel = strings.TrimPrefix(path.Clean("/"+rel), "/")
	if rel == "" || rel == "." {
		return "", fmt.Errorf("invalid locator %q: %w", locator, errs.ErrNotFound)
	}
	abs := filepath.Clean(filepath.Join(s.root, filepath.FromSlash(rel)))
	if !strings.HasPrefix(abs, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("locator %q escapes store root: %w", locator, errs.ErrNotFound)
	}
	return abs, nil
}
