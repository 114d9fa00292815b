// Package blobstore defines the artifact store contract. Implementations live
// in the fsstore and s3store subpackages.
package blobstore

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists opaque bytes under a locator it chooses. Get and Delete
// return errs.ErrNotFound for unknown locators.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, locator string) ([]byte, error)
	Delete(ctx context.Context, locator string) error
	// List returns every object currently held, in no particular order.
	List(ctx context.Context) ([]Object, error)
}

// Object is one entry of a store listing.
type Object struct {
	Locator string
	// ModTime is when the object was last written.
	ModTime time.Time
}

// Locators returns just the locators of objs.
func Locators(objs []Object) []string {
	out := make([]string, len(objs))
	for i, o := range objs {
		out[i] = o.Locator
	}
	return out
}

// NewLocator returns a random object name. Locators never contain the
// uploaded file name.
func NewLocator() string {
	return uuid.NewString() + ".bin"
}
