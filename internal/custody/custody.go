// Package custody is the file custody pipeline: it validates and seals
// uploads, checks passwords, hands out download tokens, serves the bytes
// back and reconciles the store against the catalog.
package custody

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/lockdrop/internal/blobstore"
	"github.com/dharsanguruparan/lockdrop/internal/catalog"
	"github.com/dharsanguruparan/lockdrop/internal/errs"
	"github.com/dharsanguruparan/lockdrop/internal/events"
	"github.com/dharsanguruparan/lockdrop/internal/token"
	"github.com/dharsanguruparan/lockdrop/internal/validate"
)

// DefaultOrphanGrace applies when Options.OrphanGrace is unset.
const DefaultOrphanGrace = 15 * time.Minute

// Sealer encrypts and decrypts whole files. *vault.Vault implements it.
type Sealer interface {
	EncryptBytes(plain []byte) ([]byte, error)
	DecryptBytes(sealed []byte) ([]byte, error)
}

// Hasher hashes and verifies passwords. *passhash.Hasher implements it.
type Hasher interface {
	Hash(secret string) (string, error)
	Verify(hash, candidate string) bool
}

// Deps are the collaborators a Service is built from.
type Deps struct {
	Store   blobstore.Store
	Catalog catalog.Catalog
	Vault   Sealer
	Hasher  Hasher
	Tokens  *token.Service
	Policy  *validate.Policy
	Events  events.Sink
	Log     *zap.Logger
}

// Options tune the pipeline.
type Options struct {
	// EncryptFiles seals file bytes before they reach the store.
	EncryptFiles bool
	// OpTimeout bounds every single store or catalog call.
	OpTimeout time.Duration
	// RetryBackoff is the pause before the one retry of a timed out read.
	RetryBackoff time.Duration
	// ScratchDir holds decrypted files while they are being delivered.
	ScratchDir string
	// RecoveryPassword protects orphans re-cataloged by Reconcile.
	RecoveryPassword string
	// OrphanGrace is the minimum age of an object before Reconcile may adopt
	// it. Younger objects may belong to an upload that has not written its
	// row yet.
	OrphanGrace time.Duration
}

// Service wires the pipeline together. It holds no per-request state and is
// safe for concurrent use.
type Service struct {
	store   blobstore.Store
	catalog catalog.Catalog
	vault   Sealer
	hasher  Hasher
	tokens  *token.Service
	policy  *validate.Policy
	events  events.Sink
	log     *zap.Logger
	opts    Options
	now     func() time.Time
}

// New builds a Service. A nil Events sink or Log discards output.
func New(d Deps, opts Options) *Service {
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 10 * time.Second
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 100 * time.Millisecond
	}
	if opts.OrphanGrace <= 0 {
		opts.OrphanGrace = DefaultOrphanGrace
	}
	return &Service{
		store:   d.Store,
		catalog: d.Catalog,
		vault:   d.Vault,
		hasher:  d.Hasher,
		tokens:  d.Tokens,
		policy:  d.Policy,
		events:  d.Events,
		log:     d.Log.Named("custody"),
		opts:    opts,
		now:     time.Now,
	}
}

// call runs fn under the per-operation timeout and maps a deadline to
// errs.ErrTimeout.
func (s *Service) call(ctx context.Context, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, s.opts.OpTimeout)
	defer cancel()
	return errs.FromContext(fn(cctx))
}

// read is call for idempotent lookups: a timeout is retried once.
func (s *Service) read(ctx context.Context, fn func(context.Context) error) error {
	b := retry.WithMaxRetries(1, retry.NewConstant(s.opts.RetryBackoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		err := s.call(ctx, fn)
		if errors.Is(err, errs.ErrTimeout) {
			return retry.RetryableError(err)
		}
		return err
	})
	return errs.FromContext(err)
}

// detached returns a context that survives cancellation of ctx, for cleanup
// that must run after the caller has gone away.
func detached(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
