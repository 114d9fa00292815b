// Package app builds the object graph shared by the server, the worker and
// the CLI from a loaded Config.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/lockdrop/internal/blobstore"
	"github.com/dharsanguruparan/lockdrop/internal/blobstore/fsstore"
	"github.com/dharsanguruparan/lockdrop/internal/blobstore/s3store"
	"github.com/dharsanguruparan/lockdrop/internal/catalog"
	"github.com/dharsanguruparan/lockdrop/internal/catalog/postgres"
	"github.com/dharsanguruparan/lockdrop/internal/config"
	"github.com/dharsanguruparan/lockdrop/internal/custody"
	"github.com/dharsanguruparan/lockdrop/internal/database"
	"github.com/dharsanguruparan/lockdrop/internal/events"
	"github.com/dharsanguruparan/lockdrop/internal/passhash"
	"github.com/dharsanguruparan/lockdrop/internal/token"
	"github.com/dharsanguruparan/lockdrop/internal/validate"
	"github.com/dharsanguruparan/lockdrop/internal/vault"
)

// App holds the long-lived dependencies.
type App struct {
	Cfg     *config.Config
	Log     *zap.Logger
	Service *custody.Service
	Tokens  *token.Service
	Hasher  *passhash.Hasher

	closers []func()
}

// Build connects to storage and the catalog and assembles the pipeline.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{Cfg: cfg, Log: log}

	key := cfg.MasterKey
	if key == nil {
		var err error
		if key, err = vault.GenerateKey(); err != nil {
			return nil, err
		}
		log.Warn("LOCKDROP_MASTER_KEY is not set; using a generated key for this process only. " +
			"Anything stored now cannot be read after a restart. Run `lockdrop keygen` and set the variable.")
	}
	v, err := vault.New(key)
	if err != nil {
		return nil, err
	}

	store, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	cat, err := a.openCatalog(ctx, v)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := os.MkdirAll(cfg.ScratchDir, 0o700); err != nil {
		a.Close()
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	a.Hasher = passhash.New(cfg.BcryptCost)
	a.Tokens = token.New(cfg.JWTSecret, token.TTLs{
		Access:   cfg.AccessTTL,
		Refresh:  cfg.RefreshTTL,
		Download: cfg.DownloadTTL,
	})
	a.Service = custody.New(custody.Deps{
		Store:   store,
		Catalog: cat,
		Vault:   v,
		Hasher:  a.Hasher,
		Tokens:  a.Tokens,
		Policy:  validate.NewPolicy(cfg.AllowedExtensions, cfg.MaxFileSize),
		Events:  events.NewZapSink(log),
		Log:     log,
	}, custody.Options{
		EncryptFiles:     cfg.EncryptFiles,
		OpTimeout:        cfg.OpTimeout,
		ScratchDir:       cfg.ScratchDir,
		RecoveryPassword: cfg.RecoveryPassword,
		OrphanGrace:      cfg.OrphanGrace,
	})
	return a, nil
}

func (a *App) openStore(ctx context.Context) (blobstore.Store, error) {
	switch a.Cfg.Storage {
	case "s3":
		s, err := s3store.New(s3store.Options{
			Endpoint:  a.Cfg.S3Endpoint,
			AccessKey: a.Cfg.S3AccessKey,
			SecretKey: a.Cfg.S3SecretKey,
			Bucket:    a.Cfg.S3Bucket,
			Region:    a.Cfg.S3Region,
			UseSSL:    a.Cfg.S3UseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		a.Log.Info("artifact store ready", zap.String("backend", "s3"), zap.String("bucket", a.Cfg.S3Bucket))
		return s, nil
	default:
		s, err := fsstore.New(a.Cfg.UploadDir)
		if err != nil {
			return nil, err
		}
		a.Log.Info("artifact store ready", zap.String("backend", "fs"), zap.String("root", s.Root()))
		return s, nil
	}
}

func (a *App) openCatalog(ctx context.Context, codec catalog.FieldCodec) (catalog.Catalog, error) {
	if a.Cfg.Catalog == "memory" {
		a.Log.Warn("using the in-memory catalog; rows are lost on restart")
		return catalog.NewMemory(codec), nil
	}
	if err := database.Migrate(ctx, a.Cfg.DatabaseURL); err != nil {
		return nil, err
	}
	pool, err := database.Connect(ctx, a.Cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pool.Close)
	return postgres.New(pool, codec), nil
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// RedisOpt maps the REDIS_* settings onto asynq's connection options.
func RedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}
