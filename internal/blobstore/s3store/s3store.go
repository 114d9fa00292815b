// Package s3store keeps artifacts in a single MinIO/S3 bucket.
package s3store

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/lockdrop/internal/blobstore"
	"github.com/dharsanguruparan/lockdrop/internal/errs"
)

// Options mirror the S3_* configuration keys.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Store wraps a MinIO client bound to one bucket.
type Store struct {
	client *minio.Client
	bucket string
	region string
}

var _ blobstore.Store = (*Store)(nil)

// New creates a MinIO client. Call EnsureBucket before first use.
func New(opts Options) (*Store, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Store{client: client, bucket: opts.Bucket, region: opts.Region}, nil
}

// EnsureBucket creates the artifact bucket when it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("make bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *Store) Put(ctx context.Context, data []byte) (string, error) {
	locator := blobstore.NewLocator()
	opts := minio.PutObjectOptions{ContentType: "application/octet-stream"}
	if _, err := s.client.PutObject(ctx, s.bucket, locator, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return locator, nil
}

// Get reads the whole object. minio defers the request until the first read,
// so a missing key surfaces from Stat/ReadAll rather than GetObject.
func (s *Store) Get(ctx context.Context, locator string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, locator, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapErr("get object", locator, err)
	}
	defer obj.Close()
	buf, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.mapErr("read object", locator, err)
	}
	return buf, nil
}

// Delete removes the object. S3 deletes are idempotent, so existence is
// checked first to honour the ErrNotFound contract.
func (s *Store) Delete(ctx context.Context, locator string) error {
	if _, err := s.client.StatObject(ctx, s.bucket, locator, minio.StatObjectOptions{}); err != nil {
		return s.mapErr("stat object", locator, err)
	}
	if err := s.client.RemoveObject(ctx, s.bucket, locator, minio.RemoveObjectOptions{}); err != nil {
		return s.mapErr("remove object", locator, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]blobstore.Object, error) {
	var out []blobstore.Object
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects: %w", obj.Err)
		}
		out = append(out, blobstore.Object{Locator: obj.Key, ModTime: obj.LastModified})
	}
	return out, nil
}

func (s *Store) mapErr(op, locator string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("object %s: %w", locator, errs.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == 404
}
