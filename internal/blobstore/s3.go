package blobstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// objectClient is the subset of minio.Client used by S3Store. Tests
// substitute a fake implementation.
type objectClient interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

// S3Store persists blobs in an S3-compatible object store, one object per
// blob. Object keys double as blob ids. Multipart uploads in the backend
// make Put atomic: an aborted upload leaves no object behind.
type S3Store struct {
	client objectClient
	bucket string
}

// NewS3Store connects to the object store described by endpoint, of the
// form s3://ACCESS:SECRET@host[:port]/bucket (use scheme s3+insecure for
// plain HTTP, e.g. against a local MinIO). The bucket is created when
// missing.
func NewS3Store(ctx context.Context, endpoint string) (*S3Store, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: parse endpoint: %v", ErrStorage, err)
	}
	bucket := strings.Trim(u.Path, "/")
	if bucket == "" {
		return nil, fmt.Errorf("%w: endpoint %q names no bucket", ErrStorage, endpoint)
	}
	secret, _ := u.User.Password()

	client, err := minio.New(u.Host, &minio.Options{
		Creds:  credentials.NewStaticV4(u.User.Username(), secret, ""),
		Secure: u.Scheme != "s3+insecure",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", ErrStorage, err)
	}
	client.SetAppInfo("zoomtile", "0.1")

	s := &S3Store{client: client, bucket: bucket}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *S3Store) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("%w: check bucket: %v", ErrStorage, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("%w: create bucket: %v", ErrStorage, err)
	}
	return nil
}

func (s *S3Store) Put(ctx context.Context, r io.Reader, contentType string) (string, error) {
	id := uuid.NewString()
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.PutObject(ctx, s.bucket, id, r, -1, opts); err != nil {
		return "", fmt.Errorf("%w: put object: %v", ErrStorage, err)
	}
	return id, nil
}

func (s *S3Store) Get(ctx context.Context, id string) (io.ReadCloser, error) {
	// GetObject defers errors to the first read; stat first so unknown
	// ids surface as ErrNotFound here.
	if _, err := s.client.StatObject(ctx, s.bucket, id, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: stat object: %v", ErrStorage, err)
	}

	obj, err := s.client.GetObject(ctx, s.bucket, id, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: get object: %v", ErrStorage, err)
	}
	return obj, nil
}

func (s *S3Store) Delete(ctx context.Context, id string) error {
	err := s.client.RemoveObject(ctx, s.bucket, id, minio.RemoveObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return fmt.Errorf("%w: remove object: %v", ErrStorage, err)
	}
	return nil
}

func (s *S3Store) Close() error { return nil }
