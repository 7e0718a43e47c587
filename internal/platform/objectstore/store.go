package objectstore

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotExist reports that the named object is absent.
	ErrNotExist = errors.New("object does not exist")
	// ErrExists reports that a conditional create lost to an existing object.
	ErrExists = errors.New("object already exists")
)

// Store abstracts the S3-compatible object store operations the pipeline
// needs. The production implementation is MinioStore.
type Store interface {
	Stat(ctx context.Context, bucket, key string) (ObjectInfo, error)
	Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error
	// PutIfAbsent atomically creates the object, failing with ErrExists if
	// any object is already at the key. This is the primitive the run lock
	// is built on.
	PutIfAbsent(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error
	Remove(ctx context.Context, bucket, key string) error
	Copy(ctx context.Context, dstBucket, dstKey, srcBucket, srcKey string) error
	// List returns the names of all top-level objects in the bucket.
	List(ctx context.Context, bucket string) ([]string, error)
}

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}
