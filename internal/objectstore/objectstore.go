// Package objectstore provides the S3-compatible storage used for raw dataset artifacts.
package objectstore

import (
	"context"
	"time"
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// ObjectStore abstracts the bucket/object operations the ingestion flow needs.
//
// PutFile overwrites any existing object at key.
type ObjectStore interface {
	Ping(ctx context.Context) error
	EnsureBucket(ctx context.Context, bucket string) error
	BucketExists(ctx context.Context, bucket string) (bool, error)
	PutFile(ctx context.Context, bucket, key, localPath string) (*ObjectInfo, error)
	StatObject(ctx context.Context, bucket, key string) (*ObjectInfo, error)
}
