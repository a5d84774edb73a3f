package objectstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore persists objects on disk to mimic S3 behaviour for tests and local runs.
type LocalStore struct {
	root string
}

// NewLocalStore creates a local object store rooted at dir.
func NewLocalStore(root string) *LocalStore {
	if root == "" {
		root = filepath.Join(os.TempDir(), "lakehouse-store")
	}
	_ = os.MkdirAll(root, 0o755)
	return &LocalStore{root: root}
}

func (s *LocalStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.MkdirAll(s.root, 0o755)
}

func (s *LocalStore) EnsureBucket(ctx context.Context, bucket string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if bucket == "" {
		return wrapError(CodeBucketNotFound, false, os.ErrNotExist)
	}
	return os.MkdirAll(s.bucketPath(bucket), 0o755)
}

func (s *LocalStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	info, err := os.Stat(s.bucketPath(bucket))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

// PutFile copies localPath into the bucket. Unlike S3 the bucket must already exist.
func (s *LocalStore) PutFile(ctx context.Context, bucket, key, localPath string) (*ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if key == "" {
		return nil, wrapError(CodeWriteFailed, false, fmt.Errorf("object key is required"))
	}
	exists, err := s.BucketExists(ctx, bucket)
	if err != nil {
		return nil, wrapError(CodeWriteFailed, true, err)
	}
	if !exists {
		return nil, wrapError(CodeBucketNotFound, false, fmt.Errorf("bucket %s not found", bucket))
	}

	src, err := os.Open(localPath)
	if err != nil {
		return nil, wrapError(CodeWriteFailed, false, err)
	}
	defer src.Close()

	fullPath := s.objectPath(bucket, key)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return nil, wrapError(CodePermissionDenied, false, err)
	}

	// Write to a sibling temp file and rename so readers never observe a partial object.
	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".upload-*")
	if err != nil {
		return nil, wrapError(CodeWriteFailed, true, err)
	}
	defer os.Remove(tmp.Name())

	hash := md5.New()
	size, err := io.Copy(io.MultiWriter(tmp, hash), src)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, wrapError(CodeWriteFailed, true, err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return nil, wrapError(CodeWriteFailed, true, err)
	}

	return &ObjectInfo{Key: key, Size: size, ETag: hex.EncodeToString(hash.Sum(nil))}, nil
}

func (s *LocalStore) StatObject(ctx context.Context, bucket, key string) (*ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(s.objectPath(bucket, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, wrapError(CodeObjectNotFound, false, err)
		}
		return nil, wrapError(CodeWriteFailed, true, err)
	}
	return &ObjectInfo{Key: key, Size: info.Size(), LastModified: info.ModTime()}, nil
}

func (s *LocalStore) bucketPath(bucket string) string {
	return filepath.Join(s.root, sanitizePath(bucket))
}

func (s *LocalStore) objectPath(bucket, key string) string {
	return filepath.Join(s.bucketPath(bucket), filepath.FromSlash(key))
}

func sanitizePath(raw string) string {
	replacer := strings.NewReplacer(":", "_", "/", "_", "\\", "_")
	return replacer.Replace(raw)
}
