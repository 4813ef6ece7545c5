package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	s3c "github.com/yeisme/panvault/pkg/internal/storage/s3"
)

// BlobStore 合并后对象的存放位置，按 physical path 寻址.
type BlobStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, r io.Reader, size int64) error
}

// LocalStore 本地文件系统.
type LocalStore struct {
	root string
}

// NewLocalStore 创建本地对象存储，root 不存在时自动创建.
func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create blob root %s: %w", root, err)
	}

	return &LocalStore{root: root}, nil
}

func (s *LocalStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." {
		return "", fmt.Errorf("invalid blob key %q", key)
	}

	return filepath.Join(s.root, clean), nil
}

// Exists 对象是否存在.
func (s *LocalStore) Exists(_ context.Context, key string) (bool, error) {
	p, err := s.path(key)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	return err == nil, err
}

// Put 先写同目录临时文件再 rename，读者不会看到写了一半的对象.
func (s *LocalStore) Put(_ context.Context, key string, r io.Reader, size int64) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), filepath.Base(p)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp blob: %w", err)
	}

	n, err := io.Copy(tmp, r)
	if err == nil && size >= 0 && n != size {
		err = fmt.Errorf("short write: %d of %d bytes", n, size)
	}

	if err == nil {
		err = tmp.Sync()
	}

	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}

	if err == nil {
		err = os.Rename(tmp.Name(), p)
	}

	if err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("put blob %s: %w", key, err)
	}

	return nil
}

// S3Store minio 对象存储.
type S3Store struct {
	client *s3c.Client
}

// NewS3Store 基于已连接的 S3 客户端创建对象存储.
func NewS3Store(client *s3c.Client) *S3Store {
	return &S3Store{client: client}
}

// Exists 对象是否存在.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	return s.client.ObjectExists(ctx, key)
}

// Put 上传对象.
func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	return s.client.Put(ctx, key, r, size, "application/octet-stream")
}
