// Package staging 在本地文件系统中暂存上传分片.
//
// 目录布局：<root>/<userID>/<fileID>/<chunkIndex>. 每个会话独占自己的目录，
// 分片先写入同目录下的临时文件再 rename，重复上传同一分片会原子覆盖.
package staging

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidSegment 用户或文件标识不能安全地作为路径段.
var ErrInvalidSegment = errors.New("invalid staging path segment")

const tmpSuffix = ".part"

// Store 分片暂存区.
type Store struct {
	root string
}

// SessionDir 暂存区中的一个会话目录.
type SessionDir struct {
	UserID  string
	FileID  string
	ModTime time.Time
}

// New 创建暂存区，root 不存在时自动创建.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create staging root %s: %w", root, err)
	}

	return &Store{root: root}, nil
}

// Root 返回根目录.
func (s *Store) Root() string { return s.root }

func checkSegment(seg string) error {
	if seg == "" || seg == "." || seg == ".." || strings.ContainsAny(seg, `/\`) || strings.ContainsRune(seg, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidSegment, seg)
	}

	return nil
}

// Dir 返回会话目录路径.
func (s *Store) Dir(userID, fileID string) (string, error) {
	if err := checkSegment(userID); err != nil {
		return "", err
	}

	if err := checkSegment(fileID); err != nil {
		return "", err
	}

	return filepath.Join(s.root, userID, fileID), nil
}

// ChunkPath 返回分片文件路径.
func ChunkPath(dir string, index int) string {
	return filepath.Join(dir, strconv.Itoa(index))
}

// WriteChunk 写入一个分片并返回写入的字节数.
func (s *Store) WriteChunk(userID, fileID string, index int, r io.Reader) (int64, error) {
	if index < 0 {
		return 0, fmt.Errorf("negative chunk index %d", index)
	}

	dir, err := s.Dir(userID, fileID)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return 0, fmt.Errorf("create session dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, strconv.Itoa(index)+"-*"+tmpSuffix)
	if err != nil {
		return 0, fmt.Errorf("create temp chunk: %w", err)
	}

	n, err := io.Copy(tmp, r)
	if err == nil {
		err = tmp.Sync()
	}

	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(tmp.Name())
		return 0, fmt.Errorf("write chunk %d: %w", index, err)
	}

	if err := os.Rename(tmp.Name(), ChunkPath(dir, index)); err != nil {
		_ = os.Remove(tmp.Name())
		return 0, fmt.Errorf("commit chunk %d: %w", index, err)
	}

	return n, nil
}

// Chunks 列出会话已落盘的分片（index → size）. 目录不存在时返回空结果.
func (s *Store) Chunks(userID, fileID string) (map[int]int64, error) {
	dir, err := s.Dir(userID, fileID)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return map[int]int64{}, nil
	}

	if err != nil {
		return nil, err
	}

	out := make(map[int]int64, len(entries))

	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), tmpSuffix) {
			continue
		}

		idx, convErr := strconv.Atoi(e.Name())
		if convErr != nil || idx < 0 {
			continue
		}

		info, infoErr := e.Info()
		if infoErr != nil {
			return nil, infoErr
		}

		out[idx] = info.Size()
	}

	return out, nil
}

// Remove 删除会话目录，目录不存在不视为错误. 用户目录为空时一并删除.
func (s *Store) Remove(userID, fileID string) error {
	dir, err := s.Dir(userID, fileID)
	if err != nil {
		return err
	}

	if err := os.RemoveAll(dir); err != nil {
		return err
	}

	// 用户目录非空时 Remove 会失败，忽略
	_ = os.Remove(filepath.Dir(dir))

	return nil
}

// Sessions 列出暂存区中的所有会话目录及其最后修改时间.
func (s *Store) Sessions() ([]SessionDir, error) {
	users, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}

	var out []SessionDir

	for _, u := range users {
		if !u.IsDir() {
			continue
		}

		files, err := os.ReadDir(filepath.Join(s.root, u.Name()))
		if err != nil {
			return nil, err
		}

		for _, f := range files {
			if !f.IsDir() {
				continue
			}

			info, err := f.Info()
			if err != nil {
				continue
			}

			out = append(out, SessionDir{UserID: u.Name(), FileID: f.Name(), ModTime: info.ModTime()})
		}
	}

	return out, nil
}
