package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strings"

	"github.com/yeisme/panvault/pkg/internal/repository"
)

const (
	renameSuffixLen  = 5
	renameMaxAttempt = 16
	renameAlphabet   = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

func randomSuffix(n int) string {
	var b strings.Builder

	b.Grow(n)

	for range n {
		b.WriteByte(renameAlphabet[rand.IntN(len(renameAlphabet))])
	}

	return b.String()
}

// renamed 在扩展名前追加 _XXXXX，例如 a.txt -> a_k3P9z.txt.
func renamed(name string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	if base == "" {
		// ".bashrc" 这类名称整体视为 base
		base, ext = name, ""
	}

	return base + "_" + randomSuffix(renameSuffixLen) + ext
}

// uniqueName 在同一目录下存在同名的正常文件时重命名，直到不再冲突.
func uniqueName(ctx context.Context, files repository.FileRepository, userID, pid, name string) (string, error) {
	candidate := name

	for range renameMaxAttempt {
		taken, err := files.NameTaken(ctx, userID, pid, candidate)
		if err != nil {
			return "", fmt.Errorf("check file name: %w", err)
		}

		if !taken {
			return candidate, nil
		}

		candidate = renamed(name)
	}

	return "", fmt.Errorf("%w: %s", ErrDuplicateName, name)
}
