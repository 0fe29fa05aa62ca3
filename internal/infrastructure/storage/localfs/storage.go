package localfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kirillkom/cvclient/internal/core/domain"
)

const maxUniqueAttempts = 1000

// Storage writes downloaded originals into one directory. Existing files are never overwritten.
type Storage struct {
	basePath string
}

func New(basePath string) (*Storage, error) {
	if basePath == "" {
		basePath = "."
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}
	return &Storage{basePath: basePath}, nil
}

func (s *Storage) Dir() string {
	return s.basePath
}

// Save stores data under a sanitized form of name and returns the final path and size.
func (s *Storage) Save(ctx context.Context, name string, data io.Reader) (string, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	clean := SanitizeName(name)
	if clean == "" {
		return "", 0, domain.WrapError(domain.ErrInvalidInput, "save file", fmt.Errorf("empty file name"))
	}

	f, path, err := s.createUnique(clean)
	if err != nil {
		return "", 0, fmt.Errorf("create file: %w", err)
	}

	n, err := io.Copy(f, data)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("write file: %w", err)
	}
	return path, n, nil
}

func (s *Storage) createUnique(name string) (*os.File, string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < maxUniqueAttempts; i++ {
		candidate := name
		if i > 0 {
			candidate = stem + " (" + strconv.Itoa(i) + ")" + ext
		}
		path := filepath.Join(s.basePath, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !os.IsExist(err) {
			return nil, "", err
		}
	}
	return nil, "", fmt.Errorf("no free name for %q", name)
}

// SanitizeName drops directory components and characters that are unsafe in file names.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(filepath.Clean("/" + name))
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == 0x7f:
			return -1
		case strings.ContainsRune(`<>:"|?*`, r):
			return '_'
		default:
			return r
		}
	}, name)
	name = strings.TrimSpace(name)
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}
