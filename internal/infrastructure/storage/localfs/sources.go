package localfs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kirillkom/cvclient/internal/core/domain"
)

// FileFromPath describes a local file for the upload queue. The file is opened lazily.
func FileFromPath(path string) (domain.UploadFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return domain.UploadFile{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return domain.UploadFile{}, domain.WrapError(domain.ErrInvalidInput, "queue file", fmt.Errorf("%s is a directory", path))
	}
	return domain.UploadFile{
		Name: filepath.Base(path),
		Size: info.Size(),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

// FilesFromPaths expands directories one level deep and returns every regular file found.
// Unreadable paths are reported together; readable ones are still returned.
func FilesFromPaths(paths []string) ([]domain.UploadFile, []error) {
	var (
		files []domain.UploadFile
		errs  []error
	)
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("stat %s: %w", p, err))
			continue
		}
		if !info.IsDir() {
			f, err := FileFromPath(p)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			files = append(files, f)
			continue
		}

		entries, err := os.ReadDir(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("read dir %s: %w", p, err))
			continue
		}
		for _, entry := range entries {
			if !entry.Type().IsRegular() {
				continue
			}
			f, err := FileFromPath(filepath.Join(p, entry.Name()))
			if err != nil {
				errs = append(errs, err)
				continue
			}
			files = append(files, f)
		}
	}
	return files, errs
}
