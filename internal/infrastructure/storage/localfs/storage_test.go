package localfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSaveWritesFileAndAvoidsOverwrite(t *testing.T) {
	dir := t.TempDir()
	store, err := New(filepath.Join(dir, "downloads"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	first, n, err := store.Save(context.Background(), "cv.pdf", strings.NewReader("one"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if n != 3 || filepath.Base(first) != "cv.pdf" {
		t.Fatalf("unexpected first save path=%s n=%d", first, n)
	}

	second, _, err := store.Save(context.Background(), "cv.pdf", strings.NewReader("two"))
	if err != nil {
		t.Fatalf("second Save() error = %v", err)
	}
	if filepath.Base(second) != "cv (1).pdf" {
		t.Fatalf("expected suffixed name, got %s", second)
	}

	raw, err := os.ReadFile(first)
	if err != nil {
		t.Fatalf("read first: %v", err)
	}
	if string(raw) != "one" {
		t.Fatalf("first file was overwritten: %q", raw)
	}
}

func TestSaveStaysInsideBaseDir(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	path, _, err := store.Save(context.Background(), "../../etc/passwd", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if filepath.Dir(path) != dir || filepath.Base(path) != "passwd" {
		t.Fatalf("file escaped base dir: %s", path)
	}
}

func TestSaveRejectsEmptyName(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, _, err := store.Save(context.Background(), "..", strings.NewReader("x")); err == nil {
		t.Fatalf("expected error for empty name")
	}
}

func TestSanitizeName(t *testing.T) {
	tests := map[string]string{
		"cv.pdf":             "cv.pdf",
		"dir/sub/cv.pdf":     "cv.pdf",
		`C:\docs\cv.docx`:    "cv.docx",
		"what?.pdf":          "what_.pdf",
		"  spaced name.zip ": "spaced name.zip",
		"":                   "",
	}
	for in, want := range tests {
		if got := SanitizeName(in); got != want {
			t.Fatalf("SanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFilesFromPathsExpandsDirectories(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{"a.pdf": "A", "b.txt": "B"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	single := filepath.Join(t.TempDir(), "c.docx")
	if err := os.WriteFile(single, []byte("CC"), 0o644); err != nil {
		t.Fatalf("write single: %v", err)
	}

	files, errs := FilesFromPaths([]string{dir, single, filepath.Join(dir, "missing.pdf")})
	if len(errs) != 1 {
		t.Fatalf("expected one error for the missing path, got %v", errs)
	}
	if len(files) != 3 {
		t.Fatalf("expected 3 files, got %d", len(files))
	}

	byName := map[string]int64{}
	for _, f := range files {
		byName[f.Name] = f.Size
	}
	if byName["a.pdf"] != 1 || byName["b.txt"] != 1 || byName["c.docx"] != 2 {
		t.Fatalf("unexpected files %v", byName)
	}

	for _, f := range files {
		if f.Name != "c.docx" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		raw, _ := io.ReadAll(rc)
		_ = rc.Close()
		if string(raw) != "CC" {
			t.Fatalf("unexpected content %q", raw)
		}
	}
}
