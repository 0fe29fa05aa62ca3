package domain

import (
	"io"
	"path/filepath"
	"strings"
)

var allowedUploadExtensions = map[string]struct{}{
	".pdf":  {},
	".docx": {},
	".zip":  {},
}

// UploadFile is a queued local file. Open is called once per upload attempt.
type UploadFile struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// UploadOptions are the per-batch flags sent with the multipart upload.
type UploadOptions struct {
	GenerateReport bool
	WebSearch      bool
	Instruction    string
}

func IsAllowedUploadName(name string) bool {
	_, ok := allowedUploadExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// FullContent is the extracted text of one uploaded file.
type FullContent struct {
	FileID       ID     `json:"file_id"`
	OriginalName string `json:"original_name"`
	Content      string `json:"content"`
}

// DownloadedFile is an original file saved locally.
type DownloadedFile struct {
	FileID ID
	Name   string
	Path   string
	Bytes  int64
}
