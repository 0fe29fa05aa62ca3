package usecase

import (
	"fmt"
	"sync"

	"github.com/kirillkom/cvclient/internal/core/domain"
)

// FileQueue holds the files selected for the next batch.
type FileQueue struct {
	mu    sync.Mutex
	files []domain.UploadFile
}

func NewFileQueue() *FileQueue {
	return &FileQueue{}
}

// Add appends files with an allowed extension and returns how many were ignored.
// A name already in the queue replaces the older entry.
func (q *FileQueue) Add(files ...domain.UploadFile) (added, ignored int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, f := range files {
		if !domain.IsAllowedUploadName(f.Name) || f.Open == nil {
			ignored++
			continue
		}
		if i := q.indexLocked(f.Name); i >= 0 {
			q.files[i] = f
		} else {
			q.files = append(q.files, f)
		}
		added++
	}
	return added, ignored
}

func (q *FileQueue) Remove(index int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if index < 0 || index >= len(q.files) {
		return domain.WrapError(domain.ErrInvalidInput, "remove queued file", fmt.Errorf("index %d out of range", index))
	}
	q.files = append(q.files[:index], q.files[index+1:]...)
	return nil
}

func (q *FileQueue) Clear() {
	q.mu.Lock()
	q.files = nil
	q.mu.Unlock()
}

func (q *FileQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.files)
}

// Files returns a copy in insertion order.
func (q *FileQueue) Files() []domain.UploadFile {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.UploadFile, len(q.files))
	copy(out, q.files)
	return out
}

func (q *FileQueue) TotalSize() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	var total int64
	for _, f := range q.files {
		total += f.Size
	}
	return total
}

func (q *FileQueue) indexLocked(name string) int {
	for i, f := range q.files {
		if f.Name == name {
			return i
		}
	}
	return -1
}
