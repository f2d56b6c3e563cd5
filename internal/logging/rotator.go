package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileRotator writes to a log file and rotates it when it grows past the
// configured size, keeping a bounded number of timestamped backups.
type FileRotator struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	backups  int
	file     *os.File
	size     int64
}

// NewFileRotator opens (or creates) the log file for appending.
func NewFileRotator(cfg *Config) (*FileRotator, error) {
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("log file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	r := &FileRotator{
		path:     cfg.FilePath,
		maxBytes: cfg.MaxSize * 1024 * 1024,
		backups:  cfg.MaxBackups,
	}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *FileRotator) open() error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	r.file = f
	r.size = info.Size()
	return nil
}

// Write appends to the log file, rotating first if the write would push it
// past the size limit.
func (r *FileRotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxBytes > 0 && r.size+int64(len(p)) > r.maxBytes {
		if err := r.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

// rotate renames the current file to a timestamped backup and reopens.
func (r *FileRotator) rotate() error {
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("close log file: %w", err)
	}

	backup := fmt.Sprintf("%s.%s", r.path, time.Now().UTC().Format("20060102T150405"))
	if err := os.Rename(r.path, backup); err != nil {
		return fmt.Errorf("rotate log file: %w", err)
	}

	r.pruneBackups()
	return r.open()
}

// pruneBackups removes the oldest backups beyond the configured count.
func (r *FileRotator) pruneBackups() {
	if r.backups <= 0 {
		return
	}
	matches, err := filepath.Glob(r.path + ".*")
	if err != nil || len(matches) <= r.backups {
		return
	}
	sort.Strings(matches) // timestamped names sort chronologically
	for _, old := range matches[:len(matches)-r.backups] {
		os.Remove(old)
	}
}

// Close closes the underlying file.
func (r *FileRotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}
