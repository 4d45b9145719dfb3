package security

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
)

// Validator checks files handed back by the execution agent before they are
// archived: names must stay inside the download area and sizes are bounded
// per file and per run.
type Validator struct {
	root         string
	maxFileSize  int64
	maxTotalSize int64

	mu               sync.Mutex
	currentTotalSize int64
}

// NewValidator creates a validator rooted at the download directory.
// A non-positive maxTotalSize disables the per-run bound.
func NewValidator(root string, maxFileSize, maxTotalSize int64) *Validator {
	slog.Info("security_validator_init",
		"root", root,
		"max_file_size_mb", maxFileSize/1024/1024,
		"max_total_size_mb", maxTotalSize/1024/1024)

	return &Validator{
		root:         filepath.Clean(root),
		maxFileSize:  maxFileSize,
		maxTotalSize: maxTotalSize,
	}
}

// ValidateName rejects absolute names and names that escape the root.
func (v *Validator) ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("security: empty file name")
	}
	if filepath.IsAbs(name) {
		slog.Error("security_name_validation_failed", "name", name, "reason", "absolute_path")
		return fmt.Errorf("security: absolute path not allowed: %s", name)
	}

	clean := filepath.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		slog.Error("security_name_validation_failed", "name", name, "reason", "path_traversal")
		return fmt.Errorf("security: path traversal detected: %s", name)
	}
	return nil
}

// Resolve validates path as reported by the agent and returns it relative to
// the root. Absolute paths are accepted only when they sit under the root.
func (v *Validator) Resolve(path string) (string, error) {
	if filepath.IsAbs(path) {
		rel, err := filepath.Rel(v.root, filepath.Clean(path))
		if err != nil {
			return "", fmt.Errorf("security: %s is outside %s", path, v.root)
		}
		path = rel
	}
	if err := v.ValidateName(path); err != nil {
		return "", err
	}
	return filepath.Join(v.root, filepath.Clean(path)), nil
}

// ValidateFileSize checks a single file against the per-file bound.
func (v *Validator) ValidateFileSize(size int64) error {
	if size < 0 {
		return fmt.Errorf("security: negative file size %d", size)
	}
	if v.maxFileSize > 0 && size > v.maxFileSize {
		slog.Error("security_file_size_exceeded",
			"file_size_mb", size/1024/1024,
			"max_file_size_mb", v.maxFileSize/1024/1024)
		return fmt.Errorf("security: file size %d exceeds max %d", size, v.maxFileSize)
	}
	return nil
}

// AddDownloadedSize tracks the run total and checks it against the bound.
func (v *Validator) AddDownloadedSize(size int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.maxTotalSize > 0 && v.currentTotalSize+size > v.maxTotalSize {
		slog.Error("security_total_size_exceeded",
			"current_total_mb", v.currentTotalSize/1024/1024,
			"max_total_mb", v.maxTotalSize/1024/1024,
			"file_size_mb", size/1024/1024)
		return fmt.Errorf("security: total downloaded size %d exceeds max %d",
			v.currentTotalSize+size, v.maxTotalSize)
	}
	v.currentTotalSize += size
	return nil
}

// Check runs every check for one downloaded file and returns its resolved path.
func (v *Validator) Check(path string, size int64) (string, error) {
	resolved, err := v.Resolve(path)
	if err != nil {
		return "", err
	}
	if err := v.ValidateFileSize(size); err != nil {
		return "", err
	}
	if err := v.AddDownloadedSize(size); err != nil {
		return "", err
	}
	return resolved, nil
}

// Reset clears the run total.
func (v *Validator) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.currentTotalSize = 0
}

// CurrentTotalSize returns the bytes accepted since the last Reset.
func (v *Validator) CurrentTotalSize() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.currentTotalSize
}
