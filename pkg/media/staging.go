package media

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Stager hands out temporary paths for in-flight media transfers and
// guarantees their removal after the transfer completes or fails.
type Stager interface {
	StagingPath(messageID int64) string
	ThumbnailPath(messageID int64) string
	Remove(path string)
	CleanupOldFiles(maxAge time.Duration) error

	// MaxFileBytes is the largest attachment the stager will accept.
	MaxFileBytes() int64
}

type stager struct {
	dir       string
	maxSizeMB int
}

// NewStager creates the staging directory if needed and returns a Stager
// rooted in it.
func NewStager(dir string, maxSizeMB int) (Stager, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	return &stager{dir: dir, maxSizeMB: maxSizeMB}, nil
}

func (s *stager) MaxFileBytes() int64 {
	return int64(s.maxSizeMB) * 1024 * 1024
}

func (s *stager) StagingPath(messageID int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("relay_media_%d_%d", messageID, time.Now().UnixNano()))
}

func (s *stager) ThumbnailPath(messageID int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("relay_thumb_%d_%d.jpg", messageID, time.Now().UnixNano()))
}

// Remove deletes a staged file, tolerating paths that were never written.
func (s *stager) Remove(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		// Best effort; leaked files are reaped by CleanupOldFiles.
		_ = err
	}
}

// CleanupOldFiles removes staged files older than maxAge. Transfers that
// crashed mid-flight can leave files behind; this reclaims them.
func (s *stager) CleanupOldFiles(maxAge time.Duration) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read staging directory: %w", err)
	}

	now := time.Now()
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > maxAge {
			if err := os.Remove(filepath.Join(s.dir, info.Name())); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to remove stale staging file: %w", err)
			}
		}
	}
	return nil
}
