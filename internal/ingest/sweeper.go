package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"carcare/internal/metrics"
)

const (
	DefaultTempFileTTL             = 15 * time.Minute
	DefaultTempFileCleanupInterval = 5 * time.Minute
)

// StartTempFileCleaner periodically removes entries of the temp dir older
// than ttl. Requests clean up after themselves; this catches what a crash or
// kill left behind.
func (i *Ingestor) StartTempFileCleaner(ctx context.Context, interval, ttl time.Duration) {
	if interval <= 0 {
		interval = DefaultTempFileCleanupInterval
	}
	if ttl <= 0 {
		ttl = DefaultTempFileTTL
	}
	go i.cleanupLoop(ctx, interval, ttl)
}

func (i *Ingestor) cleanupLoop(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := i.CleanupExpiredFiles(now, ttl)
			if err != nil {
				i.logger.Warnw("cleanup temp files failed", "error", err)
			}
			if removed > 0 {
				i.logger.Infow("removed stale temp files", "count", removed)
			}
		}
	}
}

// CleanupExpiredFiles removes files and directories in the temp dir last
// modified before now-ttl and reports how many were removed.
func (i *Ingestor) CleanupExpiredFiles(now time.Time, ttl time.Duration) (int, error) {
	entries, err := os.ReadDir(i.dir)
	if err != nil {
		return 0, fmt.Errorf("read temp dir: %w", err)
	}
	cutoff := now.Add(-ttl)
	removed := 0
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(i.dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			i.logger.Warnw("remove temp file failed", "path", path, "error", err)
			continue
		}
		removed++
	}
	metrics.TempFilesSwept.Add(float64(removed))
	return removed, nil
}
