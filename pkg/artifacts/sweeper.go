package artifacts

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Sweeper periodically removes artifact files on disk that no longer have
// a matching row in the artifacts table. An orphan can appear when a
// process crashes after writing the file but before committing its
// metadata row; orphans are benign (nothing references them) but
// accumulate disk usage if never reclaimed.
type Sweeper struct {
	meta metadataStore
	dir  string
	log  *slog.Logger
}

// NewSweeper builds a Sweeper rooted at the same directory a Store spills
// artifact content to.
func NewSweeper(meta metadataStore, dir string, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{meta: meta, dir: dir, log: log}
}

// Run removes every file under dir older than minAge whose path is not a
// known storage_ref, and returns the count removed.
func (s *Sweeper) Run(ctx context.Context, minAge time.Duration) (int, error) {
	refs, err := s.meta.ArtifactStorageRefs(ctx)
	if err != nil {
		return 0, fmt.Errorf("load storage refs: %w", err)
	}

	cutoff := time.Now().Add(-minAge)
	removed := 0

	err = filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if refs[path] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			s.log.Warn("sweep: failed to remove orphaned artifact", "path", path, "error", err)
			return nil
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("walk artifact dir: %w", err)
	}

	s.log.Info("artifact sweep complete", "removed", removed)
	return removed, nil
}

// RunEvery runs Run on a fixed interval until ctx is cancelled, matching
// the periodic-retention-sweep pattern used for session cleanup elsewhere
// in this codebase.
func (s *Sweeper) RunEvery(ctx context.Context, interval, minAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Run(ctx, minAge); err != nil {
				s.log.Error("artifact sweep failed", "error", err)
			}
		}
	}
}
