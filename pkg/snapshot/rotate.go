package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/corvidlabs/metakeeper/pkg/log"
	"github.com/corvidlabs/metakeeper/pkg/metrics"
)

const (
	// Generations is how many numbered snapshot generations are kept
	// besides the current file before the oldest is archived.
	Generations = 3

	archiveInfix      = ".archive."
	archiveTimeFormat = "20060102-150405"
)

// Rotator rotates metadata snapshot generations on shadow stop. Archiving
// the snapshot instead of leaving it in place is a safety control: a stale
// offline shadow must not silently re-seed the cluster as leader without an
// explicit operator restore.
type Rotator struct {
	dir       string
	base      string
	retention time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewRotator creates a rotator for the snapshot file base inside dir.
func NewRotator(dir, base string, retention time.Duration) *Rotator {
	return &Rotator{dir: dir, base: base, retention: retention, now: time.Now}
}

// path returns the file for generation n; 0 is the current snapshot.
func (r *Rotator) path(n int) string {
	if n == 0 {
		return filepath.Join(r.dir, r.base)
	}
	return filepath.Join(r.dir, fmt.Sprintf("%s.%d", r.base, n))
}

// Rotate shifts generations in fixed order: the oldest numbered generation
// becomes a timestamped archive, then 2 moves to 3, 1 to 2 and the current
// snapshot to 1. Missing generations are skipped, so re-running after an
// aborted attempt is safe.
func (r *Rotator) Rotate() error {
	logger := log.WithComponent("snapshot")

	oldest := r.path(Generations)
	if exists(oldest) {
		archive, err := r.archiveName()
		if err != nil {
			return err
		}
		if err := os.Rename(oldest, archive); err != nil {
			return fmt.Errorf("failed to archive %s: %w", oldest, err)
		}
		logger.Info().Str("archive", archive).Msg("archived oldest snapshot generation")
	}

	for n := Generations - 1; n >= 0; n-- {
		src := r.path(n)
		if !exists(src) {
			continue
		}
		dst := r.path(n + 1)
		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("failed to rotate %s: %w", src, err)
		}
	}
	return nil
}

// archiveName builds a timestamped archive path, de-duplicating on the rare
// second-granularity collision.
func (r *Rotator) archiveName() (string, error) {
	stamp := r.now().Format(archiveTimeFormat)
	name := filepath.Join(r.dir, r.base+archiveInfix+stamp)
	if !exists(name) {
		return name, nil
	}
	for i := 1; i < 100; i++ {
		candidate := fmt.Sprintf("%s-%d", name, i)
		if !exists(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("could not find free archive name for %s", name)
}

// Prune deletes archives older than the retention window. Files whose
// timestamp cannot be parsed are left alone.
func (r *Rotator) Prune() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("failed to list snapshot directory: %w", err)
	}

	logger := log.WithComponent("snapshot")
	cutoff := r.now().Add(-r.retention)
	prefix := r.base + archiveInfix

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		stampPart := strings.TrimPrefix(entry.Name(), prefix)
		// Strip a collision suffix like "-1".
		if len(stampPart) > len(archiveTimeFormat) {
			stampPart = stampPart[:len(archiveTimeFormat)]
		}
		stamp, err := time.ParseInLocation(archiveTimeFormat, stampPart, time.Local)
		if err != nil {
			logger.Warn().Str("file", entry.Name()).Msg("skipping archive with unparseable timestamp")
			continue
		}
		if stamp.Before(cutoff) {
			full := filepath.Join(r.dir, entry.Name())
			if err := os.Remove(full); err != nil {
				return fmt.Errorf("failed to prune archive %s: %w", full, err)
			}
			metrics.ArchivesPrunedTotal.Inc()
			logger.Info().Str("archive", full).Msg("pruned expired snapshot archive")
		}
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
