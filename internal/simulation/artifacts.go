package simulation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"factor-heston-sim/internal/monitor"
)

const areaPrefix = "run-"

// minSweepInterval bounds how often SweepOrphans walks the store.
const minSweepInterval = time.Second

// WorkingArea is a directory owned by exactly one pipeline run.
type WorkingArea struct {
	RunID string
	Dir   string
}

// Path returns the location of the named artifact inside the area. Only
// the base name of name is used, so callers cannot escape the area.
func (a *WorkingArea) Path(name string) string {
	return filepath.Join(a.Dir, filepath.Base(name))
}

// ArtifactStore hands out private working areas under a single root and
// removes them when runs finish.
type ArtifactStore struct {
	root    string
	metrics *monitor.Metrics
}

// NewArtifactStore creates root if needed. metrics may be nil.
func NewArtifactStore(root string, metrics *monitor.Metrics) (*ArtifactStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving work dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("creating work dir: %w", err)
	}
	return &ArtifactStore{root: abs, metrics: metrics}, nil
}

// Root returns the directory all working areas live under.
func (s *ArtifactStore) Root() string { return s.root }

// Acquire creates a fresh, empty working area for runID.
func (s *ArtifactStore) Acquire(runID string) (*WorkingArea, error) {
	dir, err := os.MkdirTemp(s.root, areaPrefix+runID+"-")
	if err != nil {
		return nil, fmt.Errorf("creating working area: %w", err)
	}
	return &WorkingArea{RunID: runID, Dir: dir}, nil
}

// Release deletes the working area and everything in it. Failures are
// logged and counted, never returned.
func (s *ArtifactStore) Release(area *WorkingArea) {
	if area == nil {
		return
	}
	if err := os.RemoveAll(area.Dir); err != nil {
		log.Error().Err(err).Str("run_id", area.RunID).Msg("failed to remove working area")
		s.metrics.RecordCleanupFailure()
	}
}

// CleanupOrphaned removes working areas older than maxAge, typically left
// behind by a process that crashed mid-run.
func (s *ArtifactStore) CleanupOrphaned(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("listing work dir: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	var cleaned int
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), areaPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		logger := log.With().Str("area", e.Name()).Logger()
		if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
			logger.Error().Err(err).Msg("failed to remove orphaned working area")
			s.metrics.RecordCleanupFailure()
			continue
		}
		logger.Info().Msg("removed orphaned working area")
		cleaned++
	}

	if cleaned > 0 {
		log.Info().Int("count", cleaned).Msg("cleaned up orphaned working areas")
	}
	return cleaned, nil
}

// SweepOrphans runs CleanupOrphaned once immediately and then every
// interval (never less than minSweepInterval) until ctx is cancelled.
func (s *ArtifactStore) SweepOrphans(ctx context.Context, interval, maxAge time.Duration) {
	if _, err := s.CleanupOrphaned(maxAge); err != nil {
		log.Warn().Err(err).Msg("orphan sweep failed")
	}

	ticker := time.NewTicker(max(interval, minSweepInterval))
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := s.CleanupOrphaned(maxAge); err != nil {
				log.Warn().Err(err).Msg("orphan sweep failed")
			}
		case <-ctx.Done():
			return
		}
	}
}
