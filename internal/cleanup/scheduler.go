package cleanup

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Evictor drops finished in-memory jobs older than cutoff
type Evictor interface {
	EvictFinished(cutoff time.Time) int
}

// Pruner deletes finished ledger rows older than cutoff
type Pruner interface {
	PruneFinished(cutoff time.Time) (int64, error)
}

// Scheduler periodically removes stale temp files, evicts finished jobs
// from memory and prunes the job ledger
type Scheduler struct {
	tempDir  string
	interval time.Duration
	maxAge   time.Duration
	evictor  Evictor
	pruner   Pruner
	cron     *cron.Cron
	now      func() time.Time
}

// NewScheduler creates a new cleanup scheduler. evictor and pruner may be nil.
func NewScheduler(tempDir string, interval, maxAge time.Duration, evictor Evictor, pruner Pruner) *Scheduler {
	return &Scheduler{
		tempDir:  tempDir,
		interval: interval,
		maxAge:   maxAge,
		evictor:  evictor,
		pruner:   pruner,
		cron:     cron.New(),
		now:      time.Now,
	}
}

// Start runs one sweep immediately and then schedules the periodic ones
func (s *Scheduler) Start() error {
	log.Info().Str("dir", s.tempDir).Msg("running initial cleanup")
	s.Sweep()

	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), s.Sweep); err != nil {
		return fmt.Errorf("failed to schedule cleanup: %w", err)
	}
	s.cron.Start()

	log.Info().Dur("interval", s.interval).Dur("max_age", s.maxAge).Msg("cleanup scheduler started")
	return nil
}

// Stop stops the scheduler and waits for a running sweep
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Info().Msg("cleanup scheduler stopped")
}

// Sweep performs one cleanup pass
func (s *Scheduler) Sweep() {
	cutoff := s.now().Add(-s.maxAge)
	s.cleanOldFiles(cutoff)

	if s.evictor != nil {
		if n := s.evictor.EvictFinished(cutoff); n > 0 {
			log.Info().Int("jobs", n).Msg("evicted finished jobs")
		}
	}
	if s.pruner != nil {
		n, err := s.pruner.PruneFinished(cutoff)
		if err != nil {
			log.Error().Err(err).Msg("failed to prune job ledger")
		} else if n > 0 {
			log.Info().Int64("rows", n).Msg("pruned job ledger")
		}
	}
}

// cleanOldFiles removes files last modified before cutoff from the temp directory
func (s *Scheduler) cleanOldFiles(cutoff time.Time) {
	var (
		deletedCount int
		deletedSize  int64
	)

	err := filepath.Walk(s.tempDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip files we can't access
		}
		if info.IsDir() || !info.ModTime().Before(cutoff) {
			return nil
		}

		size := info.Size()
		if err := os.Remove(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to delete old file")
			return nil
		}
		deletedCount++
		deletedSize += size
		log.Debug().Str("file", filepath.Base(path)).Int64("size_kb", size/1024).Msg("deleted old temp file")
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("error during cleanup")
	}

	if deletedCount > 0 {
		log.Info().
			Int("files", deletedCount).
			Float64("freed_mb", float64(deletedSize)/(1024*1024)).
			Msg("cleanup complete")
	}
}

// EnsureTempDirExists creates the temp directory if it doesn't exist
func EnsureTempDirExists(tempDir string) error {
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return err
	}
	log.Debug().Str("dir", tempDir).Msg("temp directory ready")
	return nil
}
