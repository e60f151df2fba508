// Package newsletter runs the ingestion and vector sync pipeline end to end.
package newsletter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"newsletter-indexer/internal/ingest"
	"newsletter-indexer/internal/ledger"
	"newsletter-indexer/internal/loader"
	"newsletter-indexer/internal/logging"
	"newsletter-indexer/internal/models"
	"newsletter-indexer/internal/store"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrRunInProgress is returned when another run holds the record file lock until ctx ends
var ErrRunInProgress = errors.New("another run holds the record file lock")

const lockRetryDelay = 250 * time.Millisecond

type Service struct {
	ingestor *ingest.Ingestor
	loader   *loader.Loader
	label    string
	storage  models.StorageConfig
}

// NewService creates a new instance of the pipeline with the provided ingestor, loader and configuration
func NewService(ingestor *ingest.Ingestor, ld *loader.Loader, cfg *models.Config) *Service {
	return &Service{
		ingestor: ingestor,
		loader:   ld,
		label:    cfg.Email.Label,
		storage:  cfg.Storage,
	}
}

// Run fetches new newsletters, merges them into the record file and loads
// whatever the vector index is missing. Mail session failures abort the run
// before anything is written; a vector store outage leaves the ledger as it was.
// Runs in any process sharing the record file are serialized by a lock file
// next to it; Run waits for the lock until ctx ends.
func (s *Service) Run(ctx context.Context) (*models.RunResult, error) {
	result := &models.RunResult{TraceID: uuid.New().String()}
	locallog := logging.Log.WithField("trace_id", result.TraceID)

	lock, err := s.lock(ctx, locallog)
	if err != nil {
		return result, err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			locallog.WithError(err).Warn("Error releasing record file lock")
		}
	}()

	locallog.Infof("Starting refresh of label '%s'", s.label)

	records, err := store.Load(s.storage.RecordsFile)
	if err != nil {
		return result, err
	}

	emails, err := s.ingestor.FetchNew(ctx, s.label, store.IDs(records))
	if err != nil {
		locallog.WithError(err).Error("Email ingestion failed")
		return result, err
	}
	result.Fetched = len(emails)
	result.Processed, result.Skipped = ingest.Segment(emails)

	if len(emails) > 0 {
		incoming := make([]*models.NewsletterRecord, 0, len(emails))
		for _, email := range emails {
			incoming = append(incoming, email.Record())
		}
		records = store.Merge(records, incoming)
		if err := store.Save(s.storage.RecordsFile, records); err != nil {
			return result, fmt.Errorf("saving records: %w", err)
		}
		locallog.Infof("Saved %d records (%d new)", len(records), len(emails))
	}
	result.Stored = len(records)

	previous, err := ledger.Load(s.storage.ErrorsFile)
	if err != nil {
		locallog.WithError(err).Warn("Could not read error ledger, previous failures are only retried if missing remotely")
		previous = ledger.Ledger{}
	}

	synced, err := s.loader.Sync(ctx, records, previous)
	if err != nil {
		locallog.WithError(err).Error("Vector sync failed")
		return result, err
	}
	result.Loaded = synced.Loaded
	result.Failed = synced.Failed

	if err := ledger.Save(s.storage.ErrorsFile, synced.Ledger); err != nil {
		return result, fmt.Errorf("saving error ledger: %w", err)
	}

	locallog.Infof("Refresh done: %d fetched, %d processed, %d skipped, %d loaded, %d failed",
		result.Fetched, result.Processed, result.Skipped, result.Loaded, result.Failed)
	return result, nil
}

// LockPath is the lock file guarding records file path
func LockPath(recordsFile string) string {
	return recordsFile + ".lock"
}

func (s *Service) lock(ctx context.Context, locallog *logrus.Entry) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(s.storage.RecordsFile), 0o755); err != nil {
		return nil, fmt.Errorf("creating record directory: %w", err)
	}

	lock := flock.New(LockPath(s.storage.RecordsFile))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking record file: %w", err)
	}
	if locked {
		return lock, nil
	}

	locallog.Info("Another run holds the record file, waiting for it to finish")
	locked, err = lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		return nil, fmt.Errorf("%w: %v", ErrRunInProgress, err)
	}
	return lock, nil
}
