// Package loader reconciles the local record store with the vector index and
// keeps the error ledger of records that failed to load.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"newsletter-indexer/internal/ledger"
	"newsletter-indexer/internal/logging"
	"newsletter-indexer/internal/models"
	"newsletter-indexer/internal/store"
	"newsletter-indexer/internal/vectorstore"

	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"
)

// ErrUnavailable is returned when the vector index cannot be read
var ErrUnavailable = errors.New("vector store unavailable")

const transportFailure = "Batch transport failure: "

const progressEvery = 10

// Options tunes batching, concurrency and the dedup scan
type Options struct {
	BatchSize  int
	Workers    int
	PageSize   int
	MaxPages   int
	MaxRetries int
	RetryDelay time.Duration
}

// OptionsFromConfig maps the vector section of the config onto loader options
func OptionsFromConfig(cfg models.VectorConfig) Options {
	return Options{
		BatchSize:  cfg.BatchSize,
		Workers:    cfg.Workers,
		PageSize:   cfg.PageSize,
		MaxPages:   cfg.MaxPages,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
	}
}

// Loader pushes records the index does not have yet
type Loader struct {
	index vectorstore.Index
	opts  Options
}

// SyncResult is the outcome of one Sync. Ledger holds exactly this run's failures.
type SyncResult struct {
	Candidates int
	Loaded     int
	Failed     int
	Purged     int
	Ledger     ledger.Ledger
}

// New creates a Loader writing to index
func New(index vectorstore.Index, opts Options) *Loader {
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.PageSize < 1 {
		opts.PageSize = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Loader{index: index, opts: opts}
}

type batchOutcome struct {
	loaded   int
	failures map[string]string
}

// Sync loads every record that is missing from the index or failed last run.
// When the index cannot be scanned nothing is submitted and ErrUnavailable is returned.
func (l *Loader) Sync(ctx context.Context, records store.Records, previous ledger.Ledger) (*SyncResult, error) {
	remote, err := l.index.ExistingKeys(ctx, l.opts.PageSize, l.opts.MaxPages)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	logging.Log.Infof("Found %d existing keys in vector store", len(remote))

	result := &SyncResult{Ledger: ledger.Ledger{}}
	for id := range previous {
		if _, ok := records[id]; !ok {
			result.Purged++
		}
	}
	if result.Purged > 0 {
		logging.Log.Infof("Dropping %d ledger entries for records no longer in the store", result.Purged)
	}

	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var valid []models.VectorRecord
	for _, id := range ids {
		_, known := remote[id]
		_, retry := previous[id]
		if known && !retry {
			continue
		}
		result.Candidates++

		rec, reason := Derive(records[id])
		if reason != "" {
			logging.Log.WithFields(logrus.Fields{"email_id": id, "reason": reason}).Warn("Record not loaded")
			result.Ledger[id] = reason
			continue
		}
		valid = append(valid, rec)
	}
	logging.Log.Infof("%d candidates, %d valid for loading", result.Candidates, len(valid))

	if len(valid) > 0 {
		outcomes, err := l.submit(ctx, valid)
		if err != nil {
			return nil, err
		}
		for _, o := range outcomes {
			result.Loaded += o.loaded
			for id, reason := range o.failures {
				result.Ledger[id] = reason
			}
		}
	}

	result.Failed = len(result.Ledger)
	logging.Log.Infof("Loaded %d records, %d failed", result.Loaded, result.Failed)
	return result, nil
}

func (l *Loader) submit(ctx context.Context, records []models.VectorRecord) ([]batchOutcome, error) {
	pool, err := ants.NewPool(l.opts.Workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Release()

	var batches [][]models.VectorRecord
	for start := 0; start < len(records); start += l.opts.BatchSize {
		end := min(start+l.opts.BatchSize, len(records))
		batches = append(batches, records[start:end])
	}

	outcomes := make([]batchOutcome, len(batches))
	var loaded atomic.Int64
	var wg sync.WaitGroup

	for i, batch := range batches {
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			outcomes[i] = l.insertBatch(ctx, batch)
			if n := outcomes[i].loaded; n > 0 {
				total := loaded.Add(int64(n))
				if total/progressEvery > (total-int64(n))/progressEvery {
					logging.Log.Infof("Loaded %d of %d records", total, len(records))
				}
			}
		})
		if err != nil {
			wg.Done()
			outcomes[i] = failBatch(batch, err)
		}
	}
	wg.Wait()

	return outcomes, nil
}

// insertBatch submits batch, retrying transport failures for the records the
// store has not settled yet. Records still unsettled after the last attempt are
// failed with the transport error.
func (l *Loader) insertBatch(ctx context.Context, batch []models.VectorRecord) batchOutcome {
	out := batchOutcome{failures: map[string]string{}}
	pending := make(map[string]models.VectorRecord, len(batch))
	for _, rec := range batch {
		pending[rec.EmailID] = rec
	}

	err := RetryWithBackoff(ctx, func() error {
		remaining := make([]models.VectorRecord, 0, len(pending))
		for _, rec := range batch {
			if _, ok := pending[rec.EmailID]; ok {
				remaining = append(remaining, rec)
			}
		}

		results, err := l.index.Insert(ctx, remaining)
		for _, r := range results {
			if _, ok := pending[r.EmailID]; !ok {
				continue
			}
			delete(pending, r.EmailID)
			if r.Err != nil {
				logging.Log.WithError(r.Err).WithField("email_id", r.EmailID).Warn("Record rejected by vector store")
				out.failures[r.EmailID] = r.Err.Error()
				continue
			}
			out.loaded++
		}
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			return fmt.Errorf("no result for %d records", len(pending))
		}
		return nil
	}, l.opts.MaxRetries+1, l.opts.RetryDelay)

	if err != nil {
		logging.Log.WithError(err).Errorf("Batch of %d records failed, %d unconfirmed", len(batch), len(pending))
		for id := range pending {
			out.failures[id] = transportFailure + err.Error()
		}
	}
	return out
}

func failBatch(batch []models.VectorRecord, err error) batchOutcome {
	out := batchOutcome{failures: make(map[string]string, len(batch))}
	for _, rec := range batch {
		out.failures[rec.EmailID] = transportFailure + err.Error()
	}
	return out
}
