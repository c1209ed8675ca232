package cache

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Store persists function summaries between runs in a badger database,
// keyed by function fingerprint. Every failure degrades to a cache miss;
// an analysis never depends on the cache being healthy.
type Store struct {
	db  *badger.DB
	log *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
	errs   atomic.Int64
}

// Open opens or creates a store at path. A nil logger selects
// slog.Default().
func Open(path string, logger *slog.Logger) (*Store, error) {
	return open(badger.DefaultOptions(path), logger)
}

// OpenInMemory is Open without any files, for tests and one-shot runs.
func OpenInMemory(logger *slog.Logger) (*Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true), logger)
}

func open(opts badger.Options, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := badger.Open(opts.WithLogger(nil))
	if err != nil {
		return nil, err
	}
	return &Store{db: db, log: logger.With(slog.String("component", "cache"))}, nil
}

func (s *Store) Close() error { return s.db.Close() }

type summaryRecord struct {
	Params  []string `json:"params"`
	Results []string `json:"results"`
}

func summaryKey(fingerprint string) []byte { return []byte("sum/" + fingerprint) }

// LoadSummary returns the cached parameter and result trees for a
// fingerprint, in their textual encoding.
func (s *Store) LoadSummary(fingerprint string) (params, results []string, ok bool) {
	var rec summaryRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(summaryKey(fingerprint))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	switch {
	case err == nil:
		s.hits.Add(1)
		return rec.Params, rec.Results, true
	case errors.Is(err, badger.ErrKeyNotFound):
		s.misses.Add(1)
	default:
		s.errs.Add(1)
		s.log.Warn("summary load failed",
			slog.String("fingerprint", fingerprint), slog.Any("err", err))
	}
	return nil, nil, false
}

// StoreSummary records the summary for a fingerprint, replacing any
// previous one.
func (s *Store) StoreSummary(fingerprint string, params, results []string) {
	buf, err := json.Marshal(summaryRecord{Params: params, Results: results})
	if err == nil {
		err = s.db.Update(func(txn *badger.Txn) error {
			return txn.Set(summaryKey(fingerprint), buf)
		})
	}
	if err != nil {
		s.errs.Add(1)
		s.log.Warn("summary store failed",
			slog.String("fingerprint", fingerprint), slog.Any("err", err))
	}
}

// Run describes one analysis run in the history kept alongside summaries.
type Run struct {
	ID        string        `json:"id"`
	Start     time.Time     `json:"start"`
	Dir       string        `json:"dir"`
	Functions int           `json:"functions"`
	Values    int           `json:"values"`
	Hits      int64         `json:"hits"`
	Misses    int64         `json:"misses"`
	Elapsed   time.Duration `json:"elapsed"`
}

// RecordRun appends a run record, generating an id when the record has
// none, and returns the id.
func (s *Store) RecordRun(run Run) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	buf, err := json.Marshal(run)
	if err != nil {
		return "", err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("run/"+run.ID), buf)
	})
	if err != nil {
		return "", err
	}
	return run.ID, nil
}

// Stats reports cache effectiveness counters for this process.
type Stats struct {
	Hits, Misses, Errors int64
}

func (s *Store) Stats() Stats {
	return Stats{Hits: s.hits.Load(), Misses: s.misses.Load(), Errors: s.errs.Load()}
}
