// Package badger manages the embedded BadgerDB instance backing the
// saga event and state stores: opening, periodic value-log GC, and
// shutdown.
package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/sagaflow/sagaflow/pkg/logger"
)

const (
	gcInterval     = 5 * time.Minute
	gcDiscardRatio = 0.5
)

// Config holds BadgerDB settings.
type Config struct {
	Path              string
	SyncWrites        bool
	ValueLogFileSize  int64
	NumVersionsToKeep int
}

// Store owns an open BadgerDB handle and its GC loop.
type Store struct {
	db   *badger.DB
	log  logger.Logger
	stop chan struct{}
	done chan struct{}
}

// Open opens the database at cfg.Path and starts value-log GC.
func Open(cfg *Config, log logger.Logger) (*Store, error) {
	if cfg == nil || cfg.Path == "" {
		return nil, fmt.Errorf("badger path cannot be empty")
	}
	if log == nil {
		log = logger.Global()
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = cfg.SyncWrites
	opts.Logger = nil
	if cfg.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = cfg.ValueLogFileSize
	}
	if cfg.NumVersionsToKeep > 0 {
		opts.NumVersionsToKeep = cfg.NumVersionsToKeep
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", cfg.Path, err)
	}

	s := &Store{
		db:   db,
		log:  log,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.runGC()
	return s, nil
}

// DB returns the underlying database handle.
func (s *Store) DB() *badger.DB {
	return s.db
}

// Healthy reports whether the database is open.
func (s *Store) Healthy(ctx context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger database is closed")
	}
	return nil
}

// Close stops GC and closes the database.
func (s *Store) Close() error {
	close(s.stop)
	<-s.done
	return s.db.Close()
}

func (s *Store) runGC() {
	defer close(s.done)
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			// Each successful pass rewrote one value log file; keep
			// going until nothing is left to reclaim.
			for {
				err := s.db.RunValueLogGC(gcDiscardRatio)
				if err == nil {
					continue
				}
				if !errors.Is(err, badger.ErrNoRewrite) {
					s.log.Warn("badger value log gc failed", "error", err)
				}
				break
			}
		}
	}
}
