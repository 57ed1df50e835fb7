package fictora

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
)

// BadgerConfig configures the on-disk Storage backend.
type BadgerConfig struct {
	// Path is the directory for the database files. Ignored when InMemory
	// is true.
	Path string

	// InMemory skips disk persistence entirely. Useful for tests.
	InMemory bool

	// SyncWrites forces an fsync per write. Token and pending-request
	// records are small and rare, so the durability is cheap.
	SyncWrites bool

	// Logger receives badger's internal logging. Nil silences it.
	Logger *slog.Logger
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStorage is a durable Storage backed by an embedded BadgerDB. It is
// the right backing for state that must survive process restarts: the token
// record and the pending-request slot.
type BadgerStorage struct {
	db *badger.DB
}

// OpenBadgerStorage opens (creating if needed) the database described by cfg.
func OpenBadgerStorage(cfg BadgerConfig) (*BadgerStorage, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("badger storage: path is required unless in-memory")
	}

	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger storage: open: %w", err)
	}
	return &BadgerStorage{db: db}, nil
}

// Get implements Storage. A missing key is ("", false, nil), not an error.
func (s *BadgerStorage) Get(key string) (string, bool, error) {
	var value string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("badger storage: get %q: %w", key, err)
	}
	return value, true, nil
}

// Set implements Storage.
func (s *BadgerStorage) Set(key, value string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("badger storage: set %q: %w", key, err)
	}
	return nil
}

// Delete implements Storage. Deleting an absent key is a no-op.
func (s *BadgerStorage) Delete(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("badger storage: delete %q: %w", key, err)
	}
	return nil
}

// Close flushes and closes the database.
func (s *BadgerStorage) Close() error {
	return s.db.Close()
}
