// Package badger implements storage.Log on BadgerDB.
package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/couchcryptid/wardrive-risk-map/internal/storage"
)

var (
	entryPrefix = []byte("log/")
	seqKey      = []byte("meta/seq")
)

// Config selects where the log lives.
type Config struct {
	Path     string
	InMemory bool
	// SyncWrites fsyncs every commit.
	SyncWrites bool
	Logger     *slog.Logger
}

// Log is a storage.Log backed by BadgerDB. Entries are keyed by
// "log/" + big-endian sequence number so iteration order is append order.
type Log struct {
	db  *badger.DB
	seq *badger.Sequence
}

var _ storage.Log = (*Log)(nil)

// Open opens (creating if needed) a Badger log.
func Open(cfg Config) (*Log, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	seq, err := db.GetSequence(seqKey, 100)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("lease sequence: %w", err)
	}
	return &Log{db: db, seq: seq}, nil
}

func entryKey(seq uint64) []byte {
	k := make([]byte, len(entryPrefix)+8)
	copy(k, entryPrefix)
	binary.BigEndian.PutUint64(k[len(entryPrefix):], seq)
	return k
}

func (l *Log) Append(_ context.Context, payload []byte) (uint64, error) {
	n, err := l.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	// Badger sequences start at zero; keep zero free as "no entry".
	seq := n + 1
	err = l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(seq), payload)
	})
	if err != nil {
		return 0, fmt.Errorf("write log entry: %w", err)
	}
	return seq, nil
}

func (l *Log) ReadAll(ctx context.Context) ([]storage.Entry, error) {
	var out []storage.Entry
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = entryPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(entryPrefix); it.ValidForPrefix(entryPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			payload, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			key := item.Key()
			out = append(out, storage.Entry{
				Seq:     binary.BigEndian.Uint64(key[len(entryPrefix):]),
				Payload: payload,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read log entries: %w", err)
	}
	return out, nil
}

func (l *Log) Update(_ context.Context, seq uint64, payload []byte) error {
	key := entryKey(seq)
	err := l.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Set(key, payload)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update log entry %d: %w", seq, err)
	}
	return nil
}

func (l *Log) Delete(_ context.Context, seqs ...uint64) (int, error) {
	if len(seqs) == 0 {
		return 0, nil
	}
	removed := 0
	err := l.db.Update(func(txn *badger.Txn) error {
		removed = 0
		for _, seq := range seqs {
			key := entryKey(seq)
			if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
				continue
			} else if err != nil {
				return err
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete log entries: %w", err)
	}
	return removed, nil
}

func (l *Log) Ping(context.Context) error {
	if l.db.IsClosed() {
		return errors.New("badger database is closed")
	}
	return nil
}

// Close releases the sequence lease and closes the database.
func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	relErr := l.seq.Release()
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("close badger database: %w", err)
	}
	if relErr != nil {
		return fmt.Errorf("release sequence: %w", relErr)
	}
	return nil
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
