package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/vango-go/vai-retell/pkg/core/types"
)

// Badger is a local store backed by BadgerDB. Expiry uses badger's per-entry
// TTL, so expired entries read as absent.
type Badger struct {
	db *badger.DB
}

// BadgerOptions configures the Badger store.
type BadgerOptions struct {
	// Dir is the data directory. Required unless InMemory is set.
	Dir string

	// InMemory runs badger without disk persistence.
	InMemory bool

	Logger *slog.Logger
}

// NewBadger opens a badger database.
func NewBadger(opts BadgerOptions) (*Badger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("metadata: badger dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dbOpts = dbOpts.WithLogger(badgerLogger{logger: logger.With("component", "badger")})

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Set(_ context.Context, phone string, fields types.CallFields, ttl time.Duration) error {
	key, err := StorageKey(phone)
	if err != nil {
		return err
	}
	value, err := encodeFields(fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

func (b *Badger) Get(_ context.Context, phone string) (types.CallFields, bool, error) {
	key, err := StorageKey(phone)
	if err != nil {
		return types.CallFields{}, false, err
	}
	var value []byte
	err = b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return types.CallFields{}, false, nil
	}
	if err != nil {
		return types.CallFields{}, false, err
	}
	fields, err := decodeFields(value)
	if err != nil {
		return types.CallFields{}, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return fields, true, nil
}

func (b *Badger) Delete(_ context.Context, phone string) error {
	key, err := StorageKey(phone)
	if err != nil {
		return err
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (b *Badger) Backend() string { return "badger" }

func (b *Badger) Close() error { return b.db.Close() }

// badgerLogger routes badger warnings and errors to slog and drops the rest.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(f string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(f, v...))
}

func (l badgerLogger) Warningf(f string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(f, v...))
}

func (badgerLogger) Infof(string, ...interface{})  {}
func (badgerLogger) Debugf(string, ...interface{}) {}
