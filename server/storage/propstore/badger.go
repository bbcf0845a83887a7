package propstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cyp0633/libdav/server/dav"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
)

// Keys are "p:<path>\x00<clark name>".
const keyPrefix = "p:"

func propKey(path string, n dav.Name) []byte {
	return []byte(keyPrefix + path + "\x00" + n.String())
}

// splitKey returns the path and property name encoded in key.
func splitKey(key []byte) (string, dav.Name, error) {
	s := strings.TrimPrefix(string(key), keyPrefix)
	i := strings.IndexByte(s, 0)
	if i < 0 {
		return "", dav.Name{}, fmt.Errorf("malformed property key %q", key)
	}
	n, err := dav.ParseName(s[i+1:])
	return s[:i], n, err
}

// BadgerOption configures a Badger store.
type BadgerOption func(*badgerConfig)

type badgerConfig struct {
	inMemory bool
	logger   *slog.Logger
}

// InMemory keeps the database in memory only. The path is ignored.
func InMemory() BadgerOption {
	return func(c *badgerConfig) {
		c.inMemory = true
	}
}

// WithLogger routes badger's own log output to logger.
func WithLogger(logger *slog.Logger) BadgerOption {
	return func(c *badgerConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Badger is a Store backed by a badger database.
type Badger struct {
	db *badger.DB
}

// OpenBadger opens or creates the database at path.
func OpenBadger(path string, opts ...BadgerOption) (*Badger, error) {
	cfg := badgerConfig{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&cfg)
	}

	bopts := badger.DefaultOptions(path)
	if cfg.inMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts = bopts.WithLogger(badgerLogger{cfg.logger}).WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, errors.Wrapf(err, "open property database at %s", path)
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Get(_ context.Context, path string, names []dav.Name) (map[dav.Name]dav.Property, error) {
	result := make(map[dav.Name]dav.Property)
	err := b.db.View(func(txn *badger.Txn) error {
		if len(names) > 0 {
			for _, n := range names {
				item, err := txn.Get(propKey(path, n))
				if err == badger.ErrKeyNotFound {
					continue
				}
				if err != nil {
					return err
				}
				if err := item.Value(func(val []byte) error {
					p, err := decodeProperty(val)
					result[n] = p
					return err
				}); err != nil {
					return err
				}
			}
			return nil
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix + path + "\x00")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			_, n, err := splitKey(item.Key())
			if err != nil {
				return err
			}
			if err := item.Value(func(val []byte) error {
				p, err := decodeProperty(val)
				result[n] = p
				return err
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "read properties of %s", path)
	}
	return result, nil
}

func (b *Badger) Update(_ context.Context, path string, mutations []dav.Mutation) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, m := range mutations {
			key := propKey(path, m.Name)
			if m.Remove() {
				if err := txn.Delete(key); err != nil {
					return err
				}
				continue
			}
			val, err := encodeProperty(m.Value)
			if err != nil {
				return err
			}
			if err := txn.Set(key, val); err != nil {
				return err
			}
		}
		return nil
	})
	return errors.Wrapf(err, "update properties of %s", path)
}

type entry struct {
	path string
	name dav.Name
	key  []byte
	val  []byte
}

// scan collects every property stored for root and everything below it.
func scan(txn *badger.Txn, root string) ([]entry, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(keyPrefix + root)
	it := txn.NewIterator(opts)
	defer it.Close()

	var entries []entry
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		p, n, err := splitKey(item.Key())
		if err != nil {
			return nil, err
		}
		if !under(p, root) {
			continue
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry{path: p, name: n, key: item.KeyCopy(nil), val: val})
	}
	return entries, nil
}

func (b *Badger) Delete(_ context.Context, path string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		entries, err := scan(txn, path)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := txn.Delete(e.key); err != nil {
				return err
			}
		}
		return nil
	})
	return errors.Wrapf(err, "delete properties of %s", path)
}

func (b *Badger) Move(_ context.Context, src, dst string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		stale, err := scan(txn, dst)
		if err != nil {
			return err
		}
		for _, e := range stale {
			if err := txn.Delete(e.key); err != nil {
				return err
			}
		}
		entries, err := scan(txn, src)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := txn.Delete(e.key); err != nil {
				return err
			}
			if err := txn.Set(propKey(rebase(e.path, src, dst), e.name), e.val); err != nil {
				return err
			}
		}
		return nil
	})
	return errors.Wrapf(err, "move properties from %s to %s", src, dst)
}

func (b *Badger) Close() error {
	return b.db.Close()
}

// badgerLogger adapts slog to badger.Logger.
type badgerLogger struct {
	l *slog.Logger
}

func (b badgerLogger) Errorf(format string, args ...any) {
	b.l.Error(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (b badgerLogger) Warningf(format string, args ...any) {
	b.l.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (b badgerLogger) Infof(format string, args ...any) {
	b.l.Info(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (b badgerLogger) Debugf(format string, args ...any) {
	b.l.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}
