package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// BadgerOptions configures a BadgerBackend.
type BadgerOptions struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// Prefix is prepended to every key as "<prefix>/<bucket>/<key>".
	Prefix string

	// InMemory keeps the database in memory only.
	InMemory bool
}

// BadgerBackend stores buckets in a badger database.
type BadgerBackend struct {
	db     *badger.DB
	prefix string
}

// NewBadgerBackend opens the database described by opts.
func NewBadgerBackend(opts BadgerOptions) (*BadgerBackend, error) {
	bopts := badger.DefaultOptions(opts.Path)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	// badger logs to stderr by default
	bopts = bopts.WithLogger(nil)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", opts.Path, err)
	}
	return &BadgerBackend{db: db, prefix: opts.Prefix}, nil
}

func (b *BadgerBackend) bucketPrefix(bucket string) string {
	if b.prefix == "" {
		return bucket + "/"
	}
	return b.prefix + "/" + bucket + "/"
}

// Put stores value under "<prefix>/<bucket>/<key>".
func (b *BadgerBackend) Put(ctx context.Context, bucket, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(b.bucketPrefix(bucket)+key), value)
	})
	if err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Delete removes "<prefix>/<bucket>/<key>".
func (b *BadgerBackend) Delete(ctx context.Context, bucket, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(b.bucketPrefix(bucket) + key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", bucket, key, err)
	}
	return nil
}

// List scans every key under the bucket's prefix.
func (b *BadgerBackend) List(ctx context.Context, bucket string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := []byte(b.bucketPrefix(bucket))
	out := make(map[string][]byte)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out[strings.TrimPrefix(string(item.Key()), string(prefix))] = val
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", bucket, err)
	}
	return out, nil
}

// Close closes the database.
func (b *BadgerBackend) Close() error {
	return b.db.Close()
}

// Ping reports whether the database is still open.
func (b *BadgerBackend) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.db.IsClosed() {
		return errors.New("badger database is closed")
	}
	return nil
}
