package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBBackend stores generations in a local LevelDB database.
//
// Layout:
//
//	n:<name>          creation sequence of a store
//	e:<name>\x00<key> JSON entry
type LevelDBBackend struct {
	db *leveldb.DB

	mu  sync.Mutex
	seq int64
}

// NewLevelDBBackend opens (or creates) the database at path.
func NewLevelDBBackend(path string) (*LevelDBBackend, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	b := &LevelDBBackend{db: db}
	if err := b.loadSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func nameKey(name string) []byte { return []byte("n:" + name) }

func entryPrefix(name string) []byte { return []byte("e:" + name + "\x00") }

func entryKey(name, key string) []byte { return append(entryPrefix(name), key...) }

func (b *LevelDBBackend) loadSeq() error {
	it := b.db.NewIterator(util.BytesPrefix([]byte("n:")), nil)
	defer it.Release()
	for it.Next() {
		seq, err := strconv.ParseInt(string(it.Value()), 10, 64)
		if err != nil {
			continue
		}
		if seq > b.seq {
			b.seq = seq
		}
	}
	return it.Error()
}

func (b *LevelDBBackend) Open(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openLocked(name)
}

func (b *LevelDBBackend) openLocked(name string) error {
	ok, err := b.db.Has(nameKey(name), nil)
	if err != nil {
		return fmt.Errorf("leveldb has: %w", err)
	}
	if ok {
		return nil
	}
	b.seq++
	if err := b.db.Put(nameKey(name), []byte(strconv.FormatInt(b.seq, 10)), nil); err != nil {
		return fmt.Errorf("leveldb put: %w", err)
	}
	return nil
}

func (b *LevelDBBackend) Has(ctx context.Context, name string) (bool, error) {
	ok, err := b.db.Has(nameKey(name), nil)
	if err != nil {
		return false, fmt.Errorf("leveldb has: %w", err)
	}
	return ok, nil
}

func (b *LevelDBBackend) Names(ctx context.Context) ([]string, error) {
	type named struct {
		name string
		seq  int64
	}
	var items []named

	it := b.db.NewIterator(util.BytesPrefix([]byte("n:")), nil)
	defer it.Release()
	for it.Next() {
		seq, _ := strconv.ParseInt(string(it.Value()), 10, 64)
		items = append(items, named{
			name: string(bytes.TrimPrefix(it.Key(), []byte("n:"))),
			seq:  seq,
		})
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("leveldb iterate names: %w", err)
	}

	sort.Slice(items, func(i, j int) bool { return items[i].seq < items[j].seq })
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.name
	}
	return out, nil
}

func (b *LevelDBBackend) Delete(ctx context.Context, name string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ok, err := b.db.Has(nameKey(name), nil)
	if err != nil {
		return false, fmt.Errorf("leveldb has: %w", err)
	}
	if !ok {
		return false, nil
	}

	batch := new(leveldb.Batch)
	it := b.db.NewIterator(util.BytesPrefix(entryPrefix(name)), nil)
	for it.Next() {
		batch.Delete(bytes.Clone(it.Key()))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return false, fmt.Errorf("leveldb iterate entries: %w", err)
	}
	batch.Delete(nameKey(name))
	if err := b.db.Write(batch, nil); err != nil {
		return false, fmt.Errorf("leveldb delete store: %w", err)
	}
	return true, nil
}

func (b *LevelDBBackend) Get(ctx context.Context, name, key string) ([]byte, error) {
	data, err := b.db.Get(entryKey(name, key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("leveldb get: %w", err)
	}
	return data, nil
}

func (b *LevelDBBackend) Put(ctx context.Context, name, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.openLocked(name); err != nil {
		return err
	}
	if err := b.db.Put(entryKey(name, key), data, nil); err != nil {
		return fmt.Errorf("leveldb put: %w", err)
	}
	return nil
}

func (b *LevelDBBackend) Keys(ctx context.Context, name string) ([]string, error) {
	prefix := entryPrefix(name)
	it := b.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	var out []string
	for it.Next() {
		out = append(out, string(bytes.TrimPrefix(it.Key(), prefix)))
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("leveldb iterate entries: %w", err)
	}
	return out, nil
}

func (b *LevelDBBackend) Close() error {
	return b.db.Close()
}
