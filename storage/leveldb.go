package storage

import (
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	lvstorage "github.com/syndtr/goleveldb/leveldb/storage"
)

// LevelDB is a persistent cache using LevelDB.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// NewLevelDBMemory opens a LevelDB instance that lives in memory.
func NewLevelDBMemory() (*LevelDB, error) {
	db, err := leveldb.Open(lvstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Get(key string) ([]byte, bool) {
	v, err := l.db.Get([]byte(key), nil)
	if err != nil {
		return nil, false
	}
	return v, true
}

func (l *LevelDB) Set(key string, value []byte) error {
	return l.db.Put([]byte(key), value, nil)
}

// Clear deletes every key in one batch.
func (l *LevelDB) Clear() error {
	it := l.db.NewIterator(nil, nil)
	batch := new(leveldb.Batch)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return err
	}
	return l.db.Write(batch, nil)
}

// Close closes the database.
func (l *LevelDB) Close() error {
	if err := l.db.Close(); err != nil && !errors.Is(err, leveldb.ErrClosed) {
		return err
	}
	return nil
}
