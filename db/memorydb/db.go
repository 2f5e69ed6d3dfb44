package memorydb

import (
	"sort"
	"sync"

	"github.com/phat-tools/cluster-deployer/db"
)

// NewDB creates an empty in-memory database.
func NewDB() *DB {
	return &DB{
		db: make(map[string][]byte),
	}
}

// Enforce database and transaction implements interfaces
var _ db.DB = (*DB)(nil)

type DB struct {
	lock sync.Mutex
	db   map[string][]byte
}

func (mdb *DB) Type() string {
	return "memorydb"
}

func (mdb *DB) Set(namespace []byte, key []byte, value []byte) error {
	mdb.lock.Lock()
	defer mdb.lock.Unlock()

	key = db.ConvNilToBytes(db.PrependNamespace(namespace, key))
	mdb.db[string(key)] = append([]byte{}, value...)
	return nil
}

func (mdb *DB) Delete(namespace []byte, key []byte) error {
	mdb.lock.Lock()
	defer mdb.lock.Unlock()

	key = db.ConvNilToBytes(db.PrependNamespace(namespace, key))
	delete(mdb.db, string(key))
	return nil
}

func (mdb *DB) Get(namespace []byte, key []byte) ([]byte, bool, error) {
	mdb.lock.Lock()
	defer mdb.lock.Unlock()

	key = db.ConvNilToBytes(db.PrependNamespace(namespace, key))
	value, exists := mdb.db[string(key)]
	if !exists {
		return nil, false, nil
	}
	return append([]byte{}, value...), true, nil
}

func (mdb *DB) Exist(namespace []byte, key []byte) (bool, error) {
	mdb.lock.Lock()
	defer mdb.lock.Unlock()

	key = db.ConvNilToBytes(db.PrependNamespace(namespace, key))
	_, ok := mdb.db[string(key)]
	return ok, nil
}

// Scan snapshots the matching entries before calling fn, so fn may write to the db.
func (mdb *DB) Scan(namespace []byte, fn func(key []byte, value []byte) error) error {
	type entry struct {
		key   []byte
		value []byte
	}
	mdb.lock.Lock()
	var entries []entry
	for k, v := range mdb.db {
		if key, ok := db.StripNamespace(namespace, []byte(k)); ok {
			entries = append(entries, entry{key: key, value: append([]byte{}, v...)})
		}
	}
	mdb.lock.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		return string(entries[i].key) < string(entries[j].key)
	})
	for _, e := range entries {
		if err := fn(e.key, e.value); err != nil {
			return err
		}
	}
	return nil
}

func (mdb *DB) Close() error {
	return nil
}

func (mdb *DB) NewTx() db.Transaction {
	return &Transaction{db: mdb}
}
