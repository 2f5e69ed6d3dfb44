// Package badgerdb keeps the deployment journal in a badger directory.
package badgerdb

import (
	"github.com/dgraph-io/badger/v2"
	"github.com/dgraph-io/badger/v2/options"

	journaldb "github.com/phat-tools/cluster-deployer/db"
	"github.com/phat-tools/cluster-deployer/log"
)

// closeGCRatio is the discard ratio of the value log pass run on Close.
const closeGCRatio = 0.5

var logger *extendedLog

var _ journaldb.DB = (*DB)(nil)

// DB is a journal store on disk.
type DB struct {
	db  *badger.DB
	dir string
}

// NewDB opens the journal in dir, creating it when missing.
func NewDB(dir string) (*DB, error) {
	if logger == nil {
		logger = &extendedLog{Logger: log.NewLogger("db")}
	}
	opts := badger.DefaultOptions(dir)
	// a journal holds a few hundred records; read files instead of mapping them
	opts.ValueLogLoadingMode = options.FileIO
	opts.TableLoadingMode = options.FileIO
	opts.Logger = logger

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &DB{db: db, dir: dir}, nil
}

func (db *DB) Type() string {
	return "badgerdb"
}

func (db *DB) Set(namespace []byte, key []byte, value []byte) error {
	key = journaldb.ConvNilToBytes(journaldb.PrependNamespace(namespace, key))
	return db.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, journaldb.ConvNilToBytes(value))
	})
}

func (db *DB) Delete(namespace []byte, key []byte) error {
	key = journaldb.ConvNilToBytes(journaldb.PrependNamespace(namespace, key))
	return db.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (db *DB) Get(namespace []byte, key []byte) ([]byte, bool, error) {
	var value []byte
	err := db.view(namespace, key, func(item *badger.Item) (err error) {
		value, err = item.ValueCopy(nil)
		return err
	})
	switch {
	case err == badger.ErrKeyNotFound:
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return value, true, nil
}

func (db *DB) Exist(namespace []byte, key []byte) (bool, error) {
	err := db.view(namespace, key, func(*badger.Item) error { return nil })
	switch {
	case err == badger.ErrKeyNotFound:
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

func (db *DB) view(namespace []byte, key []byte, fn func(*badger.Item) error) error {
	key = journaldb.ConvNilToBytes(journaldb.PrependNamespace(namespace, key))
	return db.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return fn(item)
	})
}

// Scan walks the namespace with a read-only iterator.
func (db *DB) Scan(namespace []byte, fn func(key []byte, value []byte) error) error {
	prefix := journaldb.PrependNamespace(namespace, nil)
	return db.db.View(func(txn *badger.Txn) error {
		opt := badger.DefaultIteratorOptions
		opt.Prefix = prefix
		iter := txn.NewIterator(opt)
		defer iter.Close()

		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			item := iter.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			key, _ := journaldb.StripNamespace(namespace, item.KeyCopy(nil))
			if err := fn(key, value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close compacts the value log once and closes the store.
func (db *DB) Close() error {
	if err := db.db.RunValueLogGC(closeGCRatio); err != nil && err != badger.ErrNoRewrite {
		logger.Warn().Str("dir", db.dir).Err(err).Msg("Value log GC failed")
	}
	return db.db.Close()
}

func (db *DB) NewTx() journaldb.Transaction {
	return newTransaction(db)
}
