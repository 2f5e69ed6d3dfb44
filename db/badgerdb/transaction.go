package badgerdb

import (
	"time"

	"github.com/dgraph-io/badger/v2"

	journaldb "github.com/phat-tools/cluster-deployer/db"
	"github.com/phat-tools/cluster-deployer/log"
)

const slowCommitThreshold = 100 * time.Millisecond

// Transaction batches journal writes into one badger update.
type Transaction struct {
	db      *DB
	tx      *badger.Txn
	created time.Time
	ops     uint
}

func newTransaction(db *DB) *Transaction {
	return &Transaction{db: db, tx: db.db.NewTransaction(true), created: time.Now()}
}

func (t *Transaction) Set(namespace []byte, key []byte, value []byte) error {
	key = journaldb.ConvNilToBytes(journaldb.PrependNamespace(namespace, key))
	if err := t.tx.Set(key, journaldb.ConvNilToBytes(value)); err != nil {
		return err
	}
	t.ops++
	return nil
}

func (t *Transaction) Delete(namespace []byte, key []byte) error {
	key = journaldb.ConvNilToBytes(journaldb.PrependNamespace(namespace, key))
	if err := t.tx.Delete(key); err != nil {
		return err
	}
	t.ops++
	return nil
}

func (t *Transaction) Commit() error {
	start := time.Now()
	err := t.tx.Commit()
	if took := time.Since(start); took > slowCommitThreshold {
		logger.Warn().Str("dir", t.db.dir).Str("caller", log.SkipCaller(2)).
			Dur("openFor", start.Sub(t.created)).Dur("took", took).Uint("ops", t.ops).
			Msg("Slow journal commit")
	}
	return err
}

func (t *Transaction) Discard() {
	t.tx.Discard()
}
