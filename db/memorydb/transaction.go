package memorydb

import (
	"errors"
	"sync"

	"github.com/phat-tools/cluster-deployer/db"
)

type Transaction struct {
	txLock    sync.Mutex
	db        *DB
	ops       []txOp
	isDiscard bool
	isCommit  bool
}

type txOp struct {
	isSet bool
	key   []byte
	value []byte
}

func (transaction *Transaction) Set(namespace []byte, key []byte, value []byte) error {
	transaction.txLock.Lock()
	defer transaction.txLock.Unlock()

	key = db.ConvNilToBytes(db.PrependNamespace(namespace, key))
	transaction.ops = append(transaction.ops, txOp{true, key, append([]byte{}, value...)})
	return nil
}

func (transaction *Transaction) Delete(namespace []byte, key []byte) error {
	transaction.txLock.Lock()
	defer transaction.txLock.Unlock()

	key = db.ConvNilToBytes(db.PrependNamespace(namespace, key))
	transaction.ops = append(transaction.ops, txOp{false, key, nil})
	return nil
}

func (transaction *Transaction) Commit() error {
	transaction.txLock.Lock()
	defer transaction.txLock.Unlock()

	if transaction.isDiscard {
		return errors.New("commit after discard is not allowed")
	} else if transaction.isCommit {
		return errors.New("transaction already committed")
	}

	mdb := transaction.db
	mdb.lock.Lock()
	defer mdb.lock.Unlock()

	for _, op := range transaction.ops {
		if op.isSet {
			mdb.db[string(op.key)] = op.value
		} else {
			delete(mdb.db, string(op.key))
		}
	}

	transaction.isCommit = true
	return nil
}

func (transaction *Transaction) Discard() {
	transaction.txLock.Lock()
	defer transaction.txLock.Unlock()

	transaction.isDiscard = true
}
