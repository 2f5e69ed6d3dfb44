package db

// DB is a namespaced key-value store backing the deployment journal
type DB interface {
	Type() string
	Set(namespace []byte, key []byte, value []byte) error
	Delete(namespace []byte, key []byte) error
	Get(namespace []byte, key []byte) ([]byte, bool, error)
	Exist(namespace []byte, key []byte) (bool, error)
	// Scan calls fn for every key of namespace in ascending key order. The key passed
	// to fn has the namespace stripped.
	Scan(namespace []byte, fn func(key []byte, value []byte) error) error
	NewTx() Transaction
	Close() error
}

// Transaction is used to batch multiple operations
type Transaction interface {
	Set(namespace []byte, key []byte, value []byte) error
	Delete(namespace []byte, key []byte) error
	Commit() error
	Discard()
}
