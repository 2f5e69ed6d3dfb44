package db

import "bytes"

var (
	NamespaceCode     = []byte("code")
	NamespaceCluster  = []byte("cluster")
	NamespaceContract = []byte("contract")
	NamespaceDriver   = []byte("driver")
	NamespaceRun      = []byte("run")
	EmptyKey          = []byte{}
	Separator         = []byte("|")
)

// PrependNamespace returns namespace|key in a fresh slice.
func PrependNamespace(namespace []byte, key []byte) []byte {
	if namespace == nil {
		return key
	}
	out := make([]byte, 0, len(namespace)+len(Separator)+len(key))
	out = append(out, namespace...)
	out = append(out, Separator...)
	return append(out, key...)
}

// StripNamespace returns the key part of a namespaced key, or false when the key
// is not in namespace.
func StripNamespace(namespace []byte, key []byte) ([]byte, bool) {
	prefix := PrependNamespace(namespace, nil)
	if !bytes.HasPrefix(key, prefix) {
		return nil, false
	}
	return key[len(prefix):], true
}

func ConvNilToBytes(byteArray []byte) []byte {
	if byteArray == nil {
		return []byte{}
	}
	return byteArray
}
