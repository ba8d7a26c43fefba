package store

import "encoding/binary"

// Prefix constants for all store types
const (
	prefixSnapshot byte = iota + 1
	prefixMeta
)

var keyProgramID = []byte{prefixMeta, 'p'}

// makeKey creates a key from a prefix and a big-endian id, so that keys
// sort in id order.
func makeKey(prefix byte, id uint32) []byte {
	key := make([]byte, 5)
	key[0] = prefix
	binary.BigEndian.PutUint32(key[1:], id)
	return key
}
