package util

import "bytes"

// Comparator orders keys within blocks and across the index.
type Comparator interface {
	Compare(key1, key2 []byte) int
	Name() string
}

type bytewiseComparator struct{}

func (bytewiseComparator) Compare(key1, key2 []byte) int {
	return bytes.Compare(key1, key2)
}

func (bytewiseComparator) Name() string {
	return "leveldb.BytewiseComparator"
}

// BytewiseComparator orders keys lexicographically.
var BytewiseComparator Comparator = bytewiseComparator{}

// SharedPrefixLen returns the length of the common prefix of a and b.
func SharedPrefixLen(a, b []byte) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}
