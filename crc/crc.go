// Package crc implements the masked CRC-32C checksum stored in block trailers.
//
// The stored value is the CRC rotated and offset by a constant. Writers and
// readers both go through Value, never through the raw CRC.
package crc

import "hash/crc32"

var table = crc32.MakeTable(crc32.Castagnoli)

const maskDelta = 0xa282ead8

// CRC is a running CRC-32C.
type CRC uint32

// New returns the CRC of b.
func New(b []byte) CRC {
	return CRC(0).Update(b)
}

// Update extends the CRC with b.
func (c CRC) Update(b []byte) CRC {
	return CRC(crc32.Update(uint32(c), table, b))
}

// Value returns the masked checksum.
func (c CRC) Value() uint32 {
	return uint32(c>>15|c<<17) + maskDelta
}

// Unmask reverses Value.
func Unmask(v uint32) uint32 {
	rot := v - maskDelta
	return rot>>17 | rot<<15
}
