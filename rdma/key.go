package rdma

import (
	"encoding/binary"
	"github.com/minio/highwayhash"
)

// AccessKeyLen is the length of the secret access keys are derived from.
const AccessKeyLen = highwayhash.Size

// AccessKey derives the key a peer must present to read [addr, addr+length)
// on node. It is the low half of a keyed HighwayHash-64 so keys cannot be
// guessed from the descriptor alone.
func AccessKey(secret []byte, node uint32, addr, length uint64) uint32 {
	var buf [20]byte
	binary.LittleEndian.PutUint32(buf[0:], node)
	binary.LittleEndian.PutUint64(buf[4:], addr)
	binary.LittleEndian.PutUint64(buf[12:], length)
	return uint32(highwayhash.Sum64(buf[:], secret))
}
