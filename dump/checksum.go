package dump

import (
	"hash/crc64"
	"math/bits"
	"sync"
)

// crcPoly is the "Redis" CRC-64 polynomial (Jones variant), the same one
// upstash-rdb/checksum.go uses so that dumps verify against Redis's own
// checksums.
const crcPoly uint64 = 0xAD93D23594C935A9

var (
	crcTableOnce sync.Once
	crcTable     *crc64.Table
)

func table() *crc64.Table {
	crcTableOnce.Do(func() {
		t := new(crc64.Table)
		for i := 0; i < 256; i++ {
			var bit, crc uint64
			for j := uint8(1); j&0xFF != 0; j <<= 1 {
				bit = crc & 0x8000000000000000
				if uint8(i)&j != 0 {
					if bit == 0 {
						bit = 1
					} else {
						bit = 0
					}
				}
				crc <<= 1
				if bit != 0 {
					crc ^= crcPoly
				}
			}
			t[i] = bits.Reverse64(crc)
		}
		crcTable = t
	})
	return crcTable
}

// updateCRC folds payload into the running CRC-64 checksum crc (start
// with 0 for a fresh checksum). Go's hash/crc64 pre/post-inverts its
// running value; Redis's CRC-64 does not, so the inversion is undone on
// both ends of crc64.Update, exactly as upstash-rdb's getCRC does.
func updateCRC(crc uint64, payload []byte) uint64 {
	return ^crc64.Update(^crc, table(), payload)
}
