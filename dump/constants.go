// Package dump implements the binary on-disk snapshot format: a
// restricted subset of the Redis RDB format, pared down to exactly what
// this server persists (string values only, a single database section,
// no compressed or structured object types).
package dump

// Magic is the 5-byte signature every dump file begins with.
const Magic = "REDIS"

// Version is the 4-ASCII-digit version string written after Magic. Kept
// fixed at "0011"; Read does not inspect the version digits, and the CRC
// trailer is always written and read regardless of version.
const Version = "0011"

const (
	magicLen   = len(Magic)
	versionLen = len(Version)
	headerLen  = magicLen + versionLen
	crcLen     = 8
)

// opcode is a byte that introduces a dump-file section or entry.
type opcode byte

const (
	opMetadata  opcode = 0xFA // aux key/value pair, consumed but not applied
	opSelectDB  opcode = 0xFE // begin a database section
	opResizeDB  opcode = 0xFB // (db_size, expire_size) size hint
	opExpireSec opcode = 0xFD // 4-byte little-endian expiry, seconds since epoch
	opExpireMs  opcode = 0xFC // 8-byte little-endian expiry, ms since epoch
	opEOF       opcode = 0xFF // end of file, followed by the CRC-64 trailer
)

// valueType tags the type of a stored value. Only TypeString is supported
// by this server; any other byte is a format error.
type valueType byte

const (
	// TypeString is the sole supported value type: a plain string.
	TypeString valueType = 0x00
)

// Length-encoding flag bits: the first byte's top two bits select the
// encoding the rest of the length (and any following bytes) use.
const (
	lenFlag6Bit    = 0
	lenFlag14Bit   = 1
	lenFlag32Bit   = 2
	lenFlagSpecial = 3
)

// Special string-encoding tags used when lenFlagSpecial is set: the
// value is a small integer stored in place of a length-prefixed byte
// string. Tag 0 is a single unsigned byte; tags 1 and 2 are signed.
const (
	specialUint8 = 0
	specialInt16 = 1
	specialInt32 = 2
)
