package protocol

import "hash/crc32"

// CRC32 returns the IEEE 802.3 CRC-32 of data, the checksum the runtime
// stores in the last word of the record.
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
