package lanterndb

import "encoding/binary"

// encodeValueID and decodeValueID are the little-endian 8-byte encoding
// transaction ops use to carry a blob id as a txn.Op.Value, mirroring how
// internal/btree leaf entries store the same id in their Values list — see
// internal/cursor.Cursor.Value, which decodes a pending op's value the
// same way.
func encodeValueID(id uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, id)
	return buf
}

func decodeValueID(b []byte) uint64 {
	if len(b) < 8 {
		return 0
	}
	return binary.LittleEndian.Uint64(b[:8])
}
