package thrift

import "github.com/relaymesh/dataplane/pkg/buffer"

// peekVarintAt scans a base-128 varint starting at byte offset in buf
// without consuming anything. It reports needMore when buf doesn't yet
// hold a complete varint, or err when the varint exceeds maxBytes
// (malformed, not incomplete).
func peekVarintAt(buf *buffer.Buffer, offset, maxBytes int) (value uint64, n int, needMore bool, err error) {
	for n = 1; n <= maxBytes; n++ {
		b, ok := buf.PeekN(offset + n)
		if !ok {
			return 0, 0, true, nil
		}
		if b[offset+n-1]&0x80 == 0 {
			var v uint64
			for i := 0; i < n; i++ {
				v |= uint64(b[offset+i]&0x7f) << (7 * i)
			}
			return v, n, false, nil
		}
	}
	return 0, 0, false, frameErr(buf, "varint exceeds %d bytes", maxBytes)
}

func appendVarint(out []byte, v uint64) []byte {
	for v >= 0x80 {
		out = append(out, byte(v)|0x80)
		v >>= 7
	}
	return append(out, byte(v))
}

func zigzagEncode64(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

func zigzagDecode64(v uint64) int64 {
	return int64(v>>1) ^ -int64(v&1)
}
