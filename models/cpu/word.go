package cpu

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// PutUint encodes val as a size-byte word in the given order. Word sizes
// follow the target: 1, 2, 4 or 8 bytes.
func PutUint(order binary.ByteOrder, size int, val uint64) ([]byte, error) {
	buf := make([]byte, size)
	switch size {
	case 1:
		buf[0] = byte(val)
	case 2:
		order.PutUint16(buf, uint16(val))
	case 4:
		order.PutUint32(buf, uint32(val))
	case 8:
		order.PutUint64(buf, val)
	default:
		return nil, errors.Errorf("bad word size %d", size)
	}
	return buf, nil
}

// GetUint decodes a size-byte word from the front of buf.
func GetUint(order binary.ByteOrder, size int, buf []byte) (uint64, error) {
	if len(buf) < size {
		return 0, errors.Errorf("short word: %d bytes, want %d", len(buf), size)
	}
	switch size {
	case 1:
		return uint64(buf[0]), nil
	case 2:
		return uint64(order.Uint16(buf)), nil
	case 4:
		return uint64(order.Uint32(buf)), nil
	case 8:
		return order.Uint64(buf), nil
	}
	return 0, errors.Errorf("bad word size %d", size)
}
