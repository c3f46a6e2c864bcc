package badger

import (
	"encoding/binary"

	"github.com/poiesic/docqa/core"
)

// Key prefixes for different data types
const (
	passagePrefix = "psg:"
)

// makePassageKey generates a key for a passage by ID.
// Format: prefix + big-endian ID, so iteration order is stable.
func makePassageKey(id core.ID) []byte {
	buf := make([]byte, len(passagePrefix)+8)
	offset := copy(buf, passagePrefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}
