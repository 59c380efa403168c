package domain

import (
	"encoding/binary"
	"hash/fnv"
	"strconv"
)

// Fingerprint is a cheap signature of the parts of a snapshot that matter for
// persistence: content and the message list. UpdatedAt and LastEditor are
// not part of it.
func Fingerprint(r Room) string {
	h := fnv.New64a()
	var n [8]byte

	binary.LittleEndian.PutUint64(n[:], uint64(len(r.Content)))
	h.Write(n[:])
	h.Write([]byte(r.Content))

	binary.LittleEndian.PutUint64(n[:], uint64(len(r.Messages)))
	h.Write(n[:])
	for _, m := range r.Messages {
		h.Write([]byte(m.ID))
		h.Write([]byte{0})
		h.Write([]byte(m.Role))
		if m.IsStreaming {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
		binary.LittleEndian.PutUint64(n[:], uint64(len(m.Text)))
		h.Write(n[:])
		h.Write([]byte(m.Text))
	}

	return strconv.FormatUint(h.Sum64(), 16)
}
