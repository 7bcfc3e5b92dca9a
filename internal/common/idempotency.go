package common

import (
	"crypto/rand"
	"encoding/binary"
	"strconv"
	"time"
)

// NewIdempotencyKey returns a key of the form {epoch-millis}-{random-base36}
// for the Idempotency-Key header.
func NewIdempotencyKey() string {
	return idempotencyKeyAt(time.Now())
}

func idempotencyKeyAt(now time.Time) string {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	suffix := binary.BigEndian.Uint64(buf[:])
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + strconv.FormatUint(suffix, 36)
}
