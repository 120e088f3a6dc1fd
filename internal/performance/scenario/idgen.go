package scenario

import (
	"crypto/rand"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewUniqueID returns an identifier that is unique across VUs, iterations
// and concurrent callers for the lifetime of a run: the VU number followed
// by a ULID (48-bit millisecond timestamp + 80 bits from crypto/rand).
// It keeps no state and needs no coordination between goroutines.
func NewUniqueID(vu int) string {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader)
	return strconv.Itoa(vu) + "-" + id.String()
}

// NewUUID returns a random (v4) UUID string.
func NewUUID() string {
	return uuid.NewString()
}
