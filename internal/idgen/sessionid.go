// Package idgen generates session identifiers.
//
// No ULID library appears anywhere in the example pack (the nearest
// relative, github.com/google/uuid, produces unsortable v4 ids), so
// the Crockford base32 ULID layout (48-bit millisecond timestamp + 80
// bits of randomness, monotonic within the same millisecond) is
// implemented directly against crypto/rand. See DESIGN.md for why this
// one component is stdlib-only rather than dependency-grounded.
package idgen

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"
)

const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// SessionID is a monotonically sortable, lexically ordered identifier
// chosen once at session start (spec §3).
type SessionID string

var (
	mu         sync.Mutex
	lastMillis int64
	lastRand   [10]byte
)

// New returns a fresh session id. Calls within the same millisecond
// increment the random component instead of drawing a fresh one, so
// ids generated in a tight loop remain strictly increasing.
func New() SessionID {
	mu.Lock()
	defer mu.Unlock()

	now := time.Now().UnixMilli()
	if now <= lastMillis {
		now = lastMillis
		incrementRandom()
	} else {
		lastMillis = now
		if _, err := rand.Read(lastRand[:]); err != nil {
			// crypto/rand failure is unrecoverable; fall back to a
			// time-seeded value rather than panic mid-session.
			for i := range lastRand {
				lastRand[i] = byte(now >> (8 * (i % 8)))
			}
		}
	}

	var buf [16]byte
	buf[0] = byte(now >> 40)
	buf[1] = byte(now >> 32)
	buf[2] = byte(now >> 24)
	buf[3] = byte(now >> 16)
	buf[4] = byte(now >> 8)
	buf[5] = byte(now)
	copy(buf[6:], lastRand[:])

	return SessionID(encode(buf))
}

func incrementRandom() {
	for i := len(lastRand) - 1; i >= 0; i-- {
		lastRand[i]++
		if lastRand[i] != 0 {
			break
		}
	}
}

// encode renders 16 bytes (a 48-bit timestamp followed by 80 bits of
// randomness, packed as above) as a 26-character Crockford base32
// string, the standard ULID text form: 10 characters for the
// timestamp, 16 for the randomness.
func encode(data [16]byte) string {
	var out [26]byte
	out[0] = crockford[(data[0]&224)>>5]
	out[1] = crockford[data[0]&31]
	out[2] = crockford[(data[1]&248)>>3]
	out[3] = crockford[((data[1]&7)<<2)|((data[2]&192)>>6)]
	out[4] = crockford[(data[2]&62)>>1]
	out[5] = crockford[((data[2]&1)<<4)|((data[3]&240)>>4)]
	out[6] = crockford[((data[3]&15)<<1)|((data[4]&128)>>7)]
	out[7] = crockford[(data[4]&124)>>2]
	out[8] = crockford[((data[4]&3)<<3)|((data[5]&224)>>5)]
	out[9] = crockford[data[5]&31]

	// Encode the remaining 10 bytes (80 bits of randomness) 5 bits at a time.
	bitbuf := uint64(0)
	bits := 0
	pos := 10
	for _, b := range data[6:] {
		bitbuf = (bitbuf << 8) | uint64(b)
		bits += 8
		for bits >= 5 {
			bits -= 5
			out[pos] = crockford[(bitbuf>>uint(bits))&0x1F]
			pos++
		}
	}
	return string(out[:])
}

// String implements fmt.Stringer.
func (id SessionID) String() string { return string(id) }

// Valid reports whether id has the expected 26-character ULID shape.
func (id SessionID) Valid() bool {
	return len(id) == 26
}

// Must panics if id is empty; used where callers have already
// validated configuration and a blank session id indicates a
// programmer error, not recoverable runtime state.
func Must(id SessionID) SessionID {
	if id == "" {
		panic(fmt.Sprintf("idgen: empty session id"))
	}
	return id
}
