package correlator

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// IDGenerator issues request ids that are unique for the life of the process.
//
// Format: <session>-<counter>-<unix ms>. The session prefix is random per generator so
// ids from two clients talking to the same service do not collide either.
type IDGenerator struct {
	session string
	counter atomic.Uint64
	now     func() time.Time
}

// NewIDGenerator creates a generator with a fresh session prefix.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{
		session: uuid.NewString()[:8],
		now:     time.Now,
	}
}

// Session returns the random prefix shared by every id from this generator.
func (g *IDGenerator) Session() string {
	return g.session
}

// Next returns a new request id.
func (g *IDGenerator) Next() string {
	n := g.counter.Add(1)
	return g.session + "-" + strconv.FormatUint(n, 10) + "-" + strconv.FormatInt(g.now().UnixMilli(), 10)
}
