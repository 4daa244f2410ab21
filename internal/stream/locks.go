package stream

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"marketstream/internal/market"
)

const lockStripes = 64

// keyLocks serializes work on a single channel key without a global lock.
// Keys are striped by hash, so unrelated keys rarely contend.
type keyLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *keyLocks) lock(key market.ChannelKey) (unlock func()) {
	m := &l.stripes[xxhash.Sum64String(key.String())%lockStripes]
	m.Lock()
	return m.Unlock
}
