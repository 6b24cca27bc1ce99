package gateway

import (
	"fmt"
	"sync/atomic"
)

// Pool is the ordered set of RPC endpoint URLs with a shared rotation cursor.
// The cursor is global: every caller, including retries already in flight,
// observes the same active endpoint.
type Pool struct {
	urls   []string
	cursor atomic.Int64
}

func NewPool(urls []string) (*Pool, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("endpoint pool requires at least one RPC endpoint")
	}
	return &Pool{urls: urls}, nil
}

// Current returns the active endpoint URL.
func (p *Pool) Current() string {
	return p.urls[p.Index()]
}

// Snapshot returns the active cursor position and its URL as one observation.
func (p *Pool) Snapshot() (int, string) {
	i := p.Index()
	return i, p.urls[i]
}

// Index returns the active cursor position, always in [0, Size()).
func (p *Pool) Index() int {
	return int(p.cursor.Load())
}

// Rotate advances the cursor to the next endpoint, wrapping around.
func (p *Pool) Rotate() {
	for {
		cur := p.cursor.Load()
		next := (cur + 1) % int64(len(p.urls))
		if p.cursor.CompareAndSwap(cur, next) {
			return
		}
	}
}

// Size returns the number of endpoints in the pool.
func (p *Pool) Size() int {
	return len(p.urls)
}
