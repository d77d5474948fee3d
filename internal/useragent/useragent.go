// Package useragent hands out a deterministic round-robin User-Agent string
// for outbound provider requests.
package useragent

import "sync/atomic"

var pool = [4]string{
	"llm-gateway/1.0",
	"llm-gateway-cli/1.0",
	"llm-gateway-dashboard/1.0",
	"llm-gateway-worker/1.0",
}

// Pool cycles deterministically through a fixed set of client identifiers.
type Pool struct {
	counter atomic.Uint64
}

// New returns a ready-to-use Pool.
func New() *Pool {
	return &Pool{}
}

// Next returns the next User-Agent string in round-robin order.
func (p *Pool) Next() string {
	i := p.counter.Add(1) - 1
	return pool[i%uint64(len(pool))]
}
