package rpcstub

import (
	"sync/atomic"

	"github.com/flicker-im/fabric/internal/fkerr"
)

// StubPool is the per-service-kind pool of pre-dialed stubs from spec
// section 4 ("RpcStubPool"): every stub is dialed eagerly at construction
// and picked round-robin, so a caller never pays dial latency on the hot
// path and a single slow/broken Status replica doesn't monopolize
// traffic.
type StubPool struct {
	stubs []*TokenStub
	next  uint64
}

// NewStubPool dials every target eagerly; if any dial fails the whole pool
// construction fails and any stubs already dialed are closed.
func NewStubPool(targets []string) (*StubPool, error) {
	stubs := make([]*TokenStub, 0, len(targets))
	for _, t := range targets {
		s, err := Dial(t)
		if err != nil {
			for _, opened := range stubs {
				opened.Close()
			}
			return nil, err
		}
		stubs = append(stubs, s)
	}
	if len(stubs) == 0 {
		return nil, fkerr.ErrRPCUnavailable
	}
	return &StubPool{stubs: stubs}, nil
}

// Next returns the next stub in round-robin order.
func (p *StubPool) Next() *TokenStub {
	i := atomic.AddUint64(&p.next, 1) - 1
	return p.stubs[int(i)%len(p.stubs)]
}

// Close closes every stub in the pool.
func (p *StubPool) Close() {
	for _, s := range p.stubs {
		s.Close()
	}
}
