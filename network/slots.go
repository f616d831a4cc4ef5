package network

import (
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

// transport is what a slot holds on to between transactions: a round
// tripper whose idle connections can be torn down.
type transport interface {
	http.RoundTripper
	CloseIdleConnections()
}

// Slot is one reusable persistent-connection record. The transport is
// created lazily, reused across transactions while the server keeps the
// connection open, and closed on error, on Connection: close, or when
// the trust configuration it was built with goes stale.
type Slot struct {
	index int

	// tag is a small stable string attached to every request issued in
	// this slot (as the X-Webdav-Connection header) so connection reuse
	// can be traced per slot.
	tag string

	// Guarded by the pool mutex.
	inUse bool

	// The fields below are only touched by the transaction (or the
	// background download finisher) currently owning the slot.
	transport       transport
	transportGen    uint64
	connectionClose bool

	// body is the remaining response body when a GET is handed off to
	// the background download finisher.
	body io.ReadCloser
}

// Tag returns the slot's unique tag.
func (s *Slot) Tag() string {
	return s.tag
}

// closeTransport drops the slot's persistent connection.
func (s *Slot) closeTransport() {
	if s.transport != nil {
		s.transport.CloseIdleConnections()
		s.transport = nil
	}
	s.connectionClose = false
}

// SlotPool is the fixed table of stream slots: one per request thread
// plus one for the keep-alive pulse.
type SlotPool struct {
	mu    sync.Mutex
	slots []*Slot
}

// NewSlotPool returns a pool of n+1 slots.
func NewSlotPool(n int) *SlotPool {
	p := &SlotPool{}
	for i := 0; i <= n; i++ {
		p.slots = append(p.slots, &Slot{
			index: i,
			tag:   strconv.Itoa(i),
		})
	}
	return p
}

// Acquire returns a slot that is not in use, preferring one whose
// transport is still alive. The external request queue bounds the number
// of concurrent transactions, so running out of slots is an invariant
// violation, not a condition to wait on.
func (p *SlotPool) Acquire() (*Slot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstClosed *Slot
	for _, s := range p.slots {
		if s.inUse {
			continue
		}
		if s.transport != nil {
			s.inUse = true
			return s, nil
		}
		if firstClosed == nil {
			firstClosed = s
		}
	}
	if firstClosed == nil {
		return nil, errors.New("all stream slots in use")
	}
	firstClosed.inUse = true
	return firstClosed, nil
}

// Release makes the slot available again.
func (p *SlotPool) Release(s *Slot) {
	p.mu.Lock()
	s.inUse = false
	p.mu.Unlock()
}
