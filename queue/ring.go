// Package queue implements a fixed-capacity single-producer/
// single-consumer byte queue that hands out zero-copy grants rather
// than copying frames in and out.
//
// Grounded on the `BBFullDuplex`/bbqueue framed-grant API in
// crates/spi/src/lib.rs and crates/spi/src/arbitrator.rs. bbqueue
// itself has no Go equivalent anywhere in the retrieval pack, so this
// ring is hand-rolled rather than imported — the one core module
// built on the standard library alone, per the grounding ledger in
// DESIGN.md. Rather than bbqueue's single byte-addressable ring with
// in-place wraparound splicing, Ring statically reserves a fixed
// number of fixed-size frame slots and cycles through them with
// atomic head/tail counters: true lock-free SPSC, and a static-sizing
// strategy at least as natural for a small embedded peer as one big
// ring (an SPI link's bounded body size is exactly this package's
// slot size in that role).
package queue

import (
	"sync/atomic"

	"github.com/juju/errors"
)

// slotFree, slotReserved are sentinel lengths stored per slot.
// Non-negative values are a committed frame's byte length.
const (
	slotFree     int32 = -1
	slotReserved int32 = -2
)

// ErrFull is returned by Grant when every slot is currently occupied
// by a committed, unread frame.
var ErrFull = errors.New("anachro: queue full")

// ErrBusy is returned by Grant when a previous grant has not yet been
// committed or dropped.
var ErrBusy = errors.New("anachro: grant already outstanding")

// ErrGrantTooLarge is returned by Grant when size exceeds the ring's
// fixed slot size.
var ErrGrantTooLarge = errors.New("anachro: grant larger than slot size")

// Ring is a fixed-capacity single-producer/single-consumer framed
// byte queue: a static pool of slotCount buffers, each slotSize
// bytes, cycled through by atomic head/tail counters.
type Ring struct {
	slots    [][]byte
	lens     []int32
	slotSize int

	head uint64 // next slot index for the consumer to read
	tail uint64 // next slot index for the producer to write

	reserved bool // producer-only; no concurrent writer to race with
}

// NewRing constructs a Ring holding up to slotCount frames of at most
// slotSize bytes each.
func NewRing(slotCount, slotSize int) *Ring {
	slots := make([][]byte, slotCount)
	lens := make([]int32, slotCount)
	for i := range slots {
		slots[i] = make([]byte, slotSize)
		lens[i] = slotFree
	}
	return &Ring{slots: slots, lens: lens, slotSize: slotSize}
}

// Capacity returns the number of frame slots.
func (r *Ring) Capacity() int { return len(r.slots) }

// SlotSize returns the fixed maximum frame size.
func (r *Ring) SlotSize() int { return r.slotSize }

// WriteGrant is a reserved, not-yet-committed slot. The caller must
// fill it and call Commit, or Drop it to release the reservation
// without publishing a frame.
type WriteGrant struct {
	ring *Ring
	slot int
	buf  []byte
	done bool
}

// Bytes returns the grant's backing slice, sized exactly to the
// request passed to Grant.
func (g *WriteGrant) Bytes() []byte { return g.buf }

// Commit publishes the first n bytes of the grant as a single frame.
// n must be <= len(g.Bytes()).
func (g *WriteGrant) Commit(n int) error {
	if g.done {
		return errors.Errorf("anachro: grant already committed or dropped")
	}
	if n < 0 || n > len(g.buf) {
		return errors.Errorf("anachro: commit length %d out of range [0,%d]", n, len(g.buf))
	}
	g.done = true
	atomic.StoreInt32(&g.ring.lens[g.slot], int32(n))
	atomic.AddUint64(&g.ring.tail, 1)
	g.ring.reserved = false
	return nil
}

// Drop releases the grant's slot without publishing a frame, exactly
// as an aborted DMA transfer must release its grant without a commit.
func (g *WriteGrant) Drop() {
	if g.done {
		return
	}
	g.done = true
	atomic.StoreInt32(&g.ring.lens[g.slot], slotFree)
	g.ring.reserved = false
}

// ReadGrant is a committed frame borrowed from the ring. The caller
// must call Release once it no longer needs the data, reclaiming the
// slot for future writes.
type ReadGrant struct {
	ring     *Ring
	slot     int
	buf      []byte
	released bool
}

// Bytes returns the frame's contents.
func (g *ReadGrant) Bytes() []byte { return g.buf }

// Release reclaims the frame's slot.
func (g *ReadGrant) Release() {
	if g.released {
		return
	}
	g.released = true
	atomic.StoreInt32(&g.ring.lens[g.slot], slotFree)
	atomic.AddUint64(&g.ring.head, 1)
}

// Grant reserves the next slot for writing a frame of at most size
// bytes. Only one grant may be outstanding (uncommitted) at a time.
func (r *Ring) Grant(size int) (*WriteGrant, error) {
	if size < 0 || size > r.slotSize {
		return nil, ErrGrantTooLarge
	}
	if r.reserved {
		return nil, ErrBusy
	}

	head := atomic.LoadUint64(&r.head)
	tail := atomic.LoadUint64(&r.tail)
	if tail-head >= uint64(len(r.slots)) {
		return nil, ErrFull
	}

	slot := int(tail % uint64(len(r.slots)))
	atomic.StoreInt32(&r.lens[slot], slotReserved)
	r.reserved = true
	return &WriteGrant{ring: r, slot: slot, buf: r.slots[slot][:size]}, nil
}

// Read returns the next committed frame, or (nil, false) if none is
// available.
func (r *Ring) Read() (*ReadGrant, bool) {
	head := atomic.LoadUint64(&r.head)
	tail := atomic.LoadUint64(&r.tail)
	if head == tail {
		return nil, false
	}

	slot := int(head % uint64(len(r.slots)))
	n := atomic.LoadInt32(&r.lens[slot])
	if n < 0 {
		// Committed but not yet visible on this core, or a stale
		// read; treat as not-yet-available rather than panic.
		return nil, false
	}
	return &ReadGrant{ring: r, slot: slot, buf: r.slots[slot][:n]}, true
}
