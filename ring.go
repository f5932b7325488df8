// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

package adc

// ring is a fixed size circular buffer of samples.
// When full, a push overwrites the oldest sample.
type ring struct {
	elems []Sample
	r     uint64
	w     uint64
}

// newRing creates a ring with capacity rounded up to a power of two.
func newRing(capacity int) *ring {
	c := 1
	for c < capacity {
		c <<= 1
	}
	return &ring{elems: make([]Sample, c)}
}

func (b *ring) cap() uint64 {
	return uint64(len(b.elems))
}

func (b *ring) len() int {
	return int(b.w - b.r)
}

func (b *ring) empty() bool {
	return b.r == b.w
}

func (b *ring) full() bool {
	return b.w-b.r == b.cap()
}

// push adds a sample, returning true if the oldest sample was overwritten.
func (b *ring) push(s Sample) bool {
	overwrote := b.full()
	if overwrote {
		b.r++
	}
	b.elems[b.w&(b.cap()-1)] = s
	b.w++
	return overwrote
}

func (b *ring) pop() (Sample, bool) {
	if b.empty() {
		return Sample{}, false
	}
	s := b.elems[b.r&(b.cap()-1)]
	b.r++
	return s, true
}
