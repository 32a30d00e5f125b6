// Package buffer stages one device's message stream between the receive goroutine
// and a polling consumer.
//
// A Buffer is a three-slot ring with one writer and one reader. The mutex guards only
// the slot cursors and the updated flag; payload bytes are written and read outside
// the lock, which is safe because the writer never selects the slot the reader holds
// or the last completed slot.
//
// Writer protocol: StartPush, PushDeviceType, PushBuffer (fill the returned slice),
// then EndPush or AbortPush.
//
// Reader protocol: StartPull, PullDeviceType/PullSize/PullBuffer, EndPull. Data
// returned by PullBuffer is only valid until EndPull.
package buffer

import "sync"

// Slots is the ring capacity.
const Slots = 3

type slot struct {
	deviceType string
	payload    []byte
}

// Stats counts buffer activity over its lifetime. Overwrites counts completed pushes
// that replaced a completed push nobody pulled.
type Stats struct {
	Pushes     uint64 `json:"pushes"`
	Pulls      uint64 `json:"pulls"`
	Overwrites uint64 `json:"overwrites"`
}

type Buffer struct {
	mu      sync.Mutex
	last    int
	inPush  int
	inUse   int
	updated bool
	stats   Stats

	slots [Slots]slot
}

func New() *Buffer {
	return &Buffer{last: -1, inPush: -1, inUse: -1}
}

// StartPush selects the slot after the last completed write, skipping the slot held
// by the reader. The chosen slot is never the reader's nor the last completed one.
func (b *Buffer) StartPush() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := (b.last + 1) % Slots
	if next == b.inUse {
		next = (b.last + 2) % Slots
	}
	b.inPush = next
	return next
}

func (b *Buffer) PushDeviceType(deviceType string) {
	if b.inPush < 0 {
		return
	}
	b.slots[b.inPush].deviceType = deviceType
}

// PushBuffer returns the push slot's payload sized to size, reallocating only when the
// existing capacity is too small.
func (b *Buffer) PushBuffer(size int) []byte {
	if b.inPush < 0 {
		return nil
	}
	s := &b.slots[b.inPush]
	if cap(s.payload) < size {
		s.payload = make([]byte, size)
	} else {
		s.payload = s.payload[:size]
	}
	return s.payload
}

// EndPush publishes the push slot as the latest value.
func (b *Buffer) EndPush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inPush < 0 {
		return
	}
	if b.updated {
		b.stats.Overwrites++
	}
	b.last = b.inPush
	b.inPush = -1
	b.updated = true
	b.stats.Pushes++
}

// AbortPush releases the push slot without publishing it.
func (b *Buffer) AbortPush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inPush = -1
}

// StartPull pins the latest completed slot for reading and clears the updated flag.
// It returns -1 when nothing has been pushed yet.
func (b *Buffer) StartPull() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inUse = b.last
	b.updated = false
	if b.last >= 0 {
		b.stats.Pulls++
	}
	return b.last
}

func (b *Buffer) PullDeviceType() string {
	if b.inUse < 0 {
		return ""
	}
	return b.slots[b.inUse].deviceType
}

func (b *Buffer) PullSize() int {
	if b.inUse < 0 {
		return 0
	}
	return len(b.slots[b.inUse].payload)
}

func (b *Buffer) PullBuffer() []byte {
	if b.inUse < 0 {
		return nil
	}
	return b.slots[b.inUse].payload
}

func (b *Buffer) EndPull() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inUse = -1
}

// IsUpdated reports whether a push completed since the last StartPull.
func (b *Buffer) IsUpdated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.updated
}

func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}
