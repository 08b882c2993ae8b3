// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package acquire

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Thermoquad/gyrostat/pkg/gx3"
)

// Sample is one verified record as delivered to subscribers.
type Sample struct {
	SessionID uuid.UUID
	Seq       uint64
	Received  time.Time
	Record    gx3.Record
}

// Broker fans samples out to subscribers. Publish never blocks: a
// subscriber whose buffer is full misses the sample.
type Broker struct {
	mu      sync.RWMutex
	subs    map[int]chan Sample
	nextID  int
	buffer  int
	latest  map[byte]Sample
	last    Sample
	hasLast bool
	closed  bool
	dropped uint64
}

// NewBroker creates a broker whose subscriptions buffer up to buffer samples.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 1
	}
	return &Broker{
		subs:   make(map[int]chan Sample),
		buffer: buffer,
		latest: make(map[byte]Sample),
	}
}

// Subscribe returns a channel of samples and a function that cancels the
// subscription. The channel is closed on cancel or when the broker closes.
func (b *Broker) Subscribe() (<-chan Sample, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Sample, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers s to every subscriber with room for it and returns the
// number of subscribers that missed it.
func (b *Broker) Publish(s Sample) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}

	b.last = s
	b.hasLast = true
	if s.Record != nil {
		b.latest[s.Record.Command()] = s
	}

	missed := 0
	for _, ch := range b.subs {
		select {
		case ch <- s:
		default:
			missed++
		}
	}
	b.dropped += uint64(missed)
	return missed
}

// Latest returns the most recent sample.
func (b *Broker) Latest() (Sample, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.last, b.hasLast
}

// LatestFor returns the most recent sample carrying record cmd.
func (b *Broker) LatestFor(cmd byte) (Sample, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.latest[cmd]
	return s, ok
}

// Subscribers returns the number of active subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped for slow subscribers.
func (b *Broker) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Close ends every subscription. Later publishes are ignored.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
