// Package queue implements the two bounded queues the router drains: the
// relay queue (LIFO; packets not addressed to this node) and the
// bundle-send queue (FIFO; locally originated bundles awaiting their next
// packet). Both drop
// the newest item on overflow; there is no back-pressure to the producer,
// since this is a best-effort radio.
package queue

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/peasec/spatz/internal/band"
	"github.com/peasec/spatz/internal/codec"
	"github.com/peasec/spatz/internal/sendbuf"
)

// RelayItem is one packet queued for relay at a chosen data rate, derived
// from the uplink's observed bandwidth/spreading factor.
type RelayItem struct {
	Packet   codec.Packet
	DataRate band.DataRate
}

// relayItemWire is RelayItem's JSON form: Packet is an interface, so it is
// carried as its encoded PHY bytes rather than its Go struct fields, and
// rebuilt through the same codec a radio uplink would be decoded through.
type relayItemWire struct {
	Phy      []byte        `json:"phy"`
	DataRate band.DataRate `json:"data_rate"`
}

// MarshalJSON encodes the item's packet as its wire-format PHY payload, for
// persistence across a restart.
func (r RelayItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(relayItemWire{Phy: codec.EncodePhy(r.Packet), DataRate: r.DataRate})
}

// UnmarshalJSON decodes a previously persisted item back into its typed
// packet.
func (r *RelayItem) UnmarshalJSON(data []byte) error {
	var wire relayItemWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	p, err := codec.DecodePhy(wire.Phy)
	if err != nil {
		return fmt.Errorf("queue: restore relay item: %w", err)
	}
	r.Packet = p
	r.DataRate = wire.DataRate
	return nil
}

// RelayQueue is a bounded LIFO of relay items: spec.md §4.7 point 1 pops
// the newest item first ("freshest first"), so relaying drains the most
// recently observed traffic ahead of older backlog.
type RelayQueue struct {
	mu       sync.Mutex
	items    []RelayItem
	capacity int
	dropped  uint64
}

// NewRelayQueue returns an empty relay queue bounded to capacity items.
func NewRelayQueue(capacity int) *RelayQueue {
	return &RelayQueue{capacity: capacity}
}

// Push appends item, dropping it silently (incrementing Dropped) if the
// queue is already at capacity.
func (q *RelayQueue) Push(item RelayItem) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		q.dropped++
		return true
	}
	q.items = append(q.items, item)
	return false
}

// Pop removes and returns the most recently pushed item, LIFO.
func (q *RelayQueue) Pop() (RelayItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return RelayItem{}, false
	}
	last := len(q.items) - 1
	item := q.items[last]
	q.items = q.items[:last]
	return item, true
}

// Len reports the number of items currently queued.
func (q *RelayQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped reports the cumulative number of items dropped for overflow.
func (q *RelayQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Snapshot returns every currently-queued item, oldest first, for
// persistence.
func (q *RelayQueue) Snapshot() []RelayItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]RelayItem, len(q.items))
	copy(out, q.items)
	return out
}

// Restore replaces the queue's contents with a previously captured
// snapshot (oldest first), discarding anything already present.
func (q *RelayQueue) Restore(items []RelayItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]RelayItem(nil), items...)
}

// BundleSendQueue is a bounded FIFO of locally-originated send buffers
// awaiting the router's attention. The head buffer is mutated in place as
// the router drains it packet by packet.
type BundleSendQueue struct {
	mu       sync.Mutex
	items    []*sendbuf.Buffer
	capacity int
	dropped  uint64
}

// NewBundleSendQueue returns an empty bundle-send queue bounded to
// capacity buffers.
func NewBundleSendQueue(capacity int) *BundleSendQueue {
	return &BundleSendQueue{capacity: capacity}
}

// Push enqueues buf, dropping it silently (incrementing Dropped) if the
// queue is already at capacity.
func (q *BundleSendQueue) Push(buf *sendbuf.Buffer) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		q.dropped++
		return true
	}
	q.items = append(q.items, buf)
	return false
}

// Head returns the oldest buffer without removing it, or nil if the queue
// is empty.
func (q *BundleSendQueue) Head() *sendbuf.Buffer {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// RemoveHead drops the current head buffer once it has gone empty.
func (q *BundleSendQueue) RemoveHead() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return
	}
	q.items = q.items[1:]
}

// Len reports the number of buffers currently queued.
func (q *BundleSendQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped reports the cumulative number of buffers dropped for overflow.
func (q *BundleSendQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
