// Package sendbuf turns a bundle payload into an ordered sequence of
// bundle-level packets for a given data rate: one CompleteBundle if it
// fits, otherwise a run of BundleFragments terminated by a
// BundleFragmentEnd.
package sendbuf

import (
	"fmt"

	"github.com/peasec/spatz/internal/band"
	"github.com/peasec/spatz/internal/codec"
	"github.com/peasec/spatz/internal/enddevice"
)

// completeBundleOverhead is the dst+src+ts header (12 bytes) this kind
// spends before payload.
const completeBundleOverhead = 12

// fragmentOverhead is the dst+src+ts+idx header (13 bytes) a BundleFragment
// or BundleFragmentEnd spends before payload.
const fragmentOverhead = 13

// ErrPayloadTooLarge is returned by New when the payload exceeds the
// wire-format cap imposed by the 1-byte fragment index.
type ErrPayloadTooLarge struct {
	Len int
	Cap int
}

func (e ErrPayloadTooLarge) Error() string {
	return fmt.Sprintf("sendbuf: payload of %d bytes exceeds the %d-byte cap", e.Len, e.Cap)
}

// ErrPayloadNotFilledCompletely is returned when a non-terminal
// BundleFragment would not exactly fill the chosen data rate's MTU; the
// fixed-chunking contract lets receivers validate fragment boundaries, so
// this is preserved verbatim rather than relaxed.
type ErrPayloadNotFilledCompletely struct {
	Len int
	MTU int
}

func (e ErrPayloadNotFilledCompletely) Error() string {
	return fmt.Sprintf("sendbuf: %d remaining bytes does not exactly fill the %d-byte MTU", e.Len, e.MTU)
}

// ErrEmpty is returned by Next when called on an already-exhausted buffer.
var ErrEmpty = fmt.Errorf("sendbuf: buffer is empty")

// maxPayload is the largest payload New will accept, at Dr0 (the smallest
// MTU), capped at 128 fragments (indices 0..127, the last one the end).
func maxPayload() int {
	return (band.Dr0.MaxUsablePayload(false) - fragmentOverhead) * 128
}

// Buffer is a bundle awaiting emission as a sequence of bundle-level
// packets. It owns its payload by value and is not shareable: the queue
// manager holds exactly one buffer per in-flight bundle.
type Buffer struct {
	Destination   enddevice.ID
	Source        enddevice.ID
	Timestamp     uint32
	fragmentIndex uint8
	remaining     []byte
}

// New constructs a send buffer for one bundle's payload. It fails with
// ErrPayloadTooLarge if the payload cannot be represented within the
// 128-fragment wire-format cap at the smallest data rate.
func New(dst, src enddevice.ID, unixSeconds uint32, payload []byte) (*Buffer, error) {
	cap := maxPayload()
	if len(payload) > cap {
		return nil, ErrPayloadTooLarge{Len: len(payload), Cap: cap}
	}
	return &Buffer{
		Destination: dst,
		Source:      src,
		Timestamp:   unixSeconds,
		remaining:   payload,
	}, nil
}

// Empty reports whether the buffer has already produced its terminal
// packet and has nothing left to emit.
func (b *Buffer) Empty() bool {
	return b.remaining == nil
}

// NewNonTerminalFragment builds a standalone non-terminal BundleFragment,
// enforcing the exact-MTU-fill contract independently of Next's bookkeeping:
// per spec.md §9, a reimplementation must preserve this contract verbatim,
// since receivers rely on fixed chunking to validate fragment boundaries.
func NewNonTerminalFragment(dst, src enddevice.ID, ts uint32, idx uint8, payload []byte, d band.DataRate) (codec.BundleFragment, error) {
	mtu := d.MaxUsablePayload(false) - fragmentOverhead
	if len(payload) != mtu {
		return codec.BundleFragment{}, ErrPayloadNotFilledCompletely{Len: len(payload), MTU: mtu}
	}
	return codec.BundleFragment{
		Destination:   dst,
		Source:        src,
		Timestamp:     ts,
		FragmentIndex: idx,
		Payload:       payload,
		IsEnd:         false,
	}, nil
}

// Next produces the next packet for data rate d, mutating the buffer's
// internal fragment-index/remaining-payload state. Callers must only call
// Next on a non-empty buffer.
func (b *Buffer) Next(d band.DataRate) (codec.Packet, error) {
	if b.Empty() {
		return nil, ErrEmpty
	}

	maxUsable := d.MaxUsablePayload(false)

	if b.fragmentIndex == 0 && len(b.remaining) <= maxUsable-completeBundleOverhead {
		p := codec.CompleteBundle{
			Destination: b.Destination,
			Source:      b.Source,
			Timestamp:   b.Timestamp,
			Payload:     b.remaining,
		}
		b.remaining = nil
		return p, nil
	}

	mtu := maxUsable - fragmentOverhead
	if len(b.remaining) >= mtu {
		chunk := b.remaining[:mtu]
		rest := b.remaining[mtu:]
		isEnd := len(rest) == 0
		p := codec.BundleFragment{
			Destination:   b.Destination,
			Source:        b.Source,
			Timestamp:     b.Timestamp,
			FragmentIndex: b.fragmentIndex,
			Payload:       chunk,
			IsEnd:         isEnd,
		}
		b.fragmentIndex++
		if isEnd {
			b.remaining = nil
		} else {
			b.remaining = rest
		}
		return p, nil
	}

	// Fewer bytes remain than a non-terminal fragment would need to fill
	// the MTU exactly: the remainder is the terminal BundleFragmentEnd.
	p := codec.BundleFragment{
		Destination:   b.Destination,
		Source:        b.Source,
		Timestamp:     b.Timestamp,
		FragmentIndex: b.fragmentIndex,
		Payload:       b.remaining,
		IsEnd:         true,
	}
	b.remaining = nil
	return p, nil
}
