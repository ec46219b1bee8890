// Package hopfrag implements MTU-level fragmentation of one logical,
// already-encoded packet across multiple LoRaWAN frames, and its
// reassembly on the receive side. Fragments are independent frames;
// ordering is reconstructed by index, and the logical packet is identified
// by the CRC32 of its encoded bytes rather than a sequence number.
package hopfrag

import (
	"fmt"
	"hash/crc32"

	"github.com/peasec/spatz/internal/band"
	"github.com/peasec/spatz/internal/codec"
)

// headerOverhead is the MHDR(1) + type(1) + packet_hash(4) + total(1) +
// idx(1) a Hop2HopFragment spends before payload.
const headerOverhead = 8

// ErrTooManyFragments is returned when the encoded packet would need more
// than 255 Hop2HopFragments to carry at the chosen data rate. Per spec.md
// §9's own recommendation, this is rejected rather than silently wrapped
// into a narrower uint8 count.
type ErrTooManyFragments struct {
	Chunks int
}

func (e ErrTooManyFragments) Error() string {
	return fmt.Sprintf("hopfrag: packet needs %d fragments, more than the 255 the wire format allows", e.Chunks)
}

// PacketHash returns the CRC32 of p's encoded PHY bytes, the key fragments
// of p are reassembled under.
func PacketHash(p codec.Packet) uint32 {
	return crc32.ChecksumIEEE(codec.EncodePhy(p))
}

// Split fragments p's encoded PHY bytes into a sequence of Hop2HopFragments
// sized to fit data rate d's MTU. Callers should only call Split when
// len(codec.EncodePhy(p)) exceeds d's max usable payload; Split itself does
// not check that, and the router's flood checks it before calling Split.
func Split(p codec.Packet, d band.DataRate) ([]codec.Hop2HopFragment, error) {
	encoded := codec.EncodePhy(p)
	m := d.MaxUsablePayload(false) - headerOverhead
	if m <= 0 {
		return nil, fmt.Errorf("hopfrag: data rate %s has no room for hop fragment headers", d)
	}

	total := (len(encoded) + m - 1) / m
	if total == 0 {
		total = 1
	}
	if total > 255 {
		return nil, ErrTooManyFragments{Chunks: total}
	}

	hash := crc32.ChecksumIEEE(encoded)
	out := make([]codec.Hop2HopFragment, 0, total)
	for i := 0; i < total; i++ {
		start := i * m
		end := start + m
		if end > len(encoded) {
			end = len(encoded)
		}
		out = append(out, codec.Hop2HopFragment{
			PacketHash: hash,
			Total:      uint8(total),
			Index:      uint8(i),
			Payload:    encoded[start:end],
		})
	}
	return out, nil
}

// ErrHashMismatch is returned when a fragment's packet_hash disagrees with
// the hash already recorded for this reassembly.
type ErrHashMismatch struct{ Got, Want uint32 }

func (e ErrHashMismatch) Error() string {
	return fmt.Sprintf("hopfrag: packet_hash %08x does not match buffer's %08x", e.Got, e.Want)
}

// ErrTotalMismatch is returned when a fragment's total disagrees with the
// total already recorded for this reassembly.
type ErrTotalMismatch struct{ Got, Want uint8 }

func (e ErrTotalMismatch) Error() string {
	return fmt.Sprintf("hopfrag: total %d does not match buffer's %d", e.Got, e.Want)
}

// ErrIndexOutOfRange is returned when idx >= total.
type ErrIndexOutOfRange struct{ Index, Total uint8 }

func (e ErrIndexOutOfRange) Error() string {
	return fmt.Sprintf("hopfrag: index %d is not less than total %d", e.Index, e.Total)
}

// ErrIndexAlreadyReceived is returned on a duplicate idx within one
// reassembly.
type ErrIndexAlreadyReceived struct{ Index uint8 }

func (e ErrIndexAlreadyReceived) Error() string {
	return fmt.Sprintf("hopfrag: index %d already received", e.Index)
}

// Assembler reassembles the Hop2HopFragments belonging to one packet_hash.
// It is exclusively owned by the receive-buffer manager.
type Assembler struct {
	hash    uint32
	total   uint8
	chunks  map[uint8][]byte
}

// NewAssembler seeds an assembler from the first fragment observed for a
// given packet_hash.
func NewAssembler(first codec.Hop2HopFragment) *Assembler {
	a := &Assembler{hash: first.PacketHash, total: first.Total, chunks: make(map[uint8][]byte)}
	a.chunks[first.Index] = first.Payload
	return a
}

// Add folds another fragment into the assembler, validating it against the
// state recorded from the first fragment.
func (a *Assembler) Add(f codec.Hop2HopFragment) error {
	if f.PacketHash != a.hash {
		return ErrHashMismatch{Got: f.PacketHash, Want: a.hash}
	}
	if f.Total != a.total {
		return ErrTotalMismatch{Got: f.Total, Want: a.total}
	}
	if f.Index >= f.Total {
		return ErrIndexOutOfRange{Index: f.Index, Total: f.Total}
	}
	if _, dup := a.chunks[f.Index]; dup {
		return ErrIndexAlreadyReceived{Index: f.Index}
	}
	a.chunks[f.Index] = f.Payload
	return nil
}

// Complete reports whether every index 0..total-1 has been received.
func (a *Assembler) Complete() bool {
	return len(a.chunks) == int(a.total)
}

// Combine concatenates the fragment payloads in idx order, which yields the
// PHY bytes Split cut up, and decodes them with DecodeInner after skipping
// the leading MHDR byte. Callers must only call Combine once Complete
// reports true.
func (a *Assembler) Combine() (codec.Packet, error) {
	var buf []byte
	for i := uint8(0); i < a.total; i++ {
		buf = append(buf, a.chunks[i]...)
	}
	if len(buf) == 0 {
		return nil, fmt.Errorf("hopfrag: reassembled packet is empty")
	}
	return codec.DecodeInner(buf[1:])
}
