// Package recvbuf implements the receive-buffer manager: single-threaded
// ingress from the MQTT uplink dispatcher that demultiplexes incoming
// fragments into per-(src,dst,ts,offset-hash) bundle assemblers and
// per-packet-hash hop assemblers, and combines completed assemblies into
// delivered bundles.
package recvbuf

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/peasec/spatz/internal/bundle"
	"github.com/peasec/spatz/internal/codec"
	"github.com/peasec/spatz/internal/enddevice"
	"github.com/peasec/spatz/internal/hopfrag"
)

// ReceiveError is the taxonomy of reasons a fragment is rejected and
// dropped while its buffer is retained for a later, better-formed arrival.
type ReceiveError struct{ Reason string }

func (e ReceiveError) Error() string { return "recvbuf: " + e.Reason }

var (
	ErrDstDoesNotMatch              = ReceiveError{"destination does not match buffer"}
	ErrSrcDoesNotMatch               = ReceiveError{"source does not match buffer"}
	ErrTimestampDoesNotMatch         = ReceiveError{"timestamp does not match buffer"}
	ErrFragmentOffsetHashDoesNotMatch = ReceiveError{"fragment offset hash does not match buffer"}
	ErrIndexAlreadyReceived          = ReceiveError{"index already received"}
	ErrEndIndexAlreadyReceived       = ReceiveError{"end index already received"}
	ErrNoTadul                      = ReceiveError{"end fragment missing total application data unit length"}
	ErrNoFragmentOffset              = ReceiveError{"end fragment missing fragment offset"}
)

// CombineError is the taxonomy of reasons a fully-received assembly could
// not be turned into a bundle.
type CombineError struct{ Reason string }

func (e CombineError) Error() string { return "recvbuf: " + e.Reason }

var (
	ErrEndNotReceived    = CombineError{"end fragment not yet received"}
	ErrFragmentsMissing  = CombineError{"fragments missing"}
)

// key identifies one bundle assembly: destination, source, creation
// timestamp, and (for BP7-fragmented bundles) the CRC32 hash of the ADU
// offset.
type key struct {
	dst           enddevice.ID
	src           enddevice.ID
	ts            uint32
	hasOffsetHash bool
	offsetHash    uint32
}

type bundleAssembly struct {
	key            key
	chunks         map[uint8][]byte
	totalFragments int // -1 until the end fragment is seen
	fragmentOffset uint64
	totalADULength uint64
	haveOffset     bool
	haveTadul      bool
}

func newBundleAssembly(k key) *bundleAssembly {
	return &bundleAssembly{key: k, chunks: make(map[uint8][]byte), totalFragments: -1}
}

func (a *bundleAssembly) complete() bool {
	if a.totalFragments < 0 {
		return false
	}
	return len(a.chunks) == a.totalFragments
}

func (a *bundleAssembly) payload() []byte {
	var buf []byte
	for i := 0; i < a.totalFragments; i++ {
		buf = append(buf, a.chunks[uint8(i)]...)
	}
	return buf
}

// Manager is the exclusive owner of every live bundle and hop-by-hop
// receive buffer.
type Manager struct {
	mu      sync.Mutex
	bundles map[key]*bundleAssembly
	hops    map[uint32]*hopfrag.Assembler
}

// New returns an empty receive-buffer manager.
func New() *Manager {
	return &Manager{
		bundles: make(map[key]*bundleAssembly),
		hops:    make(map[uint32]*hopfrag.Assembler),
	}
}

// Outcome is returned by Process when a packet's arrival completed a
// reassembly ready for delivery.
type Outcome struct {
	Bundle  bundle.Bundle
	IsLocal bool // never set by Process; internal/uplink decides delivery vs relay from the packet's destination before calling Process
}

// Process folds one decoded incoming packet into the manager's state. It
// returns a non-nil *Outcome when the packet completed a bundle assembly
// ready for delivery. A non-nil error means the fragment was rejected and
// dropped; any buffer it would have joined is left untouched for a later
// arrival. Both return values are nil when the packet was accepted but did
// not yet complete anything (more fragments expected), and also for
// LocalAnnouncement, which is never queued here.
func (m *Manager) Process(p codec.Packet) (*Outcome, error) {
	switch v := p.(type) {
	case codec.CompleteBundle:
		b := bundle.FromUnixSeconds(v.Destination, v.Source, v.Timestamp, v.Payload, nil, nil)
		return &Outcome{Bundle: b}, nil

	case codec.BundleFragment:
		return m.processBundleFragment(v)

	case codec.FragmentedBundleFragment:
		return m.processFragmentedBundleFragment(v)

	case codec.Hop2HopFragment:
		return m.processHopFragment(v)

	case codec.LocalAnnouncement:
		return nil, nil

	default:
		return nil, fmt.Errorf("recvbuf: unrecognised packet type %T", p)
	}
}

func (m *Manager) processBundleFragment(v codec.BundleFragment) (*Outcome, error) {
	k := key{dst: v.Destination, src: v.Source, ts: v.Timestamp}

	// A single-fragment terminal arrival (idx=0, is_end) never needs a
	// buffer: deliver immediately.
	if v.IsEnd && v.FragmentIndex == 0 {
		if _, exists := m.lookup(k); !exists {
			b := bundle.FromUnixSeconds(v.Destination, v.Source, v.Timestamp, v.Payload, nil, nil)
			return &Outcome{Bundle: b}, nil
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.bundles[k]
	if !ok {
		a = newBundleAssembly(k)
		m.bundles[k] = a
	}

	if err := insertChunk(a, v.FragmentIndex, v.Payload, v.IsEnd); err != nil {
		return nil, err
	}

	if a.complete() {
		delete(m.bundles, k)
		b := bundle.FromUnixSeconds(k.dst, k.src, k.ts, a.payload(), nil, nil)
		return &Outcome{Bundle: b}, nil
	}
	return nil, nil
}

func (m *Manager) processFragmentedBundleFragment(v codec.FragmentedBundleFragment) (*Outcome, error) {
	var k key
	if v.IsEnd {
		// The end fragment is the only carrier of the offset, so its
		// partition key is the CRC32 of that offset, matching the hash
		// non-end fragments carry directly.
		k = key{dst: v.Destination, src: v.Source, ts: v.Timestamp, hasOffsetHash: true, offsetHash: offsetHash(v.Offset)}
	} else {
		k = key{dst: v.Destination, src: v.Source, ts: v.Timestamp, hasOffsetHash: true, offsetHash: v.OffsetHash}
	}

	if v.IsEnd && v.FragmentIndex == 0 {
		if _, exists := m.lookup(k); !exists {
			off, tadul := v.Offset, v.TotalADULength
			b := bundle.FromUnixSeconds(v.Destination, v.Source, v.Timestamp, v.Payload, &off, &tadul)
			return &Outcome{Bundle: b}, nil
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.bundles[k]
	if !ok {
		a = newBundleAssembly(k)
		m.bundles[k] = a
	}

	if err := insertChunk(a, v.FragmentIndex, v.Payload, v.IsEnd); err != nil {
		return nil, err
	}
	if v.IsEnd {
		a.fragmentOffset, a.haveOffset = v.Offset, true
		a.totalADULength, a.haveTadul = v.TotalADULength, true
	}

	if a.complete() {
		if !a.haveOffset {
			return nil, ErrNoFragmentOffset
		}
		if !a.haveTadul {
			return nil, ErrNoTadul
		}
		delete(m.bundles, k)
		off, tadul := a.fragmentOffset, a.totalADULength
		b := bundle.FromUnixSeconds(k.dst, k.src, k.ts, a.payload(), &off, &tadul)
		return &Outcome{Bundle: b}, nil
	}
	return nil, nil
}

func (m *Manager) lookup(k key) (*bundleAssembly, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.bundles[k]
	return a, ok
}

// insertChunk folds one fragment's payload into an in-progress assembly,
// enforcing the no-duplicate-index and no-duplicate-end invariants.
func insertChunk(a *bundleAssembly, idx uint8, payload []byte, isEnd bool) error {
	if _, dup := a.chunks[idx]; dup {
		return ErrIndexAlreadyReceived
	}
	if isEnd && a.totalFragments >= 0 {
		return ErrEndIndexAlreadyReceived
	}
	a.chunks[idx] = payload
	if isEnd {
		a.totalFragments = int(idx) + 1
	}
	return nil
}

func (m *Manager) processHopFragment(v codec.Hop2HopFragment) (*Outcome, error) {
	inner, err := m.ProcessHopFragment(v)
	if err != nil || inner == nil {
		return nil, err
	}
	return m.Process(inner)
}

// ProcessHopFragment folds v into its hop-by-hop reassembly, returning the
// decoded inner packet once every fragment carrying its packet hash has
// arrived. A nil packet and nil error means more fragments are still
// expected. Unlike Process, this never finalizes the inner packet into a
// bundle: the uplink dispatcher uses it to recover the original packet so
// it can re-run the local/relay addressing check the hop wrapper hid.
func (m *Manager) ProcessHopFragment(v codec.Hop2HopFragment) (codec.Packet, error) {
	m.mu.Lock()
	asm, ok := m.hops[v.PacketHash]
	if !ok {
		asm = hopfrag.NewAssembler(v)
		m.hops[v.PacketHash] = asm
	}
	m.mu.Unlock()

	if ok {
		if err := asm.Add(v); err != nil {
			return nil, err
		}
	}

	if !asm.Complete() {
		return nil, nil
	}

	m.mu.Lock()
	delete(m.hops, v.PacketHash)
	m.mu.Unlock()

	return asm.Combine()
}

// offsetHash computes the CRC32 hash of a bundle fragmentation offset, the
// partition key non-end FragmentedBundleFragments carry directly.
func offsetHash(offset uint64) uint32 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], offset)
	return crc32.ChecksumIEEE(buf[:])
}
