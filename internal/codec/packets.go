package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/peasec/spatz/internal/enddevice"
)

// CompleteBundle carries an entire bundle payload in one packet.
type CompleteBundle struct {
	Destination enddevice.ID
	Source      enddevice.ID
	Timestamp   uint32
	Payload     []byte
}

func (CompleteBundle) Kind() Kind { return KindCompleteBundle }

func (p CompleteBundle) encodeBody() []byte {
	buf := make([]byte, 12+len(p.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(p.Destination))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(p.Source))
	binary.LittleEndian.PutUint32(buf[8:12], p.Timestamp)
	copy(buf[12:], p.Payload)
	return buf
}

func decodeCompleteBundle(body []byte) (Packet, error) {
	dst, body, err := getUint32(body)
	if err != nil {
		return nil, err
	}
	src, body, err := getUint32(body)
	if err != nil {
		return nil, err
	}
	ts, body, err := getUint32(body)
	if err != nil {
		return nil, err
	}
	return CompleteBundle{
		Destination: enddevice.ID(dst),
		Source:      enddevice.ID(src),
		Timestamp:   ts,
		Payload:     append([]byte(nil), body...),
	}, nil
}

// BundleFragment carries one slice of a plain (non-fragmented-ADU) bundle
// payload. IsEnd distinguishes BundleFragment (type 1) from
// BundleFragmentEnd (type 2).
type BundleFragment struct {
	Destination   enddevice.ID
	Source        enddevice.ID
	Timestamp     uint32
	FragmentIndex uint8
	Payload       []byte
	IsEnd         bool
}

func (p BundleFragment) Kind() Kind {
	if p.IsEnd {
		return KindBundleFragmentEnd
	}
	return KindBundleFragment
}

func (p BundleFragment) encodeBody() []byte {
	buf := make([]byte, 13+len(p.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(p.Destination))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(p.Source))
	binary.LittleEndian.PutUint32(buf[8:12], p.Timestamp)
	buf[12] = p.FragmentIndex
	copy(buf[13:], p.Payload)
	return buf
}

func decodeBundleFragment(body []byte, isEnd bool) (Packet, error) {
	dst, body, err := getUint32(body)
	if err != nil {
		return nil, err
	}
	src, body, err := getUint32(body)
	if err != nil {
		return nil, err
	}
	ts, body, err := getUint32(body)
	if err != nil {
		return nil, err
	}
	idx, body, err := getByte(body)
	if err != nil {
		return nil, err
	}
	return BundleFragment{
		Destination:   enddevice.ID(dst),
		Source:        enddevice.ID(src),
		Timestamp:     ts,
		FragmentIndex: idx,
		Payload:       append([]byte(nil), body...),
		IsEnd:         isEnd,
	}, nil
}

// FragmentedBundleFragment carries one slice of a bundle that was itself a
// BP7-level fragment of a larger application data unit. Non-end fragments
// (type 3) carry only the CRC32 hash of the ADU offset, the receiver's
// partition key; the end fragment (type 4) carries the offset and total ADU
// length in full.
type FragmentedBundleFragment struct {
	Destination    enddevice.ID
	Source         enddevice.ID
	Timestamp      uint32
	FragmentIndex  uint8
	OffsetHash     uint32 // valid when !IsEnd
	Offset         uint64 // valid when IsEnd
	TotalADULength uint64 // valid when IsEnd
	Payload        []byte
	IsEnd          bool
}

func (p FragmentedBundleFragment) Kind() Kind {
	if p.IsEnd {
		return KindFragmentedBundleFragmentEnd
	}
	return KindFragmentedBundleFragment
}

func (p FragmentedBundleFragment) encodeBody() []byte {
	head := 13
	if p.IsEnd {
		head += 16
	} else {
		head += 4
	}
	buf := make([]byte, head+len(p.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(p.Destination))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(p.Source))
	binary.LittleEndian.PutUint32(buf[8:12], p.Timestamp)
	buf[12] = p.FragmentIndex
	if p.IsEnd {
		binary.LittleEndian.PutUint64(buf[13:21], p.Offset)
		binary.LittleEndian.PutUint64(buf[21:29], p.TotalADULength)
	} else {
		binary.LittleEndian.PutUint32(buf[13:17], p.OffsetHash)
	}
	copy(buf[head:], p.Payload)
	return buf
}

func decodeFragmentedBundleFragment(body []byte, isEnd bool) (Packet, error) {
	dst, body, err := getUint32(body)
	if err != nil {
		return nil, err
	}
	src, body, err := getUint32(body)
	if err != nil {
		return nil, err
	}
	ts, body, err := getUint32(body)
	if err != nil {
		return nil, err
	}
	idx, body, err := getByte(body)
	if err != nil {
		return nil, err
	}

	p := FragmentedBundleFragment{
		Destination:   enddevice.ID(dst),
		Source:        enddevice.ID(src),
		Timestamp:     ts,
		FragmentIndex: idx,
		IsEnd:         isEnd,
	}
	if isEnd {
		offset, rest, err := getUint64(body)
		if err != nil {
			return nil, err
		}
		tadul, rest2, err := getUint64(rest)
		if err != nil {
			return nil, err
		}
		p.Offset, p.TotalADULength = offset, tadul
		p.Payload = append([]byte(nil), rest2...)
	} else {
		hash, rest, err := getUint32(body)
		if err != nil {
			return nil, err
		}
		p.OffsetHash = hash
		p.Payload = append([]byte(nil), rest...)
	}
	return p, nil
}

// Hop2HopFragment is one MTU-bounded slice of a larger encoded packet,
// reassembled by packet_hash before being fed back through DecodeInner.
type Hop2HopFragment struct {
	PacketHash uint32
	Total      uint8
	Index      uint8
	Payload    []byte
}

func (Hop2HopFragment) Kind() Kind { return KindHop2HopFragment }

func (p Hop2HopFragment) encodeBody() []byte {
	buf := make([]byte, 6+len(p.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], p.PacketHash)
	buf[4] = p.Total
	buf[5] = p.Index
	copy(buf[6:], p.Payload)
	return buf
}

func decodeHop2HopFragment(body []byte) (Packet, error) {
	hash, body, err := getUint32(body)
	if err != nil {
		return nil, err
	}
	total, body, err := getByte(body)
	if err != nil {
		return nil, err
	}
	idx, body, err := getByte(body)
	if err != nil {
		return nil, err
	}
	return Hop2HopFragment{
		PacketHash: hash,
		Total:      total,
		Index:      idx,
		Payload:    append([]byte(nil), body...),
	}, nil
}

// LocalAnnouncement carries neighbour-discovery state: an optional GPS fix
// and one or more locally-managed end-device IDs.
type LocalAnnouncement struct {
	Location     *Location
	EndDeviceIDs []enddevice.ID
}

func (LocalAnnouncement) Kind() Kind { return KindLocalAnnouncement }

func (p LocalAnnouncement) encodeBody() []byte {
	head := 0
	var locBytes [9]byte
	if p.Location != nil {
		locBytes = p.Location.encode()
		head = 9
	}
	buf := make([]byte, head+4*len(p.EndDeviceIDs))
	if p.Location != nil {
		copy(buf[0:9], locBytes[:])
	}
	off := head
	for _, id := range p.EndDeviceIDs {
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(id))
		off += 4
	}
	return buf
}

func decodeLocalAnnouncement(body []byte) (Packet, error) {
	rest := body
	var loc *Location
	// Presence of a location is inferred from byte-count parity: the
	// end-device-id list is a multiple of 4 bytes, so an odd byte count
	// (9 + 4k) indicates a location is present.
	if len(body)%2 != 0 {
		l, err := decodeLocation(body)
		if err != nil {
			return nil, err
		}
		loc = &l
		rest = body[9:]
	}
	if len(rest)%4 != 0 {
		return nil, fmt.Errorf("codec: end-device-id list is not a multiple of 4 bytes")
	}
	ids := make([]enddevice.ID, 0, len(rest)/4)
	for off := 0; off < len(rest); off += 4 {
		ids = append(ids, enddevice.ID(binary.LittleEndian.Uint32(rest[off:off+4])))
	}
	return LocalAnnouncement{Location: loc, EndDeviceIDs: ids}, nil
}
