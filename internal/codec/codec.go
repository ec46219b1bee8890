// Package codec implements the proprietary LoRaWAN packet format carried in
// the MACPayload of every frame this relay sends or receives: a 1-byte MHDR
// tagged as proprietary, a 1-byte type discriminant, and one of seven
// per-kind bodies.
package codec

import (
	"encoding/binary"
	"fmt"
)

// Kind identifies one of the seven packet shapes on the wire.
type Kind uint8

const (
	KindCompleteBundle Kind = iota
	KindBundleFragment
	KindBundleFragmentEnd
	KindFragmentedBundleFragment
	KindFragmentedBundleFragmentEnd
	KindHop2HopFragment
	KindLocalAnnouncement
)

func (k Kind) String() string {
	names := [...]string{
		"CompleteBundle", "BundleFragment", "BundleFragmentEnd",
		"FragmentedBundleFragment", "FragmentedBundleFragmentEnd",
		"Hop2HopFragment", "LocalAnnouncement",
	}
	if int(k) < 0 || int(k) >= len(names) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return names[k]
}

// mhdr is the fixed MAC header byte: proprietary tag 0b111, RFU 0b000,
// protocol version 0b00.
const mhdr byte = 0b1110_0000

// Packet is one decoded wire packet.
type Packet interface {
	Kind() Kind
	encodeBody() []byte
}

// EncodePhy serializes p as a full PHY payload: MHDR + type + body.
func EncodePhy(p Packet) []byte {
	body := p.encodeBody()
	out := make([]byte, 2+len(body))
	out[0] = mhdr
	out[1] = byte(p.Kind())
	copy(out[2:], body)
	return out
}

// EncodeInner serializes p without the MHDR byte, for embedding in a
// Hop2HopFragment payload.
func EncodeInner(p Packet) []byte {
	body := p.encodeBody()
	out := make([]byte, 1+len(body))
	out[0] = byte(p.Kind())
	copy(out[1:], body)
	return out
}

// ErrNoProprietaryTag is returned when the MHDR's top 3 bits aren't 0b111.
var ErrNoProprietaryTag = fmt.Errorf("codec: MHDR is missing the proprietary tag")

// ErrWrongVersionTag is returned when the MHDR's bottom 2 bits aren't 0b00.
var ErrWrongVersionTag = fmt.Errorf("codec: MHDR carries an unsupported protocol version")

// ErrUnknownPacketType is returned when the type byte isn't in {0..6}.
type ErrUnknownPacketType struct{ Type byte }

func (e ErrUnknownPacketType) Error() string {
	return fmt.Sprintf("codec: unknown packet type %d", e.Type)
}

// DecodePhy parses a full PHY payload: MHDR + type + body.
func DecodePhy(data []byte) (Packet, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("codec: empty PHY payload")
	}
	if data[0]&0b1110_0000 != 0b1110_0000 {
		return nil, ErrNoProprietaryTag
	}
	if data[0]&0b0000_0011 != 0 {
		return nil, ErrWrongVersionTag
	}
	return DecodeInner(data[1:])
}

// DecodeInner parses a packet starting at the type byte, skipping the MHDR.
// Used both for top-level decode (after the MHDR is stripped) and for
// packets recovered from hop-by-hop fragment reassembly.
func DecodeInner(data []byte) (Packet, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("codec: missing packet type byte")
	}
	kind := Kind(data[0])
	body := data[1:]
	switch kind {
	case KindCompleteBundle:
		return decodeCompleteBundle(body)
	case KindBundleFragment:
		return decodeBundleFragment(body, false)
	case KindBundleFragmentEnd:
		return decodeBundleFragment(body, true)
	case KindFragmentedBundleFragment:
		return decodeFragmentedBundleFragment(body, false)
	case KindFragmentedBundleFragmentEnd:
		return decodeFragmentedBundleFragment(body, true)
	case KindHop2HopFragment:
		return decodeHop2HopFragment(body)
	case KindLocalAnnouncement:
		return decodeLocalAnnouncement(body)
	default:
		return nil, ErrUnknownPacketType{Type: data[0]}
	}
}

func getUint32(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, nil, fmt.Errorf("codec: need 4 bytes, have %d", len(b))
	}
	return binary.LittleEndian.Uint32(b[:4]), b[4:], nil
}

func getUint64(b []byte) (uint64, []byte, error) {
	if len(b) < 8 {
		return 0, nil, fmt.Errorf("codec: need 8 bytes, have %d", len(b))
	}
	return binary.LittleEndian.Uint64(b[:8]), b[8:], nil
}

func getByte(b []byte) (byte, []byte, error) {
	if len(b) < 1 {
		return 0, nil, fmt.Errorf("codec: need 1 byte, have 0")
	}
	return b[0], b[1:], nil
}
