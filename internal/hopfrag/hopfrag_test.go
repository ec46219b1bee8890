package hopfrag

import (
	"bytes"
	"hash/crc32"
	"testing"

	"github.com/peasec/spatz/internal/band"
	"github.com/peasec/spatz/internal/codec"
	"github.com/peasec/spatz/internal/enddevice"
)

func testPacket(size int) codec.Packet {
	return codec.CompleteBundle{
		Destination: enddevice.ID(1),
		Source:      enddevice.ID(2),
		Timestamp:   3,
		Payload:     bytes.Repeat([]byte{0x7}, size),
	}
}

// TestHopFragmentationAt100Bytes reproduces S3: a 100-byte encoded packet at
// Dr0 (M=55) splits into two fragments, 55 then 45 bytes.
func TestHopFragmentationAt100Bytes(t *testing.T) {
	p := testPacket(100 - 14) // CompleteBundle header is 14 bytes (MHDR+type+12)
	encoded := codec.EncodePhy(p)
	if len(encoded) != 100 {
		t.Fatalf("encoded len = %d, want 100", len(encoded))
	}

	frags, err := Split(p, band.Dr0)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(frags) != 2 {
		t.Fatalf("len(frags) = %d, want 2", len(frags))
	}
	for i, f := range frags {
		if int(f.Total) != 2 || int(f.Index) != i {
			t.Fatalf("frags[%d] = %+v", i, f)
		}
	}
	if len(frags[0].Payload) != 55 || len(frags[1].Payload) != 45 {
		t.Fatalf("payload lens = %d, %d, want 55, 45", len(frags[0].Payload), len(frags[1].Payload))
	}
	wantHash := crc32.ChecksumIEEE(encoded)
	if frags[0].PacketHash != wantHash {
		t.Fatalf("packet_hash = %08x, want %08x", frags[0].PacketHash, wantHash)
	}
}

// TestHopFragmentRoundTrip exercises property #4: reassembling fragments in
// idx order and decoding through DecodeInner recovers the original packet.
func TestHopFragmentRoundTrip(t *testing.T) {
	for _, size := range []int{0, 10, 200, 1000} {
		p := testPacket(size)
		frags, err := Split(p, band.Dr0)
		if err != nil {
			t.Fatalf("Split(%d): %v", size, err)
		}

		a := NewAssembler(frags[0])
		for _, f := range frags[1:] {
			if err := a.Add(f); err != nil {
				t.Fatalf("Add: %v", err)
			}
		}
		if !a.Complete() {
			t.Fatalf("assembler not complete after all fragments added")
		}
		got, err := a.Combine()
		if err != nil {
			t.Fatalf("Combine: %v", err)
		}
		if !bytes.Equal(codec.EncodePhy(got), codec.EncodePhy(p)) {
			t.Fatalf("round trip mismatch for size %d", size)
		}
	}
}

func TestAssemblerRejectsMismatches(t *testing.T) {
	p := testPacket(200)
	frags, err := Split(p, band.Dr0)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	a := NewAssembler(frags[0])
	if err := a.Add(frags[0]); err == nil {
		t.Fatalf("expected ErrIndexAlreadyReceived on duplicate idx")
	}

	bad := frags[1]
	bad.PacketHash ^= 1
	if _, ok := mustErr(t, a.Add(bad)).(ErrHashMismatch); !ok {
		t.Fatalf("expected ErrHashMismatch")
	}

	bad2 := frags[1]
	bad2.Total = 99
	if _, ok := mustErr(t, a.Add(bad2)).(ErrTotalMismatch); !ok {
		t.Fatalf("expected ErrTotalMismatch")
	}
}

func mustErr(t *testing.T, err error) error {
	t.Helper()
	if err == nil {
		t.Fatalf("expected an error, got nil")
	}
	return err
}

func TestSplitRejectsOverflow(t *testing.T) {
	p := testPacket((255+10)*55 - 14)
	_, err := Split(p, band.Dr0)
	if _, ok := err.(ErrTooManyFragments); !ok {
		t.Fatalf("err = %v, want ErrTooManyFragments", err)
	}
}
