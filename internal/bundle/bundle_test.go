package bundle

import (
	"testing"

	"github.com/peasec/spatz/internal/enddevice"
)

func TestCreationDTNTime(t *testing.T) {
	// 2000-01-01T00:00:00Z is the DTN epoch: DTN time 0.
	b := FromUnixSeconds(1, 2, 946684800, []byte("x"), nil, nil)
	if got := b.Primary.CreationDTNTime(); got != 0 {
		t.Fatalf("CreationDTNTime() = %d, want 0", got)
	}

	// One second later is 1000 ms of DTN time.
	b = FromUnixSeconds(1, 2, 946684801, []byte("x"), nil, nil)
	if got := b.Primary.CreationDTNTime(); got != 1000 {
		t.Fatalf("CreationDTNTime() = %d, want 1000", got)
	}
}

func TestFromUnixSecondsReportToIsSource(t *testing.T) {
	const src enddevice.ID = 42
	b := FromUnixSeconds(1, src, 946684800, []byte("x"), nil, nil)
	if b.Primary.ReportTo != src {
		t.Fatalf("ReportTo = %d, want %d", b.Primary.ReportTo, src)
	}
}

func TestFromUnixSecondsFragmentFields(t *testing.T) {
	offset, tadul := uint64(10), uint64(100)
	b := FromUnixSeconds(1, 2, 946684800, []byte("x"), &offset, &tadul)
	if !b.Primary.IsFragment {
		t.Fatal("expected IsFragment true when offset/tadul given")
	}
	if b.Primary.FragmentOffset != offset || b.Primary.TotalADULength != tadul {
		t.Fatalf("got offset=%d tadul=%d, want %d/%d", b.Primary.FragmentOffset, b.Primary.TotalADULength, offset, tadul)
	}

	b2 := FromUnixSeconds(1, 2, 946684800, []byte("x"), nil, nil)
	if b2.Primary.IsFragment {
		t.Fatal("expected IsFragment false when offset/tadul omitted")
	}
}

func TestValidateRejectsEmptyPayload(t *testing.T) {
	b := FromUnixSeconds(1, 2, 946684800, nil, nil, nil)
	if err := b.Validate(); err == nil {
		t.Fatal("expected error for empty payload")
	}
}

func TestUnixSecondsRoundTrip(t *testing.T) {
	const ts = uint32(1_700_000_000)
	b := FromUnixSeconds(1, 2, ts, []byte("x"), nil, nil)
	if got := b.UnixSeconds(); got != ts {
		t.Fatalf("UnixSeconds() = %d, want %d", got, ts)
	}
}
