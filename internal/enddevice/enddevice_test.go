package enddevice

import (
	"hash/crc32"
	"testing"
)

func TestEndpointRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		id   ID
	}{
		{name: "zero", id: 0},
		{name: "small", id: 42},
		{name: "max", id: 0xFFFFFFFF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromEndpoint(tt.id.Endpoint())
			if err != nil {
				t.Fatalf("FromEndpoint: %v", err)
			}
			if got != tt.id {
				t.Fatalf("round trip mismatch: got %d, want %d", got, tt.id)
			}
		})
	}
}

func TestFromEndpointRejectsNonDtn(t *testing.T) {
	if _, err := FromEndpoint("ipn:1.2"); err == nil {
		t.Fatal("expected error for non-dtn endpoint")
	}
}

func TestManagedEquality(t *testing.T) {
	number := "+4917123456789"
	m := NewManaged(number)

	want := ID(crc32.ChecksumIEEE([]byte(number)))
	if m.Hash != want {
		t.Fatalf("hash mismatch: got %d, want %d", m.Hash, want)
	}

	// Same hash, different cosmetic string: still equal.
	other := Managed{Hash: want, Number: "different-display-string"}
	if !m.Equal(other) {
		t.Fatal("expected managed ids with equal hash to be equal")
	}
}
