package subband

import "testing"

func TestFromFrequencyPartition(t *testing.T) {
	tests := []struct {
		freq uint32
		want SubBand
	}{
		{863_000_000, Sb863000_865000},
		{865_000_000, Sb863000_865000},
		{865_000_001, Sb865000_868000},
		{868_000_000, Sb865000_868000},
		{868_000_001, Sb868000_868600},
		{868_600_000, Sb868000_868600},
		{868_700_000, Sb868700_869200},
		{869_200_000, Sb868700_869200},
		{869_400_000, Sb869400_869650},
		{869_650_000, Sb869400_869650},
		{869_700_000, Sb869700_870000},
		{870_000_000, Sb869700_870000},
	}
	for _, tt := range tests {
		got, err := FromFrequency(tt.freq)
		if err != nil {
			t.Fatalf("FromFrequency(%d): %v", tt.freq, err)
		}
		if got != tt.want {
			t.Errorf("FromFrequency(%d) = %s, want %s", tt.freq, got, tt.want)
		}
	}
}

func TestFromFrequencyOutOfRange(t *testing.T) {
	if _, err := FromFrequency(870_000_001); err == nil {
		t.Fatal("expected error above upper bound")
	}
	if _, err := FromFrequency(862_000_000); err == nil {
		t.Fatal("expected error below lower bound")
	}
	if _, err := FromFrequency(868_600_001); err == nil {
		t.Fatal("expected error in the gap between sub-bands")
	}
}

func TestDutyCycleValues(t *testing.T) {
	tests := []struct {
		sb   SubBand
		want float64
	}{
		{Sb863000_865000, 0.001},
		{Sb865000_868000, 0.01},
		{Sb868000_868600, 0.01},
		{Sb868700_869200, 0.001},
		{Sb869400_869650, 0.1},
		{Sb869700_870000, 0.01},
	}
	for _, tt := range tests {
		if got := tt.sb.DutyCycle(); got != tt.want {
			t.Errorf("%s.DutyCycle() = %v, want %v", tt.sb, got, tt.want)
		}
	}
}
