package dutycycle

import (
	"testing"
)

// TestDutyCycleEnforcement reproduces S6: sub-band Sb863000_865000 (0.1% =>
// 3600 ms/h budget). After consuming 3600 ms, any further consume overuses
// capacity.
func TestDutyCycleEnforcement(t *testing.T) {
	ledger := New()
	const freq = 864_000_000 // inside Sb863000_865000
	const gw = "gw-1"

	if err := ledger.ConsumeCapacity(3600, freq, gw); err != nil {
		t.Fatalf("expected first 3600ms consume to succeed: %v", err)
	}

	available, err := ledger.IsCapacityAvailable(1, freq, gw)
	if err != nil {
		t.Fatalf("IsCapacityAvailable: %v", err)
	}
	if available {
		t.Fatal("expected capacity to be exhausted after consuming the full budget")
	}

	if err := ledger.ConsumeCapacity(1, freq, gw); err == nil {
		t.Fatal("expected ConsumeCapacity to overuse capacity")
	}
}

func TestIndependentGatewaysAndSubBands(t *testing.T) {
	ledger := New()
	if err := ledger.ConsumeCapacity(3600, 864_000_000, "gw-a"); err != nil {
		t.Fatalf("gw-a consume: %v", err)
	}
	// A different gateway on the same sub-band has its own budget.
	if err := ledger.ConsumeCapacity(3600, 864_000_000, "gw-b"); err != nil {
		t.Fatalf("gw-b consume: %v", err)
	}
	// The same gateway on a different sub-band has its own budget too.
	if err := ledger.ConsumeCapacity(36000, 869_500_000, "gw-a"); err != nil {
		t.Fatalf("gw-a on Sb869400_869650 consume: %v", err)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	ledger := New()
	if err := ledger.ConsumeCapacity(100, 864_000_000, "gw-1"); err != nil {
		t.Fatalf("consume: %v", err)
	}
	snap := ledger.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 snapshot entry, got %d", len(snap))
	}

	restored := New()
	restored.Restore(snap)
	available, err := restored.IsCapacityAvailable(3500, 864_000_000, "gw-1")
	if err != nil {
		t.Fatalf("IsCapacityAvailable: %v", err)
	}
	if !available {
		t.Fatal("expected capacity available after restoring a 100ms snapshot into a 3600ms budget")
	}
}
