// Package bundle implements the minimal slice of DTN Bundle Protocol v7
// (RFC 9171) this daemon needs: a primary block carrying source,
// destination, report-to, creation timestamp and optional fragmentation
// fields, plus exactly one payload canonical block. It is not a general BP7
// library; it covers only what the codec and receive-buffer combine step
// produce and consume.
package bundle

import (
	"fmt"
	"time"

	"github.com/peasec/spatz/internal/enddevice"
)

// dtnEpoch is 2000-01-01T00:00:00Z, the BP7 "DTN time" epoch.
var dtnEpoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// Lifetime is the fixed lifetime assigned to bundles combined from LoRaWAN
// fragments, per spec.
const Lifetime = 48 * time.Hour

// Primary is the BP7 primary block fields this system populates.
type Primary struct {
	Source      enddevice.ID
	Destination enddevice.ID
	ReportTo    enddevice.ID
	Created     time.Time // creation timestamp, second precision

	IsFragment       bool
	FragmentOffset   uint64
	TotalADULength   uint64
}

// Bundle is a primary block plus its single payload canonical block.
type Bundle struct {
	Primary Primary
	Payload []byte
}

// CreationDTNTime returns the primary block's creation timestamp expressed
// as BP7 DTN time: milliseconds since 2000-01-01T00:00:00Z.
func (p Primary) CreationDTNTime() int64 {
	return p.Created.Sub(dtnEpoch).Milliseconds()
}

// FromUnixSeconds builds a Bundle from decoded packet fields: the
// destination/source addresses, the wire timestamp (Unix seconds), and the
// concatenated payload bytes produced by the receive-buffer combine step.
// When fragOffset and tadul are both non-nil the bundle carries the BP7 fragmentation
// control flag and the fields supplied by a FragmentedBundleFragmentEnd.
func FromUnixSeconds(dst, src enddevice.ID, unixSeconds uint32, payload []byte, fragOffset, tadul *uint64) Bundle {
	b := Bundle{
		Primary: Primary{
			Source:      src,
			Destination: dst,
			ReportTo:    src,
			Created:     time.Unix(int64(unixSeconds), 0).UTC(),
		},
		Payload: payload,
	}
	if fragOffset != nil && tadul != nil {
		b.Primary.IsFragment = true
		b.Primary.FragmentOffset = *fragOffset
		b.Primary.TotalADULength = *tadul
	}
	return b
}

// Validate checks the minimal structural invariants this system relies on:
// exactly one payload, and a destination/source that are valid EndDeviceIds
// (always true here since they are typed, but creation timestamp must fit
// the 32-bit wire representation).
func (b Bundle) Validate() error {
	if len(b.Payload) == 0 {
		return fmt.Errorf("bundle: payload is empty")
	}
	unix := b.Primary.Created.Unix()
	if unix < 0 || unix > int64(^uint32(0)) {
		return fmt.Errorf("bundle: creation timestamp %d does not fit in 32 bits", unix)
	}
	return nil
}

// UnixSeconds returns the primary block's creation timestamp as the 32-bit
// wire value the packet codec expects.
func (b Bundle) UnixSeconds() uint32 {
	return uint32(b.Primary.Created.Unix())
}
