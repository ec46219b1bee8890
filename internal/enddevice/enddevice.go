// Package enddevice implements the EndDeviceId address space: a 32-bit
// identifier tunnelled through BP7 as a decimal dtn:// endpoint, and the
// managed-phone-number variant that equates on a CRC32 hash rather than the
// string itself.
package enddevice

import (
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"
)

// ID is a 32-bit LoRaWAN-DTN node address.
type ID uint32

// Endpoint renders the id as a DTN endpoint URI.
func (id ID) Endpoint() string {
	return fmt.Sprintf("dtn://%d", uint32(id))
}

// String implements fmt.Stringer.
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// FromEndpoint parses a dtn://<decimal> endpoint back into an ID.
func FromEndpoint(endpoint string) (ID, error) {
	rest, ok := strings.CutPrefix(endpoint, "dtn://")
	if !ok {
		return 0, fmt.Errorf("enddevice: endpoint %q is not a dtn:// URI", endpoint)
	}
	n, err := strconv.ParseUint(rest, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("enddevice: endpoint %q does not decode to a decimal id: %w", endpoint, err)
	}
	return ID(n), nil
}

// Managed is an end-device id backed by a phone number string kept only for
// display; equality and hashing use the CRC32 of the ASCII string, matching
// the on-wire EndDeviceId of the same node.
type Managed struct {
	Hash   ID
	Number string
}

// NewManaged derives a Managed id from a phone number string.
func NewManaged(number string) Managed {
	return Managed{
		Hash:   ID(crc32.ChecksumIEEE([]byte(number))),
		Number: number,
	}
}

// Equal reports whether two managed ids hash to the same ID, regardless of
// the cosmetic string each carries.
func (m Managed) Equal(other Managed) bool {
	return m.Hash == other.Hash
}

// ID returns the wire-level ID this managed address corresponds to.
func (m Managed) ID() ID {
	return m.Hash
}
