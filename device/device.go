// Package device defines the canonical in-process representation of a
// USB device (spec.md §3 "USBDevice (internal)") and the speed
// enumeration used both on the wire and in logs.
package device

import (
	"fmt"
	"math"
)

// Speed is the closed enumeration of USB link speeds, stable ordinal
// values matching the wire's speed code family. Any platform code this
// daemon does not recognize maps to Unknown.
type Speed uint32

const (
	SpeedUnknown Speed = iota
	SpeedLow
	SpeedFull
	SpeedHigh
	SpeedSuper
)

func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "low"
	case SpeedFull:
		return "full"
	case SpeedHigh:
		return "high"
	case SpeedSuper:
		return "super"
	default:
		return "unknown"
	}
}

// WireCode returns the USB/IP wire-level speed integer (bits/sec) for
// the exported-device record, e.g. 480_000_000 for high-speed. Super-speed
// (5 Gbit/s) does not fit the 32-bit field and saturates at
// math.MaxUint32.
func (s Speed) WireCode() uint32 {
	switch s {
	case SpeedLow:
		return 1_500_000
	case SpeedFull:
		return 12_000_000
	case SpeedHigh:
		return 480_000_000
	case SpeedSuper:
		return math.MaxUint32
	default:
		return 0
	}
}

// SpeedFromWireCode maps a raw platform/wire speed integer to the closed
// enumeration, defaulting to SpeedUnknown for anything unrecognized.
func SpeedFromWireCode(code uint32) Speed {
	switch code {
	case 1_500_000:
		return SpeedLow
	case 12_000_000:
		return SpeedFull
	case 480_000_000:
		return SpeedHigh
	case math.MaxUint32:
		return SpeedSuper
	default:
		return SpeedUnknown
	}
}

// Device is the canonical, platform-independent USB device record. All
// discovery backends produce this type; the protocol codec consumes it
// directly.
type Device struct {
	// Identity, derived from the platform enumeration identifier per
	// spec.md §4.C.
	BusID    string
	DeviceID string

	// Host device-tree path, exported verbatim in the wire record.
	Path string

	BusNum uint32
	DevNum uint32
	Speed  Speed

	VendorID       uint16
	ProductID      uint16
	DeviceClass    uint8
	DeviceSubClass uint8
	DeviceProtocol uint8

	ConfigurationCount uint8
	ConfigurationValue uint8
	InterfaceCount     uint8

	// Optional string descriptors; nil when the platform does not
	// report them.
	Manufacturer *string
	Product      *string
	SerialNumber *string
}

// Key returns the (busID, deviceID) pair used to index a device set.
func (d Device) Key() string {
	return fmt.Sprintf("%s:%s", d.BusID, d.DeviceID)
}

// BusIDFromLocationID implements spec.md §4.C's derivation rule:
// busID = (locationID >> 24) formatted as decimal. The IOKit locationID
// encodes bus in its top byte (0xBBDDPPPP).
func BusIDFromLocationID(locationID uint32) string {
	return fmt.Sprintf("%d", locationID>>24)
}
