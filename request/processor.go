// Package request implements the USB/IP request processor (spec.md
// §4.E): it decodes an incoming message, dispatches to device discovery,
// and encodes the response.
package request

import (
	"strings"

	"github.com/beriberikix/usbipd-mac/config"
	"github.com/beriberikix/usbipd-mac/discovery"
	"github.com/beriberikix/usbipd-mac/protocol"
	"github.com/beriberikix/usbipd-mac/usbiperr"
)

// ClaimManager is the optional authorization hook spec.md §4.E names: a
// device-claim manager consulted before an import succeeds. When absent,
// import always succeeds if the device exists.
type ClaimManager interface {
	IsClaimed(busID string) bool
	Claim(busID string) error
}

// Processor services device-list and device-import requests against a
// Discovery backend.
type Processor struct {
	discovery discovery.Discovery
	claims    ClaimManager
	cfg       config.Config
}

// New returns a Processor. claims may be nil, in which case import
// always succeeds when the device exists. cfg.AllowedDevices (spec.md
// §6) restricts both device-list and device-import to the whitelisted
// busIDs; an empty whitelist allows everything.
func New(d discovery.Discovery, claims ClaimManager, cfg config.Config) *Processor {
	return &Processor{discovery: d, claims: claims, cfg: cfg}
}

// ProcessRequest decodes buf, dispatches it, and returns the encoded
// response. Any decode or discovery error is returned to the caller,
// which per spec.md §4.F/§7 closes the connection without a response.
func (p *Processor) ProcessRequest(buf []byte) ([]byte, error) {
	msg, err := protocol.DecodeAny(buf)
	if err != nil {
		return nil, err
	}

	switch m := msg.(type) {
	case protocol.DeviceListRequest:
		return p.handleDeviceList()
	case protocol.DeviceImportRequest:
		return p.handleDeviceImport(m)
	case protocol.DeviceListResponse, protocol.DeviceImportResponse:
		// A reply command arriving as an inbound request: servers do
		// not accept reply frames as requests (spec.md §4.E).
		return nil, usbiperr.UnsupportedCommand(uint16(msg.Command()))
	default:
		return nil, usbiperr.UnsupportedCommand(uint16(msg.Command()))
	}
}

func (p *Processor) handleDeviceList() ([]byte, error) {
	devices, err := p.discovery.DiscoverDevices()
	if err != nil {
		return nil, err
	}
	exported := make([]protocol.ExportedDevice, 0, len(devices))
	for _, d := range devices {
		if !p.cfg.IsAllowed(d.BusID) {
			continue
		}
		exported = append(exported, protocol.ExportedDeviceFrom(d))
	}
	return protocol.DeviceListResponse{Status: 0, Devices: exported}.Encode()
}

func (p *Processor) handleDeviceImport(req protocol.DeviceImportRequest) ([]byte, error) {
	busID, deviceID, err := splitBusID(req.BusID)
	if err != nil {
		return nil, err
	}

	if !p.cfg.IsAllowed(busID) {
		return protocol.DeviceImportResponse{ReturnCode: 1}.Encode(), nil
	}

	dev, found := p.discovery.GetDevice(busID, deviceID)
	if !found {
		return protocol.DeviceImportResponse{ReturnCode: 1}.Encode(), nil
	}

	if p.claims != nil && !p.claims.IsClaimed(dev.BusID) {
		if err := p.claims.Claim(dev.BusID); err != nil {
			return protocol.DeviceImportResponse{ReturnCode: 1}.Encode(), nil
		}
	}

	return protocol.DeviceImportResponse{ReturnCode: 0}.Encode(), nil
}

// splitBusID parses "{busID}:{deviceID}" (e.g. "1-1:1.0"), requiring
// both halves non-empty.
func splitBusID(raw string) (busID, deviceID string, err error) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", usbiperr.InvalidMessageFormat("import busID must be of the form \"{busID}:{deviceID}\"")
	}
	return parts[0], parts[1], nil
}
