package protocol

import (
	"encoding/binary"

	"github.com/beriberikix/usbipd-mac/device"
	"github.com/beriberikix/usbipd-mac/usbiperr"
)

// Message is the closed set of decoded USB/IP messages. decode_any
// returns this interface; callers type-switch on it rather than relying
// on reflection, per spec.md §9's design note.
type Message interface {
	isMessage()
	Command() Command
}

// Exported-device record layout, spec.md §3/§6.
const (
	exportedPathLen  = 256
	exportedBusIDLen = 32
	// ExportedDeviceSize is the fixed size of one exported device record
	// on the wire; spec.md §3 and §6 fix the total at 312 bytes.
	ExportedDeviceSize = 312
)

// deviceListBodyFixedSize is the size of the deviceCount + reserved
// fields that precede the device records in a device-list response.
const deviceListBodyFixedSize = 8

// ExportedDevice is the 312-byte wire record for one USB device in a
// device-list reply.
type ExportedDevice struct {
	Path                string
	BusID               string
	BusNum              uint32
	DevNum              uint32
	Speed               uint32
	VendorID            uint16
	ProductID           uint16
	BcdDevice           uint16
	DeviceClass         uint8
	DeviceSubClass      uint8
	DeviceProtocol      uint8
	ConfigurationValue  uint8
	ConfigurationCount  uint8
	InterfaceCount      uint8
}

// ExportedDeviceFrom converts the canonical device record into its wire
// form.
func ExportedDeviceFrom(d device.Device) ExportedDevice {
	return ExportedDevice{
		Path:               d.Path,
		BusID:              d.BusID,
		BusNum:             d.BusNum,
		DevNum:             d.DevNum,
		Speed:              d.Speed.WireCode(),
		VendorID:           d.VendorID,
		ProductID:          d.ProductID,
		DeviceClass:        d.DeviceClass,
		DeviceSubClass:     d.DeviceSubClass,
		DeviceProtocol:     d.DeviceProtocol,
		ConfigurationValue: d.ConfigurationValue,
		ConfigurationCount: d.ConfigurationCount,
		InterfaceCount:     d.InterfaceCount,
	}
}

func encodeExportedDevice(ed ExportedDevice) ([]byte, error) {
	buf := make([]byte, ExportedDeviceSize)
	offset := 0

	path, err := EncodeFixedString(ed.Path, exportedPathLen)
	if err != nil {
		return nil, err
	}
	copy(buf[offset:], path)
	offset += exportedPathLen

	busID, err := EncodeFixedString(ed.BusID, exportedBusIDLen)
	if err != nil {
		return nil, err
	}
	copy(buf[offset:], busID)
	offset += exportedBusIDLen

	binary.BigEndian.PutUint32(buf[offset:], ed.BusNum)
	offset += 4
	binary.BigEndian.PutUint32(buf[offset:], ed.DevNum)
	offset += 4
	binary.BigEndian.PutUint32(buf[offset:], ed.Speed)
	offset += 4
	binary.BigEndian.PutUint16(buf[offset:], ed.VendorID)
	offset += 2
	binary.BigEndian.PutUint16(buf[offset:], ed.ProductID)
	offset += 2
	binary.BigEndian.PutUint16(buf[offset:], ed.BcdDevice)
	offset += 2

	buf[offset] = ed.DeviceClass
	offset++
	buf[offset] = ed.DeviceSubClass
	offset++
	buf[offset] = ed.DeviceProtocol
	offset++
	buf[offset] = ed.ConfigurationValue
	offset++
	buf[offset] = ed.ConfigurationCount
	offset++
	buf[offset] = ed.InterfaceCount
	offset++

	// The fields above fill all 312 bytes (256+32+12+6+6); BcdDevice is
	// left zero unless the caller sets it.
	return buf, nil
}

func decodeExportedDevice(buf []byte) (ExportedDevice, error) {
	if len(buf) < ExportedDeviceSize {
		return ExportedDevice{}, usbiperr.InvalidDataLength(len(buf), ExportedDeviceSize)
	}
	var ed ExportedDevice
	offset := 0

	path, err := DecodeFixedString(buf, offset, exportedPathLen)
	if err != nil {
		return ExportedDevice{}, err
	}
	ed.Path = path
	offset += exportedPathLen

	busID, err := DecodeFixedString(buf, offset, exportedBusIDLen)
	if err != nil {
		return ExportedDevice{}, err
	}
	ed.BusID = busID
	offset += exportedBusIDLen

	ed.BusNum = binary.BigEndian.Uint32(buf[offset:])
	offset += 4
	ed.DevNum = binary.BigEndian.Uint32(buf[offset:])
	offset += 4
	ed.Speed = binary.BigEndian.Uint32(buf[offset:])
	offset += 4
	ed.VendorID = binary.BigEndian.Uint16(buf[offset:])
	offset += 2
	ed.ProductID = binary.BigEndian.Uint16(buf[offset:])
	offset += 2
	ed.BcdDevice = binary.BigEndian.Uint16(buf[offset:])
	offset += 2

	ed.DeviceClass = buf[offset]
	offset++
	ed.DeviceSubClass = buf[offset]
	offset++
	ed.DeviceProtocol = buf[offset]
	offset++
	ed.ConfigurationValue = buf[offset]
	offset++
	ed.ConfigurationCount = buf[offset]
	offset++
	ed.InterfaceCount = buf[offset]
	offset++

	return ed, nil
}

// DeviceListRequest is OP_REQ_DEVLIST: header only, no body.
type DeviceListRequest struct{}

func (DeviceListRequest) isMessage()        {}
func (DeviceListRequest) Command() Command { return CommandRequestDeviceList }

// Encode produces the 8-byte wire form of a device-list request.
func (r DeviceListRequest) Encode() []byte {
	buf := make([]byte, HeaderSize)
	encodeHeader(buf, Header{Version: Version, Command: CommandRequestDeviceList, Status: 0})
	return buf
}

// DeviceListResponse is OP_REP_DEVLIST.
type DeviceListResponse struct {
	Status  uint32
	Devices []ExportedDevice
}

func (DeviceListResponse) isMessage()        {}
func (DeviceListResponse) Command() Command { return CommandReplyDeviceList }

// Encode produces the full wire form: header + deviceCount + reserved +
// deviceCount*312 bytes.
func (r DeviceListResponse) Encode() ([]byte, error) {
	total := HeaderSize + deviceListBodyFixedSize + ExportedDeviceSize*len(r.Devices)
	buf := make([]byte, total)
	encodeHeader(buf, Header{Version: Version, Command: CommandReplyDeviceList, Status: r.Status})

	offset := HeaderSize
	binary.BigEndian.PutUint32(buf[offset:], uint32(len(r.Devices)))
	offset += 4
	// 4 bytes reserved, left zero.
	offset += 4

	for _, d := range r.Devices {
		encoded, err := encodeExportedDevice(d)
		if err != nil {
			return nil, err
		}
		copy(buf[offset:], encoded)
		offset += ExportedDeviceSize
	}
	return buf, nil
}

func decodeDeviceListResponse(h Header, body []byte) (DeviceListResponse, error) {
	if len(body) < deviceListBodyFixedSize {
		return DeviceListResponse{}, usbiperr.InvalidDataLength(len(body), deviceListBodyFixedSize)
	}
	count := binary.BigEndian.Uint32(body[0:4])
	rest := body[deviceListBodyFixedSize:]
	if len(rest) != ExportedDeviceSize*int(count) {
		return DeviceListResponse{}, usbiperr.InvalidMessageFormat("device-list response length does not match deviceCount")
	}
	devices := make([]ExportedDevice, 0, count)
	for i := 0; i < int(count); i++ {
		chunk := rest[i*ExportedDeviceSize : (i+1)*ExportedDeviceSize]
		ed, err := decodeExportedDevice(chunk)
		if err != nil {
			return DeviceListResponse{}, err
		}
		devices = append(devices, ed)
	}
	return DeviceListResponse{Status: h.Status, Devices: devices}, nil
}

// DeviceImportRequest is OP_REQ_IMPORT: header + 32-byte busID.
type DeviceImportRequest struct {
	BusID string
}

func (DeviceImportRequest) isMessage()        {}
func (DeviceImportRequest) Command() Command { return CommandRequestDeviceImport }

const deviceImportRequestSize = HeaderSize + 32

// Encode produces the fixed 40-byte wire form.
func (r DeviceImportRequest) Encode() ([]byte, error) {
	buf := make([]byte, deviceImportRequestSize)
	encodeHeader(buf, Header{Version: Version, Command: CommandRequestDeviceImport, Status: 0})
	busID, err := EncodeFixedString(r.BusID, 32)
	if err != nil {
		return nil, err
	}
	copy(buf[HeaderSize:], busID)
	return buf, nil
}

func decodeDeviceImportRequest(buf []byte) (DeviceImportRequest, error) {
	if len(buf) != deviceImportRequestSize {
		return DeviceImportRequest{}, usbiperr.InvalidMessageFormat("device-import request must be exactly 40 bytes")
	}
	busID, err := DecodeFixedString(buf, HeaderSize, 32)
	if err != nil {
		return DeviceImportRequest{}, err
	}
	return DeviceImportRequest{BusID: busID}, nil
}

// DeviceImportResponse is OP_REP_IMPORT: header + 4-byte returnCode.
//
// spec.md §9's Open Question fixes status=0 always on this variant; the
// sole success/failure signal is ReturnCode.
type DeviceImportResponse struct {
	ReturnCode uint32
}

func (DeviceImportResponse) isMessage()        {}
func (DeviceImportResponse) Command() Command { return CommandReplyDeviceImport }

const deviceImportResponseSize = HeaderSize + 4

// Encode produces the fixed 12-byte wire form.
func (r DeviceImportResponse) Encode() []byte {
	buf := make([]byte, deviceImportResponseSize)
	encodeHeader(buf, Header{Version: Version, Command: CommandReplyDeviceImport, Status: 0})
	binary.BigEndian.PutUint32(buf[HeaderSize:], r.ReturnCode)
	return buf
}

func decodeDeviceImportResponse(h Header, buf []byte) (DeviceImportResponse, error) {
	if len(buf) != deviceImportResponseSize {
		return DeviceImportResponse{}, usbiperr.InvalidMessageFormat("device-import response must be exactly 12 bytes")
	}
	return DeviceImportResponse{ReturnCode: binary.BigEndian.Uint32(buf[HeaderSize:])}, nil
}

// PeekCommand reads bytes 2..4 of buf and returns the command without
// consuming or validating the rest of the message.
func PeekCommand(buf []byte) (Command, error) {
	if len(buf) < HeaderSize {
		return 0, usbiperr.InvalidDataLength(len(buf), HeaderSize)
	}
	cmd := Command(binary.BigEndian.Uint16(buf[2:4]))
	if !isRecognizedCommand(cmd) {
		return 0, usbiperr.UnsupportedCommand(uint16(cmd))
	}
	return cmd, nil
}

// ValidateHeader checks length, version and command, returning the
// decoded Header on success.
func ValidateHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, usbiperr.InvalidDataLength(len(buf), HeaderSize)
	}
	version := binary.BigEndian.Uint16(buf[0:2])
	if version != Version {
		return Header{}, usbiperr.UnsupportedVersion(version)
	}
	cmd := Command(binary.BigEndian.Uint16(buf[2:4]))
	if !isRecognizedCommand(cmd) {
		return Header{}, usbiperr.UnsupportedCommand(uint16(cmd))
	}
	status := binary.BigEndian.Uint32(buf[4:8])
	return Header{Version: version, Command: cmd, Status: status}, nil
}

// DecodeAny validates the header then dispatches to the matching
// decoder, returning a Message the caller type-switches on.
func DecodeAny(buf []byte) (Message, error) {
	h, err := ValidateHeader(buf)
	if err != nil {
		return nil, err
	}
	body := buf[HeaderSize:]
	switch h.Command {
	case CommandRequestDeviceList:
		if len(body) != 0 {
			return nil, usbiperr.InvalidMessageFormat("device-list request must carry no body")
		}
		return DeviceListRequest{}, nil
	case CommandReplyDeviceList:
		return decodeDeviceListResponse(h, body)
	case CommandRequestDeviceImport:
		return decodeDeviceImportRequest(buf)
	case CommandReplyDeviceImport:
		return decodeDeviceImportResponse(h, buf)
	default:
		return nil, usbiperr.UnsupportedCommand(uint16(h.Command))
	}
}

// ValidateIntegrity reports whether DecodeAny would succeed, without
// constructing the result. It never returns an error: malformed input
// simply yields false.
func ValidateIntegrity(buf []byte) bool {
	_, err := DecodeAny(buf)
	return err == nil
}
