// Package protocol implements the USB/IP wire codec: big-endian framing
// of headers and device records, and encode/decode for every message
// variant the daemon understands.
package protocol

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/beriberikix/usbipd-mac/usbiperr"
)

// Version is the only USB/IP protocol revision this daemon speaks.
const Version uint16 = 0x0111

// Command identifies a USB/IP message type on the wire.
type Command uint16

const (
	CommandRequestDeviceList   Command = 0x8005
	CommandReplyDeviceList     Command = 0x0005
	CommandRequestDeviceImport Command = 0x8003
	CommandReplyDeviceImport   Command = 0x0003
)

func (c Command) String() string {
	switch c {
	case CommandRequestDeviceList:
		return "OP_REQ_DEVLIST"
	case CommandReplyDeviceList:
		return "OP_REP_DEVLIST"
	case CommandRequestDeviceImport:
		return "OP_REQ_IMPORT"
	case CommandReplyDeviceImport:
		return "OP_REP_IMPORT"
	default:
		return "UNKNOWN"
	}
}

func isRecognizedCommand(c Command) bool {
	switch c {
	case CommandRequestDeviceList, CommandReplyDeviceList, CommandRequestDeviceImport, CommandReplyDeviceImport:
		return true
	default:
		return false
	}
}

// HeaderSize is the fixed size of every USB/IP message's leading header.
const HeaderSize = 8

// Header is the 8-byte record every USB/IP message begins with.
type Header struct {
	Version uint16
	Command Command
	Status  uint32
}

func encodeHeader(buf []byte, h Header) {
	binary.BigEndian.PutUint16(buf[0:2], h.Version)
	binary.BigEndian.PutUint16(buf[2:4], uint16(h.Command))
	binary.BigEndian.PutUint32(buf[4:8], h.Status)
}

// ToNetwork16/FromNetwork16 and the 32-bit variants are the explicit
// host<->network byte-swap primitives spec.md §4.A names. encoding/binary
// already guarantees the round-trip; these exist so call sites read in
// the vocabulary of the specification.
func ToNetwork16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func FromNetwork16(b []byte) uint16 { return binary.BigEndian.Uint16(b) }

func ToNetwork32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func FromNetwork32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }

// EncodeFixedString produces exactly length bytes: the UTF-8 encoding of
// s followed by NUL padding. It fails unless len(s) < length, so the
// result always holds at least one trailing NUL.
func EncodeFixedString(s string, length int) ([]byte, error) {
	raw := []byte(s)
	if len(raw) >= length {
		return nil, usbiperr.InvalidMessageFormat("string exceeds fixed field length")
	}
	out := make([]byte, length)
	copy(out, raw)
	return out, nil
}

// DecodeFixedString reads length bytes at offset, truncates at the first
// NUL, and returns the UTF-8 string.
func DecodeFixedString(buf []byte, offset, length int) (string, error) {
	if offset+length > len(buf) {
		return "", usbiperr.InvalidDataLength(len(buf), offset+length)
	}
	field := buf[offset : offset+length]
	end := len(field)
	for i, b := range field {
		if b == 0 {
			end = i
			break
		}
	}
	if !utf8.Valid(field[:end]) {
		return "", usbiperr.StringDecodingFailure("fixed string")
	}
	return string(field[:end]), nil
}
