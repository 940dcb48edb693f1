package protocol

import (
	"bytes"
	"testing"

	"github.com/beriberikix/usbipd-mac/usbiperr"
)

func TestDeviceListRequestRoundTrip(t *testing.T) {
	encoded := DeviceListRequest{}.Encode()
	if len(encoded) != HeaderSize {
		t.Fatalf("encoded length = %d, want %d", len(encoded), HeaderSize)
	}
	msg, err := DecodeAny(encoded)
	if err != nil {
		t.Fatalf("DecodeAny: %v", err)
	}
	if _, ok := msg.(DeviceListRequest); !ok {
		t.Fatalf("decoded message type = %T, want DeviceListRequest", msg)
	}
}

func TestDeviceListNoDevicesScenario(t *testing.T) {
	// spec.md §8 scenario 1, literal bytes.
	req := []byte{0x01, 0x11, 0x80, 0x05, 0x00, 0x00, 0x00, 0x00}
	msg, err := DecodeAny(req)
	if err != nil {
		t.Fatalf("DecodeAny request: %v", err)
	}
	if _, ok := msg.(DeviceListRequest); !ok {
		t.Fatalf("want DeviceListRequest, got %T", msg)
	}

	resp, err := DeviceListResponse{Status: 0, Devices: nil}.Encode()
	if err != nil {
		t.Fatalf("Encode response: %v", err)
	}
	want := []byte{
		0x00, 0x00, 0x00, 0x05, // header: command
		0x00, 0x00, 0x00, 0x00, // header: status
		0x00, 0x00, 0x00, 0x00, // deviceCount
		0x00, 0x00, 0x00, 0x00, // reserved
	}
	if !bytes.Equal(resp, want) {
		t.Fatalf("encoded response = % x, want % x", resp, want)
	}
}

func TestDeviceListOneDeviceScenario(t *testing.T) {
	resp, err := DeviceListResponse{
		Status: 0,
		Devices: []ExportedDevice{{
			Path:           "",
			BusID:          "1-1",
			VendorID:       0x1234,
			ProductID:      0x5678,
			DeviceClass:    9,
		}},
	}.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	wantLen := 16 + ExportedDeviceSize
	if len(resp) != wantLen {
		t.Fatalf("encoded length = %d, want %d", len(resp), wantLen)
	}

	msg, err := DecodeAny(resp)
	if err != nil {
		t.Fatalf("DecodeAny: %v", err)
	}
	dl, ok := msg.(DeviceListResponse)
	if !ok {
		t.Fatalf("want DeviceListResponse, got %T", msg)
	}
	if len(dl.Devices) != 1 {
		t.Fatalf("device count = %d, want 1", len(dl.Devices))
	}
	got := dl.Devices[0]
	if got.BusID != "1-1" || got.VendorID != 0x1234 || got.ProductID != 0x5678 || got.DeviceClass != 9 {
		t.Fatalf("decoded device = %+v, unexpected", got)
	}
}

func TestDeviceImportRoundTrip(t *testing.T) {
	req, err := DeviceImportRequest{BusID: "1-1:1.0"}.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(req) != 40 {
		t.Fatalf("encoded length = %d, want 40", len(req))
	}
	msg, err := DecodeAny(req)
	if err != nil {
		t.Fatalf("DecodeAny: %v", err)
	}
	imp, ok := msg.(DeviceImportRequest)
	if !ok {
		t.Fatalf("want DeviceImportRequest, got %T", msg)
	}
	if imp.BusID != "1-1:1.0" {
		t.Fatalf("busID = %q, want %q", imp.BusID, "1-1:1.0")
	}
}

func TestDeviceImportResponseRoundTrip(t *testing.T) {
	for _, code := range []uint32{0, 1} {
		encoded := DeviceImportResponse{ReturnCode: code}.Encode()
		if len(encoded) != 12 {
			t.Fatalf("encoded length = %d, want 12", len(encoded))
		}
		msg, err := DecodeAny(encoded)
		if err != nil {
			t.Fatalf("DecodeAny: %v", err)
		}
		resp, ok := msg.(DeviceImportResponse)
		if !ok {
			t.Fatalf("want DeviceImportResponse, got %T", msg)
		}
		if resp.ReturnCode != code {
			t.Fatalf("returnCode = %d, want %d", resp.ReturnCode, code)
		}
	}
}

func TestSizeLaws(t *testing.T) {
	if got := len(DeviceListRequest{}.Encode()); got != HeaderSize {
		t.Errorf("DeviceListRequest size = %d, want %d", got, HeaderSize)
	}
	importReq, _ := DeviceImportRequest{BusID: "1-1"}.Encode()
	if len(importReq) != 40 {
		t.Errorf("DeviceImportRequest size = %d, want 40", len(importReq))
	}
	if got := len(DeviceImportResponse{}.Encode()); got != 12 {
		t.Errorf("DeviceImportResponse size = %d, want 12", got)
	}
	resp, _ := DeviceListResponse{Devices: []ExportedDevice{{}, {}}}.Encode()
	if want := 16 + 312*2; len(resp) != want {
		t.Errorf("DeviceListResponse size = %d, want %d", len(resp), want)
	}
}

func TestValidationLaws(t *testing.T) {
	short := []byte{0x01, 0x11, 0x80}
	if _, err := ValidateHeader(short); usbiperr.KindOf(err) != usbiperr.KindInvalidDataLength {
		t.Errorf("ValidateHeader(short) kind = %v, want InvalidDataLength", usbiperr.KindOf(err))
	}
	if _, err := DecodeAny(short); usbiperr.KindOf(err) != usbiperr.KindInvalidDataLength {
		t.Errorf("DecodeAny(short) kind = %v, want InvalidDataLength", usbiperr.KindOf(err))
	}

	badVersion := []byte{0x02, 0x00, 0x80, 0x05, 0, 0, 0, 0}
	if _, err := ValidateHeader(badVersion); usbiperr.KindOf(err) != usbiperr.KindUnsupportedVersion {
		t.Errorf("ValidateHeader(badVersion) kind = %v, want UnsupportedVersion", usbiperr.KindOf(err))
	}

	badCommand := []byte{0x01, 0x11, 0x99, 0x99, 0, 0, 0, 0}
	if _, err := PeekCommand(badCommand); usbiperr.KindOf(err) != usbiperr.KindUnsupportedCommand {
		t.Errorf("PeekCommand(badCommand) kind = %v, want UnsupportedCommand", usbiperr.KindOf(err))
	}

	withExtra := append(DeviceListRequest{}.Encode(), 0x00)
	if _, err := DecodeAny(withExtra); usbiperr.KindOf(err) != usbiperr.KindInvalidMessageFormat {
		t.Errorf("DecodeAny(withExtra) kind = %v, want InvalidMessageFormat", usbiperr.KindOf(err))
	}
}

func TestMalformedHeaderScenario(t *testing.T) {
	buf := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	if _, err := DecodeAny(buf); err == nil {
		t.Fatal("DecodeAny(garbage) succeeded, want error")
	}
}

func TestReplyArrivingAsRequestScenario(t *testing.T) {
	buf := []byte{0x01, 0x11, 0x00, 0x05, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	msg, err := DecodeAny(buf)
	if err != nil {
		t.Fatalf("DecodeAny: %v", err)
	}
	if _, ok := msg.(DeviceListResponse); !ok {
		t.Fatalf("want DeviceListResponse, got %T", msg)
	}
	// The request processor (not the codec) is responsible for rejecting
	// a reply command arriving as an inbound request; see request package.
}

func TestFixedStringRoundTrip(t *testing.T) {
	cases := []string{"", "1-1", "hello world", "café ™"}
	for _, s := range cases {
		encoded, err := EncodeFixedString(s, 32)
		if err != nil {
			t.Fatalf("EncodeFixedString(%q): %v", s, err)
		}
		if len(encoded) != 32 {
			t.Fatalf("encoded length = %d, want 32", len(encoded))
		}
		decoded, err := DecodeFixedString(encoded, 0, 32)
		if err != nil {
			t.Fatalf("DecodeFixedString(%q): %v", s, err)
		}
		if decoded != s {
			t.Fatalf("round-trip = %q, want %q", decoded, s)
		}
	}
}

func TestToFromNetwork(t *testing.T) {
	for _, v := range []uint16{0, 1, 0x1234, 0xFFFF} {
		if got := FromNetwork16(ToNetwork16(v)); got != v {
			t.Errorf("FromNetwork16(ToNetwork16(%d)) = %d", v, got)
		}
	}
	for _, v := range []uint32{0, 1, 0x12345678, 0xFFFFFFFF} {
		if got := FromNetwork32(ToNetwork32(v)); got != v {
			t.Errorf("FromNetwork32(ToNetwork32(%d)) = %d", v, got)
		}
	}
}

func TestValidateIntegrity(t *testing.T) {
	if !ValidateIntegrity(DeviceListRequest{}.Encode()) {
		t.Error("ValidateIntegrity(valid request) = false, want true")
	}
	if ValidateIntegrity([]byte{0x00}) {
		t.Error("ValidateIntegrity(too short) = true, want false")
	}
}
