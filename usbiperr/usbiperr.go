// Package usbiperr defines the tagged error taxonomy shared by every
// component of the USB/IP daemon. Every public operation in this module
// returns errors built here so callers can use errors.Is/errors.As
// instead of string matching.
package usbiperr

import "fmt"

// Kind tags an error with the component-level category it belongs to,
// so log sites and tests can discriminate without parsing messages.
type Kind string

const (
	// Protocol errors (wire codec, §4.B).
	KindInvalidDataLength    Kind = "invalid_data_length"
	KindUnsupportedVersion   Kind = "unsupported_version"
	KindUnsupportedCommand   Kind = "unsupported_command"
	KindInvalidMessageFormat Kind = "invalid_message_format"
	KindStringDecodingFailure Kind = "string_decoding_failure"

	// Network errors (TCP server, §4.F).
	KindBindFailed       Kind = "bind_failed"
	KindAlreadyRunning   Kind = "already_running"
	KindNotRunning       Kind = "not_running"
	KindConnectionClosed Kind = "connection_closed"
	KindConnectionFailed Kind = "connection_failed"

	// Discovery errors (§4.D).
	KindFailedToCreateMatchingDictionary Kind = "failed_to_create_matching_dictionary"
	KindIoKitError                       Kind = "iokit_error"
	KindMissingProperty                  Kind = "missing_property"
	KindInvalidPropertyType              Kind = "invalid_property_type"
	KindFailedToCreateNotificationPort   Kind = "failed_to_create_notification_port"
	KindFailedToAddNotification          Kind = "failed_to_add_notification"

	// Coordinator errors.
	KindInitializationFailed Kind = "initialization_failed"
)

// Error is the tagged union every public operation in this module
// returns. It always carries a human-readable message and, where
// relevant, a numeric code from the underlying platform call.
type Error struct {
	Kind    Kind
	Message string
	Code    int32
	Wrapped error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: %s (code %d)", e.Kind, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Is reports whether target is an *Error with the same Kind, so callers
// can write errors.Is(err, usbiperr.New(usbiperr.KindNotRunning, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds a tagged error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a tagged error that wraps an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Wrapped: cause}
}

// IoKit builds the KindIoKitError variant, carrying the kernel status
// code verbatim as spec.md §4.D requires.
func IoKit(code int32, message string) *Error {
	return &Error{Kind: KindIoKitError, Message: message, Code: code}
}

// InvalidDataLength is the shared constructor used by the protocol codec
// whenever a buffer is shorter than the record it claims to hold.
func InvalidDataLength(got, want int) *Error {
	return New(KindInvalidDataLength, fmt.Sprintf("buffer too short: got %d bytes, need at least %d", got, want))
}

// UnsupportedVersion carries the offending version verbatim.
func UnsupportedVersion(version uint16) *Error {
	return &Error{Kind: KindUnsupportedVersion, Message: fmt.Sprintf("unsupported USB/IP version 0x%04x", version), Code: int32(version)}
}

// UnsupportedCommand carries the offending command verbatim.
func UnsupportedCommand(command uint16) *Error {
	return &Error{Kind: KindUnsupportedCommand, Message: fmt.Sprintf("unsupported command 0x%04x", command), Code: int32(command)}
}

// InvalidMessageFormat flags a length mismatch within an otherwise
// well-versioned, well-commanded message.
func InvalidMessageFormat(detail string) *Error {
	return New(KindInvalidMessageFormat, detail)
}

// StringDecodingFailure flags a fixed-length field holding invalid UTF-8.
func StringDecodingFailure(field string) *Error {
	return New(KindStringDecodingFailure, fmt.Sprintf("field %q is not valid UTF-8", field))
}

// KindOf reports err's Kind, or "" for a non-tagged error, to let log
// sites attach a structured field without a type assertion at each call
// site.
func KindOf(err error) Kind {
	var e *Error
	if ok := as(err, &e); ok {
		return e.Kind
	}
	return ""
}

func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
