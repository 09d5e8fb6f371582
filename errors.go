package natsgo

import (
	"errors"
	"fmt"
)

// Kind discriminates the broad error categories a caller can react to
// without string-matching a message.
type Kind int

const (
	KindConnection Kind = iota
	KindAuth
	KindProtocol
	KindTimeout
	KindAPI
	KindDomain
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindAuth:
		return "auth"
	case KindProtocol:
		return "protocol"
	case KindTimeout:
		return "timeout"
	case KindAPI:
		return "api"
	case KindDomain:
		return "domain"
	case KindInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Error is the library's single error type. Callers discriminate on Kind
// (and, for KindAPI, on Code) rather than on message text.
type Error struct {
	Kind    Kind
	Message string
	Code    int // JetStream API error code, when Kind == KindAPI
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("natsgo: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("natsgo: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, message string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(message, args...)}
}

func wrapErr(kind Kind, err error, message string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(message, args...), Err: err}
}

// ConnectionError reports dial, read, write, or TLS-handshake failures.
func ConnectionError(err error, message string, args ...interface{}) *Error {
	return wrapErr(KindConnection, err, message, args...)
}

// AuthError reports an authorization rejection from the server, or a
// local signing failure. Never retried.
func AuthError(message string, args ...interface{}) *Error {
	return newErr(KindAuth, message, args...)
}

// ProtocolError reports a frame that failed to decode.
func ProtocolError(err error, message string, args ...interface{}) *Error {
	return wrapErr(KindProtocol, err, message, args...)
}

// TimeoutError reports a deadline that elapsed before a reply or message
// arrived.
func TimeoutError(message string, args ...interface{}) *Error {
	return newErr(KindTimeout, message, args...)
}

// APIError reports a JetStream `{error:{code,description}}` response.
// Code is the numeric code the broker returned (e.g. 404, 10071) so
// callers can discriminate with errors.As + Code comparisons.
func APIError(code int, description string) *Error {
	return &Error{Kind: KindAPI, Message: description, Code: code}
}

// DomainError reports an invalid subject, enum string, or config value.
func DomainError(message string, args ...interface{}) *Error {
	return newErr(KindDomain, message, args...)
}

// InvariantError reports programmer misuse of the API (e.g. replying to
// a message with no ReplyTo).
func InvariantError(message string, args ...interface{}) *Error {
	return newErr(KindInvariant, message, args...)
}

// IsTimeout reports whether err is (or wraps) a natsgo timeout error.
func IsTimeout(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindTimeout
}

// IsAPIError reports whether err is (or wraps) a JetStream API error,
// and if so returns its numeric code.
func IsAPIError(err error) (code int, ok bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindAPI {
		return e.Code, true
	}
	return 0, false
}
