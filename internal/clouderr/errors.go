// Package clouderr defines the uniform error model shared by every provider
// and by the core request/future machinery.
package clouderr

import "fmt"

// Kind classifies the origin of a failure, independent of the numeric code.
type Kind int

const (
	// KindTransport means the HTTP engine reported a failure before any
	// response was received (DNS, connection reset, timeout).
	KindTransport Kind = iota
	// KindHTTP means the remote answered with a non-success status.
	KindHTTP
	// KindAborted means the caller cancelled the operation.
	KindAborted
	// KindNotFound means an explicit 404 or a local path-walk miss.
	KindNotFound
	// KindAuth means the full reauthorization protocol was exhausted.
	KindAuth
	// KindParse means a response body could not be interpreted.
	KindParse
	// KindUnimplemented means the backend does not support the operation.
	KindUnimplemented
	// KindServiceUnavailable means the provider is read-only or otherwise
	// structurally unable to perform a mutating request.
	KindServiceUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "Transport"
	case KindHTTP:
		return "HTTP"
	case KindAborted:
		return "Aborted"
	case KindNotFound:
		return "NotFound"
	case KindAuth:
		return "Auth"
	case KindParse:
		return "Parse"
	case KindUnimplemented:
		return "Unimplemented"
	case KindServiceUnavailable:
		return "ServiceUnavailable"
	default:
		return "Unknown"
	}
}

// Synthetic codes used when a failure did not originate from a remote HTTP
// status. A real HTTP failure carries the actual status code in Error.Code.
const (
	CodeAborted            = -1
	CodeFailure            = -2
	CodeNotFound           = -3
	CodeServiceUnavailable = -4
)

// Error is the uniform error type returned by every operation in the core.
// Code is an HTTP status when Kind == KindHTTP, otherwise one of the
// synthetic Code* constants (or 0 when not meaningful, e.g. KindParse).
type Error struct {
	Kind        Kind
	Code        int
	Description string
	Err         error // wrapped cause, for errors.Is/As chains; may be nil
}

func (e *Error) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("cloudfs: %s (code %d)", e.Kind, e.Code)
	}

	return fmt.Sprintf("cloudfs: %s (code %d): %s", e.Kind, e.Code, e.Description)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !asError(err, &e) {
		return false
	}

	return e.Kind == kind
}

// asError is a tiny errors.As shim kept local to avoid importing errors
// just for this one call site used by Is.
func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok { //nolint:errorlint // intentional type switch mirrors errors.As
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

// Aborted builds the sentinel error for a cancelled operation: exactly one
// Aborted is ever delivered, regardless of when cancellation lands.
func Aborted() *Error {
	return &Error{Kind: KindAborted, Code: CodeAborted, Description: "aborted"}
}

// NotFound builds a local lookup-miss error (not a remote 404 — use HTTP for that).
func NotFound(description string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Description: description}
}

// ServiceUnavailable builds the error returned when a read-only provider is
// asked to perform a mutating operation, or when no port could be bound for
// the OAuth2 callback server.
func ServiceUnavailable(description string) *Error {
	return &Error{Kind: KindServiceUnavailable, Code: CodeServiceUnavailable, Description: description}
}

// Failure builds a generic synthetic-code failure (transport-level or
// otherwise not classifiable as one of the more specific kinds).
func Failure(description string) *Error {
	return &Error{Kind: KindTransport, Code: CodeFailure, Description: description}
}

// Unimplemented builds the error an operation must return instead of
// silently succeeding when a backend has no way to honor it.
func Unimplemented(operation string) *Error {
	return &Error{Kind: KindUnimplemented, Code: CodeFailure, Description: operation + " is not supported by this backend"}
}

// Auth builds the error surfaced after the reauthorization protocol has
// been exhausted: refresh failed, the user declined, or code exchange
// returned a client error.
func Auth(description string) *Error {
	return &Error{Kind: KindAuth, Code: CodeFailure, Description: description}
}

// Parse builds the error for an unparsable response body. The raw body
// should be embedded in description by the caller.
func Parse(description string) *Error {
	return &Error{Kind: KindParse, Code: CodeFailure, Description: description}
}

// HTTP builds the error for a non-success remote response, embedding the
// response body as the description.
func HTTP(code int, body string) *Error {
	return &Error{Kind: KindHTTP, Code: code, Description: body}
}

// Wrap annotates an underlying transport error (DNS failure, connection
// reset, context deadline) as a KindTransport Error.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}

	if e, ok := err.(*Error); ok { //nolint:errorlint // deliberate passthrough of our own type
		return e
	}

	return &Error{Kind: KindTransport, Code: CodeFailure, Description: err.Error(), Err: err}
}
