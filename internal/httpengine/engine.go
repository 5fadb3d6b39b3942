// Package httpengine defines the pluggable HTTP transport the core issues
// every wire request through, plus a default net/http-backed
// implementation.
package httpengine

import (
	"context"
	"io"
	"net/http"
)

// Callback exposes cancellation checks and progress hooks to the engine
// while a request is in flight.
type Callback interface {
	// IsCancelled is polled by the engine to abort early; the default
	// engine checks it before each attempt.
	IsCancelled() bool
	// IsSuccess allows a caller to widen or narrow the default [200,399]
	// success range (e.g. treat 206 Partial Content specially).
	IsSuccess(code int, headers http.Header) bool
	// OnUploadProgress and OnDownloadProgress report (total, now) byte
	// counts; total may be -1 if unknown. Either may be nil.
	OnUploadProgress(total, now int64)
	OnDownloadProgress(total, now int64)
}

// NopCallback is the zero-value Callback: never cancelled, default success
// range, no progress reporting.
type NopCallback struct{}

func (NopCallback) IsCancelled() bool { return false }
func (NopCallback) IsSuccess(code int, _ http.Header) bool {
	return code >= http.StatusOK && code < 400
}
func (NopCallback) OnUploadProgress(int64, int64)   {}
func (NopCallback) OnDownloadProgress(int64, int64) {}

// Response is what Send returns on either success or failure. Exactly one
// of Body/ErrorBody is populated.
type Response struct {
	HTTPCode int
	Headers  http.Header
	Body     io.ReadCloser // 2xx/3xx payload; caller must Close
	ErrorBody []byte       // non-success payload, already fully read
}

// Success reports whether the response should be treated as a success,
// combining the default [200,399] rule with an optional Callback override.
func (r *Response) Success(cb Callback) bool {
	if cb == nil {
		cb = NopCallback{}
	}

	if r.HTTPCode >= http.StatusOK && r.HTTPCode < 400 {
		return true
	}

	return cb.IsSuccess(r.HTTPCode, r.Headers)
}

// Request is one configured-but-not-yet-sent HTTP call. Query and header
// parameter setters may be called in any order; the last writer for a given
// key wins.
type Request interface {
	SetParameter(key, value string)
	SetHeaderParameter(key, value string)

	// Send executes the request. bodyIn, if non-nil, is streamed as the
	// request body. The call blocks until completion or ctx is cancelled;
	// Callback.IsCancelled is additionally polled so engines that support
	// finer-grained abort (e.g. mid-upload) can stop sooner than ctx alone
	// would allow.
	Send(ctx context.Context, bodyIn io.Reader, cb Callback) (*Response, error)
}

// Engine is the pluggable transport factory. The core never
// assumes a specific TLS or connection-pool implementation.
type Engine interface {
	// Create builds a new Request. followRedirect=false means a 3xx
	// response must be reported as-is (with Location in Headers) instead
	// of being followed.
	Create(url, method string, followRedirect bool) Request
}
