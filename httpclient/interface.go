// Package httpclient provides the outbound HTTP client used to invoke the
// downstream service for each relayed message. Requests run under a
// configurable retry policy; trace headers are propagated on every attempt.
package httpclient

import (
	"context"
	nethttp "net/http"
	"time"

	"github.com/gaborage/go-relay/retry"
	relaytrace "github.com/gaborage/go-relay/trace"
)

const (
	// HeaderXRequestID is the standard header name for request tracing
	HeaderXRequestID = relaytrace.HeaderXRequestID
	// HeaderTraceParent is the W3C trace context header name
	HeaderTraceParent = relaytrace.HeaderTraceParent
	// HeaderTraceState is the W3C trace context "tracestate" header name
	HeaderTraceState = relaytrace.HeaderTraceState
)

// Client defines the HTTP client interface for making outbound requests
type Client interface {
	Get(ctx context.Context, req *Request) (*Response, error)
	Post(ctx context.Context, req *Request) (*Response, error)
	Put(ctx context.Context, req *Request) (*Response, error)
	Patch(ctx context.Context, req *Request) (*Response, error)
	Delete(ctx context.Context, req *Request) (*Response, error)
	Do(ctx context.Context, method string, req *Request) (*Response, error)
}

// Request represents an HTTP request with all necessary data
type Request struct {
	URL     string
	Headers map[string]string
	Body    []byte
	Auth    *BasicAuth
}

// Response represents an HTTP response with tracking information
type Response struct {
	StatusCode int
	Body       []byte
	Headers    nethttp.Header
	Stats      Stats
}

// Stats contains request execution statistics
type Stats struct {
	ElapsedTime time.Duration
	CallCount   int64
	// Attempts is the number of invocations made by the retry executor for
	// this call, including the first.
	Attempts int
}

// BasicAuth contains basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// RequestInterceptor is called before sending the request
type RequestInterceptor func(ctx context.Context, req *nethttp.Request) error

// ResponseInterceptor is called after receiving the response
type ResponseInterceptor func(ctx context.Context, req *nethttp.Request, resp *nethttp.Response) error

// Config holds the HTTP client configuration
type Config struct {
	Timeout time.Duration
	// Retry governs how failed attempts are reattempted. A disabled policy
	// keeps the client single-shot.
	Retry                retry.Policy
	RequestInterceptors  []RequestInterceptor
	ResponseInterceptors []ResponseInterceptor
	BasicAuth            *BasicAuth
	DefaultHeaders       map[string]string
	// RateLimit caps outbound requests per second; zero disables the limiter.
	RateLimit int
	// RateBurst is the limiter burst size when RateLimit is set.
	RateBurst int
	// LogPayloads enables debug-level logging of headers and body payloads
	LogPayloads bool
	// MaxPayloadLogBytes caps the number of body bytes logged when LogPayloads is enabled
	MaxPayloadLogBytes int
}

// NewTraceInterceptor creates a request interceptor that attaches trace
// headers from the context to every outbound attempt. A missing trace ID is
// generated so the downstream service can always correlate the call.
func NewTraceInterceptor() RequestInterceptor {
	return func(ctx context.Context, req *nethttp.Request) error {
		if req.Header.Get(HeaderXRequestID) == "" {
			req.Header.Set(HeaderXRequestID, relaytrace.EnsureTraceID(ctx))
		}
		if req.Header.Get(HeaderTraceParent) == "" {
			if tp, ok := relaytrace.ParentFromContext(ctx); ok {
				req.Header.Set(HeaderTraceParent, tp)
				if ts, ok := relaytrace.StateFromContext(ctx); ok {
					req.Header.Set(HeaderTraceState, ts)
				}
			}
		}
		return nil
	}
}
