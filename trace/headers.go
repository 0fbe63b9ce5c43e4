package trace

import (
	"context"
	"fmt"
)

// HeaderAccessor abstracts reading and writing trace headers on a carrier,
// such as AMQP message headers or an outbound HTTP request.
type HeaderAccessor interface {
	Get(key string) any
	Set(key string, value any)
}

// InjectIntoHeaders writes the trace context from ctx into the carrier.
// A trace ID is generated when the context carries none, so every outbound
// message or request leaves the process with correlation headers attached.
func InjectIntoHeaders(ctx context.Context, headers HeaderAccessor) {
	headers.Set(HeaderXRequestID, EnsureTraceID(ctx))

	if tp, ok := ParentFromContext(ctx); ok {
		headers.Set(HeaderTraceParent, tp)
		if ts, ok := StateFromContext(ctx); ok {
			headers.Set(HeaderTraceState, ts)
		}
	}
}

// ExtractFromHeaders returns a context enriched with the trace values found
// in the carrier. Missing or non-string values are ignored.
func ExtractFromHeaders(ctx context.Context, headers HeaderAccessor) context.Context {
	if id := headerString(headers, HeaderXRequestID); id != "" {
		ctx = WithTraceID(ctx, id)
	}
	if tp := headerString(headers, HeaderTraceParent); tp != "" {
		ctx = WithTraceParent(ctx, tp)
	}
	if ts := headerString(headers, HeaderTraceState); ts != "" {
		ctx = WithTraceState(ctx, ts)
	}
	return ctx
}

func headerString(headers HeaderAccessor, key string) string {
	switch v := headers.Get(key).(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}
