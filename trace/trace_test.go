package trace

import (
	"context"
	nethttp "net/http"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderConstants(t *testing.T) {
	assert.Equal(t, "X-Request-ID", HeaderXRequestID)
	assert.Equal(t, "traceparent", HeaderTraceParent)
	assert.Equal(t, "tracestate", HeaderTraceState)
}

func TestEnsureTraceID_UsesExisting(t *testing.T) {
	ctx := WithTraceID(context.Background(), "existing-trace-id")
	got := EnsureTraceID(ctx)
	assert.Equal(t, "existing-trace-id", got)
}

func TestEnsureTraceID_GeneratesWhenMissing(t *testing.T) {
	got := EnsureTraceID(context.Background())
	// UUID v4 format: 36 chars with hyphens
	re := regexp.MustCompile(`^[a-f0-9\-]{36}$`)
	assert.True(t, re.MatchString(strings.ToLower(got)))
}

func TestTraceParent_ContextRoundTrip(t *testing.T) {
	in := "00-0123456789abcdef0123456789abcdef-0123456789abcdef-01"
	ctx := WithTraceParent(context.Background(), in)
	out, ok := ParentFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, in, out)
}

func TestTraceState_ContextRoundTrip(t *testing.T) {
	in := "vendor=a:b,c=d"
	ctx := WithTraceState(context.Background(), in)
	out, ok := StateFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, in, out)
}

func TestGenerateTraceParent_Format(t *testing.T) {
	tp := GenerateTraceParent()
	// Basic format checks
	assert.True(t, strings.HasPrefix(tp, "00-"))
	parts := strings.Split(tp, "-")
	require.Len(t, parts, 4)
	// version, trace-id, span-id, flags
	assert.Equal(t, 2, len(parts[0]))
	assert.Equal(t, 32, len(parts[1]))
	assert.Equal(t, 16, len(parts[2]))
	assert.Equal(t, 2, len(parts[3]))
	// Lowercase hex
	hexRe := regexp.MustCompile(`^[0-9a-f]+$`)
	assert.True(t, hexRe.MatchString(parts[1]))
	assert.True(t, hexRe.MatchString(parts[2]))
	assert.Equal(t, "01", parts[3])
}

func TestIDFromContext_Missing(t *testing.T) {
	_, ok := IDFromContext(context.Background())
	assert.False(t, ok)
}

func TestInjectIntoHeaders_WritesContextValues(t *testing.T) {
	headers := nethttp.Header{}
	acc := httpHeaderAccessor{h: headers}

	ctx := WithTraceID(context.Background(), "ctx-xid")
	ctx = WithTraceParent(ctx, "00-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa-bbbbbbbbbbbbbbbb-01")
	ctx = WithTraceState(ctx, "vendor=ctx")

	InjectIntoHeaders(ctx, &acc)

	assert.Equal(t, "ctx-xid", headers.Get(HeaderXRequestID))
	assert.Equal(t, "00-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa-bbbbbbbbbbbbbbbb-01", headers.Get(HeaderTraceParent))
	assert.Equal(t, "vendor=ctx", headers.Get(HeaderTraceState))
}

func TestInjectIntoHeaders_GeneratesTraceIDWhenMissing(t *testing.T) {
	headers := nethttp.Header{}
	acc := httpHeaderAccessor{h: headers}

	InjectIntoHeaders(context.Background(), &acc)

	assert.NotEmpty(t, headers.Get(HeaderXRequestID))
	assert.Empty(t, headers.Get(HeaderTraceParent), "no traceparent invented without context value")
}

func TestExtractFromHeaders_RoundTrip(t *testing.T) {
	headers := nethttp.Header{}
	headers.Set(HeaderXRequestID, "msg-xid")
	headers.Set(HeaderTraceParent, "00-deadbeefdeadbeefdeadbeefdeadbeef-0123456789abcdef-01")
	headers.Set(HeaderTraceState, "vendor=x")
	acc := httpHeaderAccessor{h: headers}

	ctx := ExtractFromHeaders(context.Background(), &acc)

	id, ok := IDFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "msg-xid", id)
	tp, ok := ParentFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "00-deadbeefdeadbeefdeadbeefdeadbeef-0123456789abcdef-01", tp)
	ts, ok := StateFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "vendor=x", ts)
}

func TestExtractFromHeaders_IgnoresMissingAndNonString(t *testing.T) {
	acc := mapHeaderAccessor{m: map[string]any{
		HeaderXRequestID:  42,
		HeaderTraceParent: []byte("00-deadbeefdeadbeefdeadbeefdeadbeef-0123456789abcdef-01"),
	}}

	ctx := ExtractFromHeaders(context.Background(), &acc)

	_, ok := IDFromContext(ctx)
	assert.False(t, ok, "non-string trace ID must be ignored")
	tp, ok := ParentFromContext(ctx)
	require.True(t, ok, "byte-slice headers are accepted")
	assert.Equal(t, "00-deadbeefdeadbeefdeadbeefdeadbeef-0123456789abcdef-01", tp)
}

// Minimal http header accessor for tests
type httpHeaderAccessor struct{ h nethttp.Header }

func (a *httpHeaderAccessor) Get(key string) any { return a.h.Get(key) }
func (a *httpHeaderAccessor) Set(key string, value any) {
	if v, ok := value.(string); ok {
		a.h.Set(key, v)
	}
}

type mapHeaderAccessor struct{ m map[string]any }

func (a *mapHeaderAccessor) Get(key string) any        { return a.m[key] }
func (a *mapHeaderAccessor) Set(key string, value any) { a.m[key] = value }
