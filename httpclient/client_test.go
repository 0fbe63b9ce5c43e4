package httpclient

import (
	"context"
	"errors"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/go-relay/logger"
	"github.com/gaborage/go-relay/retry"
	relaytrace "github.com/gaborage/go-relay/trace"
)

func testLogger() logger.Logger {
	return logger.New("disabled", false)
}

func retryingPolicy(attempts int) retry.Policy {
	return retry.Policy{
		Enabled:         true,
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		Multiplier:      1.0,
		MaxInterval:     10 * time.Millisecond,
	}
}

func TestGetSuccess(t *testing.T) {
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		assert.Equal(t, nethttp.MethodGet, r.Method)
		w.Header().Set("X-Downstream", "yes")
		w.WriteHeader(nethttp.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c := NewClient(testLogger())
	resp, err := c.Get(context.Background(), &Request{URL: server.URL})

	require.NoError(t, err)
	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"ok":true}`, string(resp.Body))
	assert.Equal(t, "yes", resp.Headers.Get("X-Downstream"))
	assert.Equal(t, int64(1), resp.Stats.CallCount)
	assert.Equal(t, 1, resp.Stats.Attempts)
}

func TestPostSendsBodyAndHeaders(t *testing.T) {
	var gotBody string
	var gotContentType, gotCustom, gotDefault string
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		buf, _ := io.ReadAll(r.Body)
		gotBody = string(buf)
		gotContentType = r.Header.Get("Content-Type")
		gotCustom = r.Header.Get("X-Custom")
		gotDefault = r.Header.Get("X-Default")
		w.WriteHeader(nethttp.StatusCreated)
	}))
	defer server.Close()

	c := NewBuilder(testLogger()).
		WithDefaultHeader("X-Default", "base").
		Build()

	resp, err := c.Post(context.Background(), &Request{
		URL:     server.URL,
		Body:    []byte(`{"id":1}`),
		Headers: map[string]string{"X-Custom": "per-request"},
	})

	require.NoError(t, err)
	assert.Equal(t, nethttp.StatusCreated, resp.StatusCode)
	assert.Equal(t, `{"id":1}`, gotBody)
	assert.Equal(t, "application/json", gotContentType, "json content type applied when body present")
	assert.Equal(t, "per-request", gotCustom)
	assert.Equal(t, "base", gotDefault)
}

func TestBasicAuth(t *testing.T) {
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "svc", user)
		assert.Equal(t, "secret", pass)
		w.WriteHeader(nethttp.StatusOK)
	}))
	defer server.Close()

	c := NewBuilder(testLogger()).WithBasicAuth("svc", "secret").Build()
	_, err := c.Get(context.Background(), &Request{URL: server.URL})
	require.NoError(t, err)
}

func TestRequestValidation(t *testing.T) {
	c := NewClient(testLogger())

	_, err := c.Get(context.Background(), nil)
	assert.True(t, IsErrorType(err, ValidationError))

	_, err = c.Get(context.Background(), &Request{})
	assert.True(t, IsErrorType(err, ValidationError))
}

func TestServerErrorWithoutRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		calls.Add(1)
		w.WriteHeader(nethttp.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	c := NewClient(testLogger())
	resp, err := c.Get(context.Background(), &Request{URL: server.URL})

	require.Error(t, err)
	assert.True(t, IsErrorType(err, HTTPError))
	assert.True(t, IsHTTPStatusError(err, nethttp.StatusBadGateway))
	assert.Equal(t, int32(1), calls.Load(), "retries disabled by default")
	require.NotNil(t, resp, "response returned alongside status error")
	assert.Equal(t, "upstream down", string(resp.Body))
}

func TestServerErrorRetriedUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(nethttp.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(nethttp.StatusOK)
		_, _ = w.Write([]byte("recovered"))
	}))
	defer server.Close()

	c := NewBuilder(testLogger()).WithRetryPolicy(retryingPolicy(5)).Build()
	resp, err := c.Get(context.Background(), &Request{URL: server.URL})

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 3, resp.Stats.Attempts)
	assert.Equal(t, "recovered", string(resp.Body))
}

func TestServerErrorExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		calls.Add(1)
		w.WriteHeader(nethttp.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewBuilder(testLogger()).WithRetryPolicy(retryingPolicy(3)).Build()
	resp, err := c.Get(context.Background(), &Request{URL: server.URL})

	require.Error(t, err)
	assert.True(t, IsHTTPStatusError(err, nethttp.StatusInternalServerError))
	assert.Equal(t, int32(3), calls.Load())
	require.NotNil(t, resp)
	assert.Equal(t, 3, resp.Stats.Attempts)
}

func TestClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		calls.Add(1)
		w.WriteHeader(nethttp.StatusNotFound)
	}))
	defer server.Close()

	c := NewBuilder(testLogger()).WithRetryPolicy(retryingPolicy(5)).Build()
	_, err := c.Get(context.Background(), &Request{URL: server.URL})

	require.Error(t, err)
	assert.True(t, IsHTTPStatusError(err, nethttp.StatusNotFound))
	assert.Equal(t, int32(1), calls.Load(), "4xx halts the retry loop")
}

func TestNetworkErrorRetried(t *testing.T) {
	// Point at a closed port: every attempt fails with a transport error.
	server := httptest.NewServer(nethttp.HandlerFunc(func(nethttp.ResponseWriter, *nethttp.Request) {}))
	url := server.URL
	server.Close()

	c := NewBuilder(testLogger()).WithRetryPolicy(retryingPolicy(2)).Build()
	resp, err := c.Get(context.Background(), &Request{URL: url})

	require.Error(t, err)
	assert.True(t, IsErrorType(err, NetworkError))
	assert.Nil(t, resp)
}

func TestTimeout(t *testing.T) {
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(nethttp.StatusOK)
	}))
	defer server.Close()

	c := NewBuilder(testLogger()).WithTimeout(30 * time.Millisecond).Build()
	_, err := c.Get(context.Background(), &Request{URL: server.URL})

	require.Error(t, err)
	assert.True(t, IsErrorType(err, TimeoutError))
}

func TestRequestInterceptor(t *testing.T) {
	var gotHeader string
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		gotHeader = r.Header.Get("X-Injected")
		w.WriteHeader(nethttp.StatusOK)
	}))
	defer server.Close()

	c := NewBuilder(testLogger()).
		WithRequestInterceptor(func(_ context.Context, req *nethttp.Request) error {
			req.Header.Set("X-Injected", "v1")
			return nil
		}).
		Build()

	_, err := c.Get(context.Background(), &Request{URL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, "v1", gotHeader)
}

func TestInterceptorErrorHaltsRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		calls.Add(1)
		w.WriteHeader(nethttp.StatusOK)
	}))
	defer server.Close()

	boom := errors.New("interceptor boom")
	c := NewBuilder(testLogger()).
		WithRetryPolicy(retryingPolicy(5)).
		WithResponseInterceptor(func(context.Context, *nethttp.Request, *nethttp.Response) error {
			return boom
		}).
		Build()

	_, err := c.Get(context.Background(), &Request{URL: server.URL})

	require.Error(t, err)
	assert.True(t, IsErrorType(err, InterceptorError))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTraceInterceptorPropagatesContext(t *testing.T) {
	var gotID, gotParent string
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		gotID = r.Header.Get(HeaderXRequestID)
		gotParent = r.Header.Get(HeaderTraceParent)
		w.WriteHeader(nethttp.StatusOK)
	}))
	defer server.Close()

	c := NewBuilder(testLogger()).
		WithRequestInterceptor(NewTraceInterceptor()).
		Build()

	ctx := relaytrace.WithTraceID(context.Background(), "relay-trace-1")
	ctx = relaytrace.WithTraceParent(ctx, "00-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa-bbbbbbbbbbbbbbbb-01")
	_, err := c.Get(ctx, &Request{URL: server.URL})

	require.NoError(t, err)
	assert.Equal(t, "relay-trace-1", gotID)
	assert.Equal(t, "00-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa-bbbbbbbbbbbbbbbb-01", gotParent)
}

func TestCancellationDuringRetryWait(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		calls.Add(1)
		w.WriteHeader(nethttp.StatusInternalServerError)
	}))
	defer server.Close()

	policy := retry.Policy{
		Enabled:         true,
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		Multiplier:      1.0,
		MaxInterval:     time.Second,
	}
	c := NewBuilder(testLogger()).WithRetryPolicy(policy).Build()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := c.Get(ctx, &Request{URL: server.URL})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), calls.Load(), "no further attempts after cancellation")
}

func TestRateLimiterSpacesRequests(t *testing.T) {
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		w.WriteHeader(nethttp.StatusOK)
	}))
	defer server.Close()

	c := NewBuilder(testLogger()).WithRateLimit(20, 1).Build()

	start := time.Now()
	for range 3 {
		_, err := c.Get(context.Background(), &Request{URL: server.URL})
		require.NoError(t, err)
	}

	// 20 req/s with burst 1: requests 2 and 3 wait ~50ms each.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestDoMethods(t *testing.T) {
	var gotMethod string
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		gotMethod = r.Method
		w.WriteHeader(nethttp.StatusOK)
	}))
	defer server.Close()

	c := NewClient(testLogger())
	ctx := context.Background()
	req := &Request{URL: server.URL}

	tests := []struct {
		method string
		call   func() (*Response, error)
	}{
		{nethttp.MethodPut, func() (*Response, error) { return c.Put(ctx, req) }},
		{nethttp.MethodPatch, func() (*Response, error) { return c.Patch(ctx, req) }},
		{nethttp.MethodDelete, func() (*Response, error) { return c.Delete(ctx, req) }},
	}
	for _, tt := range tests {
		_, err := tt.call()
		require.NoError(t, err)
		assert.Equal(t, tt.method, gotMethod)
	}
}
