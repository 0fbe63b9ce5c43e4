package processor

import (
	"context"
	"errors"
	nethttp "net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/go-relay/config"
	"github.com/gaborage/go-relay/httpclient"
	"github.com/gaborage/go-relay/logger"
)

// mockClient records the last request and returns a canned response.
type mockClient struct {
	lastMethod string
	lastReq    *httpclient.Request
	resp       *httpclient.Response
	err        error
}

func (m *mockClient) Do(_ context.Context, method string, req *httpclient.Request) (*httpclient.Response, error) {
	m.lastMethod = method
	m.lastReq = req
	return m.resp, m.err
}

func (m *mockClient) Get(ctx context.Context, req *httpclient.Request) (*httpclient.Response, error) {
	return m.Do(ctx, nethttp.MethodGet, req)
}
func (m *mockClient) Post(ctx context.Context, req *httpclient.Request) (*httpclient.Response, error) {
	return m.Do(ctx, nethttp.MethodPost, req)
}
func (m *mockClient) Put(ctx context.Context, req *httpclient.Request) (*httpclient.Response, error) {
	return m.Do(ctx, nethttp.MethodPut, req)
}
func (m *mockClient) Patch(ctx context.Context, req *httpclient.Request) (*httpclient.Response, error) {
	return m.Do(ctx, nethttp.MethodPatch, req)
}
func (m *mockClient) Delete(ctx context.Context, req *httpclient.Request) (*httpclient.Response, error) {
	return m.Do(ctx, nethttp.MethodDelete, req)
}

func testLogger() logger.Logger {
	return logger.New("disabled", true)
}

func newTestProcessor(t *testing.T, cfg *config.HTTPClientConfig, reg *Registry, client httpclient.Client) *Processor {
	t.Helper()
	if reg == nil {
		reg = NewRegistry()
	}
	spec, err := BuildSpec(cfg, reg)
	require.NoError(t, err)
	return New(spec, client, testLogger())
}

func okResponse(body string) *httpclient.Response {
	return &httpclient.Response{
		StatusCode: nethttp.StatusOK,
		Body:       []byte(body),
		Headers:    nethttp.Header{"Content-Type": []string{"application/json"}},
	}
}

func TestProcessReturnsDecodedBodyByDefault(t *testing.T) {
	client := &mockClient{resp: okResponse("pong")}
	p := newTestProcessor(t, validClientConfig(), nil, client)

	reply, err := p.Process(context.Background(), NewMessage([]byte("ping"), nil))
	require.NoError(t, err)
	assert.Equal(t, "pong", reply)

	// Payload passes through as the request body when no body source is set
	assert.Equal(t, []byte("ping"), client.lastReq.Body)
	assert.Equal(t, "GET", client.lastMethod)
	assert.Equal(t, "https://api.internal/orders", client.lastReq.URL)
}

func TestProcessJSONResponseType(t *testing.T) {
	cfg := validClientConfig()
	cfg.ExpectedResponseType = config.ResponseTypeJSON

	client := &mockClient{resp: okResponse(`{"status":"created","id":7}`)}
	p := newTestProcessor(t, cfg, nil, client)

	reply, err := p.Process(context.Background(), NewMessage(nil, nil))
	require.NoError(t, err)

	decoded, ok := reply.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "created", decoded["status"])
	assert.Equal(t, float64(7), decoded["id"])
}

func TestProcessJSONResponseEmptyBody(t *testing.T) {
	cfg := validClientConfig()
	cfg.ExpectedResponseType = config.ResponseTypeJSON

	client := &mockClient{resp: okResponse("")}
	p := newTestProcessor(t, cfg, nil, client)

	reply, err := p.Process(context.Background(), NewMessage(nil, nil))
	require.NoError(t, err)
	assert.Nil(t, reply)
}

func TestProcessJSONResponseInvalid(t *testing.T) {
	cfg := validClientConfig()
	cfg.ExpectedResponseType = config.ResponseTypeJSON

	client := &mockClient{resp: okResponse("{not json")}
	p := newTestProcessor(t, cfg, nil, client)

	_, err := p.Process(context.Background(), NewMessage(nil, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode json response")
}

func TestProcessBytesResponseType(t *testing.T) {
	cfg := validClientConfig()
	cfg.ExpectedResponseType = config.ResponseTypeBytes

	client := &mockClient{resp: okResponse("raw-bytes")}
	p := newTestProcessor(t, cfg, nil, client)

	reply, err := p.Process(context.Background(), NewMessage(nil, nil))
	require.NoError(t, err)
	assert.Equal(t, []byte("raw-bytes"), reply)
}

func TestProcessReplySelectors(t *testing.T) {
	resp := &httpclient.Response{
		StatusCode: nethttp.StatusCreated,
		Body:       []byte("created"),
		Headers:    nethttp.Header{"Location": []string{"/orders/7"}},
	}

	t.Run("status_code", func(t *testing.T) {
		cfg := validClientConfig()
		cfg.ReplyExpression = config.ReplyStatusCode
		p := newTestProcessor(t, cfg, nil, &mockClient{resp: resp})

		reply, err := p.Process(context.Background(), NewMessage(nil, nil))
		require.NoError(t, err)
		assert.Equal(t, nethttp.StatusCreated, reply)
	})

	t.Run("headers", func(t *testing.T) {
		cfg := validClientConfig()
		cfg.ReplyExpression = config.ReplyHeaders
		p := newTestProcessor(t, cfg, nil, &mockClient{resp: resp})

		reply, err := p.Process(context.Background(), NewMessage(nil, nil))
		require.NoError(t, err)
		assert.Equal(t, resp.Headers, reply)
	})

	t.Run("entity", func(t *testing.T) {
		cfg := validClientConfig()
		cfg.ReplyExpression = config.ReplyEntity
		p := newTestProcessor(t, cfg, nil, &mockClient{resp: resp})

		reply, err := p.Process(context.Background(), NewMessage(nil, nil))
		require.NoError(t, err)

		envelope, ok := reply.(*Envelope)
		require.True(t, ok)
		assert.Equal(t, nethttp.StatusCreated, envelope.StatusCode)
		assert.Equal(t, "created", envelope.Body)
		assert.Equal(t, []string{"/orders/7"}, envelope.Headers["Location"])
	})
}

func TestProcessDynamicRequestDerivation(t *testing.T) {
	reg := NewRegistry()
	reg.Register("url-from-header", Header("target_url"))
	reg.Register("method-from-header", Header("http_method"))
	reg.Register("body-from-payload", Func(func(_ context.Context, msg *Message) (any, error) {
		return map[string]any{"wrapped": string(msg.Payload)}, nil
	}))
	reg.Register("trace-headers", Literal(map[string]string{"X-Source": "relay"}))

	cfg := validClientConfig()
	cfg.URL = ""
	cfg.URLExpression = "url-from-header"
	cfg.HTTPMethodExpression = "method-from-header"
	cfg.BodyExpression = "body-from-payload"
	cfg.HeadersExpression = "trace-headers"

	client := &mockClient{resp: okResponse("ok")}
	p := newTestProcessor(t, cfg, reg, client)

	msg := NewMessage([]byte("o-42"), map[string]any{
		"target_url":  "https://api.internal/orders/o-42",
		"http_method": "put",
	})

	_, err := p.Process(context.Background(), msg)
	require.NoError(t, err)

	assert.Equal(t, "PUT", client.lastMethod)
	assert.Equal(t, "https://api.internal/orders/o-42", client.lastReq.URL)
	assert.JSONEq(t, `{"wrapped":"o-42"}`, string(client.lastReq.Body))
	assert.Equal(t, map[string]string{"X-Source": "relay"}, client.lastReq.Headers)
}

func TestProcessExpressionFailureSkipsHTTP(t *testing.T) {
	reg := NewRegistry()
	reg.Register("failing-url", Func(func(context.Context, *Message) (any, error) {
		return nil, errors.New("no url for message")
	}))

	cfg := validClientConfig()
	cfg.URL = ""
	cfg.URLExpression = "failing-url"

	client := &mockClient{resp: okResponse("never")}
	p := newTestProcessor(t, cfg, reg, client)

	_, err := p.Process(context.Background(), NewMessage(nil, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "derive request")
	assert.Nil(t, client.lastReq, "client must not be invoked when derivation fails")
}

func TestProcessNonStringURLRejected(t *testing.T) {
	reg := NewRegistry()
	reg.Register("numeric-url", Literal(12345))

	cfg := validClientConfig()
	cfg.URL = ""
	cfg.URLExpression = "numeric-url"

	p := newTestProcessor(t, cfg, reg, &mockClient{resp: okResponse("x")})

	_, err := p.Process(context.Background(), NewMessage(nil, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected a string value")
}

func TestProcessClientErrorPropagates(t *testing.T) {
	boom := httpclient.NewHTTPError("bad gateway", nethttp.StatusBadGateway, nil)
	client := &mockClient{err: boom}
	p := newTestProcessor(t, validClientConfig(), nil, client)

	_, err := p.Process(context.Background(), NewMessage(nil, nil))
	assert.ErrorIs(t, err, boom)
}

func TestCoerceBodyVariants(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected []byte
	}{
		{"nil", nil, nil},
		{"bytes", []byte("raw"), []byte("raw")},
		{"string", "text", []byte("text")},
		{"map marshals to json", map[string]string{"k": "v"}, []byte(`{"k":"v"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := coerceBody(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestCoerceHeadersVariants(t *testing.T) {
	got, err := coerceHeaders(map[string]any{"A": "1", "B": []byte("2")})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "1", "B": "2"}, got)

	_, err = coerceHeaders("not-a-map")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected a map")

	_, err = coerceHeaders(map[string]any{"A": 3.14})
	require.Error(t, err)
}
