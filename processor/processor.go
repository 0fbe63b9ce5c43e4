package processor

import (
	"context"
	"encoding/json"
	"fmt"
	nethttp "net/http"
	"strings"

	"github.com/gaborage/go-relay/httpclient"
	"github.com/gaborage/go-relay/logger"
)

// Envelope is the response view the reply selector operates on. It is also
// the reply value itself when the entity selector is configured.
type Envelope struct {
	StatusCode int             `json:"status_code"`
	Headers    nethttp.Header  `json:"headers"`
	Body       any             `json:"body"`
}

// Processor turns messages into HTTP requests and responses into reply
// values. It is stateless and safe for concurrent use by the consumer
// worker pool.
type Processor struct {
	spec   *RequestSpec
	client httpclient.Client
	log    logger.Logger
}

// New creates a processor for the given spec and client.
func New(spec *RequestSpec, client httpclient.Client, log logger.Logger) *Processor {
	return &Processor{
		spec:   spec,
		client: client,
		log:    log,
	}
}

// Process derives the request for msg, invokes the downstream service (the
// client applies the retry policy), decodes the response, and returns the
// selected reply value. Expression failures surface before any HTTP attempt
// and are never retried.
func (p *Processor) Process(ctx context.Context, msg *Message) (any, error) {
	req, method, err := p.deriveRequest(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("derive request: %w", err)
	}

	resp, err := p.client.Do(ctx, method, req)
	if err != nil {
		return nil, err
	}

	body, err := p.decodeBody(resp.Body)
	if err != nil {
		return nil, err
	}

	switch p.spec.Reply {
	case SelectStatusCode:
		return resp.StatusCode, nil
	case SelectHeaders:
		return resp.Headers, nil
	case SelectEntity:
		return &Envelope{
			StatusCode: resp.StatusCode,
			Headers:    resp.Headers,
			Body:       body,
		}, nil
	default:
		return body, nil
	}
}

// deriveRequest evaluates the spec's expressions against the message.
func (p *Processor) deriveRequest(ctx context.Context, msg *Message) (*httpclient.Request, string, error) {
	urlValue, err := p.spec.URL.Evaluate(ctx, msg)
	if err != nil {
		return nil, "", fmt.Errorf("url: %w", err)
	}
	url, err := coerceString(urlValue)
	if err != nil {
		return nil, "", fmt.Errorf("url: %w", err)
	}

	methodValue, err := p.spec.Method.Evaluate(ctx, msg)
	if err != nil {
		return nil, "", fmt.Errorf("method: %w", err)
	}
	method, err := coerceString(methodValue)
	if err != nil {
		return nil, "", fmt.Errorf("method: %w", err)
	}
	method = strings.ToUpper(strings.TrimSpace(method))

	body, err := p.deriveBody(ctx, msg)
	if err != nil {
		return nil, "", err
	}

	headers, err := p.deriveHeaders(ctx, msg)
	if err != nil {
		return nil, "", err
	}

	return &httpclient.Request{
		URL:     url,
		Headers: headers,
		Body:    body,
	}, method, nil
}

// deriveBody resolves the request body. A spec without a body source passes
// the raw message payload through.
func (p *Processor) deriveBody(ctx context.Context, msg *Message) ([]byte, error) {
	if p.spec.Body == nil {
		return msg.Payload, nil
	}

	value, err := p.spec.Body.Evaluate(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("body: %w", err)
	}
	return coerceBody(value)
}

func (p *Processor) deriveHeaders(ctx context.Context, msg *Message) (map[string]string, error) {
	if p.spec.Headers == nil {
		return nil, nil
	}

	value, err := p.spec.Headers.Evaluate(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("headers: %w", err)
	}
	return coerceHeaders(value)
}

// decodeBody applies the configured response decoder.
func (p *Processor) decodeBody(raw []byte) (any, error) {
	switch p.spec.ResponseType {
	case ResponseBytes:
		return raw, nil
	case ResponseJSON:
		if len(raw) == 0 {
			return nil, nil
		}
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, fmt.Errorf("decode json response: %w", err)
		}
		return decoded, nil
	default:
		return string(raw), nil
	}
}

// coerceString converts expression results that sensibly represent a string.
func coerceString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return "", fmt.Errorf("expected a string value, got %T", value)
	}
}

// coerceBody converts an expression result into request body bytes. Values
// that are not already textual are JSON-marshaled.
func coerceBody(value any) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("body: marshal %T: %w", value, err)
		}
		return data, nil
	}
}

// coerceHeaders converts an expression result into a header map.
func coerceHeaders(value any) (map[string]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case map[string]string:
		return v, nil
	case map[string]any:
		headers := make(map[string]string, len(v))
		for key, raw := range v {
			s, err := coerceString(raw)
			if err != nil {
				return nil, fmt.Errorf("headers: value for %q: %w", key, err)
			}
			headers[key] = s
		}
		return headers, nil
	default:
		return nil, fmt.Errorf("headers: expected a map, got %T", value)
	}
}
