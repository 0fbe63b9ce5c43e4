package processor

import (
	"fmt"
	"strings"

	"github.com/gaborage/go-relay/config"
)

// ResponseType selects how the downstream response body is decoded.
type ResponseType string

const (
	ResponseText  ResponseType = config.ResponseTypeText
	ResponseBytes ResponseType = config.ResponseTypeBytes
	ResponseJSON  ResponseType = config.ResponseTypeJSON
)

// ReplySelector names the part of the response envelope that becomes the
// reply value published downstream.
type ReplySelector string

const (
	// SelectBody is the default: the decoded response body.
	SelectBody ReplySelector = config.ReplyBody
	// SelectStatusCode yields the numeric HTTP status.
	SelectStatusCode ReplySelector = config.ReplyStatusCode
	// SelectHeaders yields the response header map.
	SelectHeaders ReplySelector = config.ReplyHeaders
	// SelectEntity yields the whole envelope: status, headers, and body.
	SelectEntity ReplySelector = config.ReplyEntity
)

// RequestSpec holds the per-message request derivation rules. Each concern is
// a single expression slot, so "exactly one source" holds by construction:
// BuildSpec fills the slot from the static value or the named expression,
// never both.
type RequestSpec struct {
	// URL yields the target URL for a message.
	URL Expression
	// Method yields the HTTP method for a message.
	Method Expression
	// Body yields the request body; nil means the raw message payload is
	// passed through unchanged.
	Body Expression
	// Headers optionally yields a header map for the request.
	Headers Expression
	// ResponseType selects the body decoder.
	ResponseType ResponseType
	// Reply selects what is extracted from the response envelope.
	Reply ReplySelector
}

// BuildSpec constructs a RequestSpec from validated configuration, resolving
// every *_expression key against the registry. A named expression that is not
// registered is a startup error.
func BuildSpec(cfg *config.HTTPClientConfig, registry *Registry) (*RequestSpec, error) {
	spec := &RequestSpec{
		ResponseType: ResponseType(cfg.ExpectedResponseType),
		Reply:        ReplySelector(cfg.ReplyExpression),
	}

	switch {
	case cfg.URL != "" && cfg.URLExpression != "":
		return nil, fmt.Errorf("exactly one of 'url' or 'url_expression' is required, both are set")
	case cfg.URL != "":
		spec.URL = Literal(cfg.URL)
	case cfg.URLExpression != "":
		expr, err := registry.Resolve(cfg.URLExpression)
		if err != nil {
			return nil, fmt.Errorf("url_expression: %w", err)
		}
		spec.URL = expr
	default:
		return nil, fmt.Errorf("exactly one of 'url' or 'url_expression' is required")
	}

	if cfg.HTTPMethodExpression != "" {
		expr, err := registry.Resolve(cfg.HTTPMethodExpression)
		if err != nil {
			return nil, fmt.Errorf("http_method_expression: %w", err)
		}
		spec.Method = expr
	} else {
		method := cfg.HTTPMethod
		if method == "" {
			method = "GET"
		}
		spec.Method = Literal(strings.ToUpper(method))
	}

	switch {
	case cfg.Body != "" && cfg.BodyExpression != "":
		return nil, fmt.Errorf("at most one of 'body' or 'body_expression' is allowed")
	case cfg.Body != "":
		spec.Body = Literal(cfg.Body)
	case cfg.BodyExpression != "":
		expr, err := registry.Resolve(cfg.BodyExpression)
		if err != nil {
			return nil, fmt.Errorf("body_expression: %w", err)
		}
		spec.Body = expr
	}
	// A nil Body passes the message payload through unchanged.

	if cfg.HeadersExpression != "" {
		expr, err := registry.Resolve(cfg.HeadersExpression)
		if err != nil {
			return nil, fmt.Errorf("headers_expression: %w", err)
		}
		spec.Headers = expr
	}

	switch spec.ResponseType {
	case ResponseText, ResponseBytes, ResponseJSON:
	default:
		return nil, fmt.Errorf("unknown expected response type %q", cfg.ExpectedResponseType)
	}

	switch spec.Reply {
	case SelectBody, SelectStatusCode, SelectHeaders, SelectEntity:
	default:
		return nil, fmt.Errorf("unknown reply expression %q", cfg.ReplyExpression)
	}

	return spec, nil
}
