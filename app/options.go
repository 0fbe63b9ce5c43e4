package app

import (
	"github.com/gaborage/go-relay/httpclient"
	"github.com/gaborage/go-relay/logger"
	"github.com/gaborage/go-relay/messaging"
	"github.com/gaborage/go-relay/processor"
)

// options contains optional dependencies for creating a Relay instance.
// Unset fields are built from configuration.
type options struct {
	log         logger.Logger
	expressions map[string]processor.Expression
	amqpClient  messaging.AMQPClient
	httpClient  httpclient.Client
}

// Option customizes relay construction.
type Option func(*options)

// WithLogger overrides the logger built from the log configuration.
func WithLogger(log logger.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithExpressions registers named expressions the httpclient configuration may
// reference (url_expression, body_expression, ...). Calling it more than once
// merges the maps; later registrations win on name collision.
func WithExpressions(expressions map[string]processor.Expression) Option {
	return func(o *options) {
		if o.expressions == nil {
			o.expressions = make(map[string]processor.Expression, len(expressions))
		}
		for name, expr := range expressions {
			o.expressions[name] = expr
		}
	}
}

// WithAMQPClient overrides the AMQP client built from the broker configuration.
func WithAMQPClient(client messaging.AMQPClient) Option {
	return func(o *options) {
		o.amqpClient = client
	}
}

// WithHTTPClient overrides the HTTP client built from the httpclient
// configuration.
func WithHTTPClient(client httpclient.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}
