// Package processor derives an outbound HTTP request from each consumed
// message, invokes the downstream service through the retry-aware client,
// and extracts the reply value that is published back to the pipeline.
//
// Expression evaluation is opaque to the processor: an Expression is any
// value that can produce a result from a message. The package ships a
// literal variant for static configuration values, a header selector, and a
// function adapter for user-supplied evaluators. No expression language is
// interpreted here.
package processor

import "maps"

// Message is the unit flowing through the pipeline: the raw payload of a
// broker delivery plus its headers.
type Message struct {
	Payload []byte
	Headers map[string]any
}

// NewMessage builds a message from a payload and a copy of the given headers.
func NewMessage(payload []byte, headers map[string]any) *Message {
	m := &Message{
		Payload: payload,
		Headers: make(map[string]any, len(headers)),
	}
	maps.Copy(m.Headers, headers)
	return m
}

// Header returns the named header value and whether it is present.
func (m *Message) Header(name string) (any, bool) {
	if m.Headers == nil {
		return nil, false
	}
	v, ok := m.Headers[name]
	return v, ok
}
