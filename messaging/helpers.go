package messaging

// NewTopicExchange creates a topic exchange with production-safe defaults:
// durable, not auto-deleted, externally publishable, confirmed by the broker.
func NewTopicExchange(name string) *ExchangeDeclaration {
	return &ExchangeDeclaration{
		Name:       name,
		Type:       "topic",
		Durable:    true,
		AutoDelete: false,
		Internal:   false,
		NoWait:     false,
		Args:       make(map[string]any),
	}
}

// NewQueue creates a queue with production-safe defaults: durable, not
// auto-deleted, shared across connections, confirmed by the broker.
func NewQueue(name string) *QueueDeclaration {
	return &QueueDeclaration{
		Name:       name,
		Durable:    true,
		AutoDelete: false,
		Exclusive:  false,
		NoWait:     false,
		Args:       make(map[string]any),
	}
}

// NewBinding creates a binding declaration between a queue and exchange.
// The routing key may be a pattern (e.g. "request.*").
func NewBinding(queue, exchange, routingKey string) *BindingDeclaration {
	return &BindingDeclaration{
		Queue:      queue,
		Exchange:   exchange,
		RoutingKey: routingKey,
		NoWait:     false,
		Args:       make(map[string]any),
	}
}

// PublisherOptions contains configuration for creating a publisher declaration.
type PublisherOptions struct {
	Exchange    string         // Target exchange name
	RoutingKey  string         // Routing key for messages
	EventType   string         // Event type identifier
	Description string         // Human-readable description
	Headers     map[string]any // Default headers (optional)
	Mandatory   bool           // Message must be routed to a queue
	Immediate   bool           // Message must be delivered immediately
}

// NewPublisher creates a publisher declaration from options.
func NewPublisher(opts *PublisherOptions) *PublisherDeclaration {
	headers := opts.Headers
	if headers == nil {
		headers = make(map[string]any)
	}

	return &PublisherDeclaration{
		Exchange:    opts.Exchange,
		RoutingKey:  opts.RoutingKey,
		EventType:   opts.EventType,
		Description: opts.Description,
		Mandatory:   opts.Mandatory,
		Immediate:   opts.Immediate,
		Headers:     headers,
	}
}

// ConsumerOptions contains configuration for creating a consumer declaration.
type ConsumerOptions struct {
	Queue         string         // Queue name to consume from
	Consumer      string         // Consumer tag
	EventType     string         // Event type identifier
	Description   string         // Human-readable description
	Handler       MessageHandler // Message handler
	AutoAck       bool           // Automatically acknowledge messages
	Exclusive     bool           // Exclusive consumer
	NoLocal       bool           // Don't deliver to the connection that published
	Workers       int            // Number of concurrent workers (0 = 1)
	PrefetchCount int            // RabbitMQ prefetch count (0 = Workers*2)
}

// NewConsumer creates a consumer declaration from options.
func NewConsumer(opts *ConsumerOptions) *ConsumerDeclaration {
	return &ConsumerDeclaration{
		Queue:         opts.Queue,
		Consumer:      opts.Consumer,
		AutoAck:       opts.AutoAck,
		Exclusive:     opts.Exclusive,
		NoLocal:       opts.NoLocal,
		NoWait:        false,
		EventType:     opts.EventType,
		Description:   opts.Description,
		Handler:       opts.Handler,
		Workers:       opts.Workers,
		PrefetchCount: opts.PrefetchCount,
	}
}
