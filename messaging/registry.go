package messaging

import (
	"context"
	"fmt"
	"maps"
	"runtime/debug"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/gaborage/go-relay/logger"
	relaytrace "github.com/gaborage/go-relay/trace"
)

// RegistryInterface defines the contract for messaging infrastructure
// management. It allows for easy mocking in tests.
type RegistryInterface interface {
	// Registration methods
	RegisterExchange(declaration *ExchangeDeclaration)
	RegisterQueue(declaration *QueueDeclaration)
	RegisterBinding(declaration *BindingDeclaration)
	RegisterPublisher(declaration *PublisherDeclaration)
	RegisterConsumer(declaration *ConsumerDeclaration)

	// Infrastructure lifecycle
	DeclareInfrastructure(ctx context.Context) error
	StartConsumers(ctx context.Context) error
	StopConsumers()

	// Accessor methods for testing/monitoring
	Exchanges() map[string]*ExchangeDeclaration
	Queues() map[string]*QueueDeclaration
	Bindings() []*BindingDeclaration
	Publishers() []*PublisherDeclaration
	Consumers() []*ConsumerDeclaration
}

// Registry manages messaging infrastructure declarations. It ensures queues,
// exchanges, and bindings are declared before use, and manages consumer
// lifecycle including routing deliveries to handlers through a worker pool.
type Registry struct {
	client     AMQPClient
	logger     logger.Logger
	exchanges  map[string]*ExchangeDeclaration
	queues     map[string]*QueueDeclaration
	bindings   []*BindingDeclaration
	publishers []*PublisherDeclaration

	// Mutex protects consumerIndex, consumerOrder, consumersActive, declared
	mu              sync.RWMutex
	consumerIndex   map[consumerKey]*ConsumerDeclaration
	consumerOrder   []consumerKey
	declared        bool
	consumersActive bool
	cancelConsumers context.CancelFunc
}

// consumerKey identifies a consumer declaration for deduplication.
type consumerKey struct {
	Queue     string
	Consumer  string
	EventType string
}

// ExchangeDeclaration defines an exchange to be declared
type ExchangeDeclaration struct {
	Name       string         // Exchange name
	Type       string         // Exchange type (direct, topic, fanout, headers)
	Durable    bool           // Survive server restart
	AutoDelete bool           // Delete when no longer used
	Internal   bool           // Internal exchange
	NoWait     bool           // Do not wait for server confirmation
	Args       map[string]any // Additional arguments
}

// QueueDeclaration defines a queue to be declared
type QueueDeclaration struct {
	Name       string         // Queue name
	Durable    bool           // Survive server restart
	AutoDelete bool           // Delete when no consumers
	Exclusive  bool           // Only accessible by declaring connection
	NoWait     bool           // Do not wait for server confirmation
	Args       map[string]any // Additional arguments
}

// BindingDeclaration defines a queue-to-exchange binding
type BindingDeclaration struct {
	Queue      string         // Queue name
	Exchange   string         // Exchange name
	RoutingKey string         // Routing key pattern
	NoWait     bool           // Do not wait for server confirmation
	Args       map[string]any // Additional arguments
}

// PublisherDeclaration defines an output destination
type PublisherDeclaration struct {
	Exchange    string         // Target exchange
	RoutingKey  string         // Default routing key
	EventType   string         // Event type identifier
	Description string         // Human-readable description
	Mandatory   bool           // Message must be routed to a queue
	Immediate   bool           // Message must be delivered immediately
	Headers     map[string]any // Default headers
}

// ConsumerDeclaration defines an input queue and how to handle its messages
type ConsumerDeclaration struct {
	Queue         string         // Queue to consume from
	Consumer      string         // Consumer tag
	AutoAck       bool           // Automatically acknowledge messages
	Exclusive     bool           // Exclusive consumer
	NoLocal       bool           // Do not deliver to the connection that published
	NoWait        bool           // Do not wait for server confirmation
	EventType     string         // Event type identifier
	Description   string         // Human-readable description
	Handler       MessageHandler // Message handler (optional for documentation-only declarations)
	Workers       int            // Number of concurrent workers (0 = 1)
	PrefetchCount int            // RabbitMQ prefetch count (0 = Workers*2)
}

// NewRegistry creates a new messaging registry
func NewRegistry(client AMQPClient, log logger.Logger) *Registry {
	return &Registry{
		client:        client,
		logger:        log,
		exchanges:     make(map[string]*ExchangeDeclaration),
		queues:        make(map[string]*QueueDeclaration),
		bindings:      make([]*BindingDeclaration, 0),
		publishers:    make([]*PublisherDeclaration, 0),
		consumerIndex: make(map[consumerKey]*ConsumerDeclaration),
		consumerOrder: make([]consumerKey, 0),
	}
}

// RegisterExchange registers an exchange for declaration
func (r *Registry) RegisterExchange(declaration *ExchangeDeclaration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.declared {
		r.logger.Warn().
			Str("exchange", declaration.Name).
			Msg("Cannot register exchange after infrastructure has been declared")
		return
	}

	r.exchanges[declaration.Name] = declaration
	r.logger.Debug().
		Str("exchange", declaration.Name).
		Str("type", declaration.Type).
		Msg("Registered exchange for declaration")
}

// RegisterQueue registers a queue for declaration
func (r *Registry) RegisterQueue(declaration *QueueDeclaration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.declared {
		r.logger.Warn().
			Str("queue", declaration.Name).
			Msg("Cannot register queue after infrastructure has been declared")
		return
	}

	r.queues[declaration.Name] = declaration
	r.logger.Debug().
		Str("queue", declaration.Name).
		Msg("Registered queue for declaration")
}

// RegisterBinding registers a binding for declaration
func (r *Registry) RegisterBinding(declaration *BindingDeclaration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.declared {
		r.logger.Warn().
			Str("queue", declaration.Queue).
			Str("exchange", declaration.Exchange).
			Msg("Cannot register binding after infrastructure has been declared")
		return
	}

	r.bindings = append(r.bindings, declaration)
	r.logger.Debug().
		Str("queue", declaration.Queue).
		Str("exchange", declaration.Exchange).
		Str("routing_key", declaration.RoutingKey).
		Msg("Registered binding for declaration")
}

// RegisterPublisher registers a publisher declaration
func (r *Registry) RegisterPublisher(declaration *PublisherDeclaration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.publishers = append(r.publishers, declaration)
	r.logger.Debug().
		Str("exchange", declaration.Exchange).
		Str("routing_key", declaration.RoutingKey).
		Str("event_type", declaration.EventType).
		Msg("Registered publisher")
}

// RegisterConsumer registers a consumer declaration
func (r *Registry) RegisterConsumer(declaration *ConsumerDeclaration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := consumerKey{
		Queue:     declaration.Queue,
		Consumer:  declaration.Consumer,
		EventType: declaration.EventType,
	}

	if _, exists := r.consumerIndex[key]; exists {
		r.logger.Warn().
			Str("queue", key.Queue).
			Str("consumer", key.Consumer).
			Str("event_type", key.EventType).
			Msg("Duplicate consumer registration skipped")
		return
	}

	r.consumerIndex[key] = declaration
	r.consumerOrder = append(r.consumerOrder, key)

	r.logger.Debug().
		Str("queue", declaration.Queue).
		Str("consumer", declaration.Consumer).
		Str("event_type", declaration.EventType).
		Msg("Registered consumer")
}

// DeclareInfrastructure declares all registered messaging infrastructure.
// It waits for the client to report ready before issuing declarations.
func (r *Registry) DeclareInfrastructure(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.declared {
		return nil
	}

	if r.client == nil {
		return fmt.Errorf("AMQP client is not available")
	}

	timeout := time.NewTimer(30 * time.Second)
	defer timeout.Stop()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled while waiting for AMQP client: %w", ctx.Err())
		case <-timeout.C:
			return fmt.Errorf("timeout waiting for AMQP client to be ready")
		case <-ticker.C:
			if r.client.IsReady() {
				r.logger.Info().Msg("AMQP client is ready, proceeding with infrastructure declaration")
				goto ready
			}
			r.logger.Debug().Msg("Waiting for AMQP client to be ready...")
		}
	}

ready:

	r.logger.Info().
		Int("exchanges", len(r.exchanges)).
		Int("queues", len(r.queues)).
		Int("bindings", len(r.bindings)).
		Msg("Declaring messaging infrastructure")

	// Exchanges first, then queues, then bindings
	for name, exchange := range r.exchanges {
		if err := r.client.DeclareExchange(
			name,
			exchange.Type,
			exchange.Durable,
			exchange.AutoDelete,
			exchange.Internal,
			exchange.NoWait,
		); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", name, err)
		}
		r.logger.Info().
			Str("exchange", name).
			Str("type", exchange.Type).
			Msg("Exchange declared successfully")
	}

	for name, queue := range r.queues {
		if err := r.client.DeclareQueue(
			name,
			queue.Durable,
			queue.AutoDelete,
			queue.Exclusive,
			queue.NoWait,
		); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", name, err)
		}
		r.logger.Info().
			Str("queue", name).
			Msg("Queue declared successfully")
	}

	for _, binding := range r.bindings {
		if err := r.client.BindQueue(
			binding.Queue,
			binding.Exchange,
			binding.RoutingKey,
			binding.NoWait,
		); err != nil {
			return fmt.Errorf("failed to bind queue %s to exchange %s: %w", binding.Queue, binding.Exchange, err)
		}
		r.logger.Info().
			Str("queue", binding.Queue).
			Str("exchange", binding.Exchange).
			Str("routing_key", binding.RoutingKey).
			Msg("Queue binding created successfully")
	}

	r.declared = true
	r.logger.Info().Msg("All messaging infrastructure declared successfully")

	return nil
}

// StartConsumers starts all registered consumers with handlers.
// This should be called after DeclareInfrastructure.
func (r *Registry) StartConsumers(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.consumersActive {
		return nil
	}

	if r.client == nil || !r.client.IsReady() {
		return fmt.Errorf("AMQP client is not ready")
	}

	consumerCtx, cancel := context.WithCancel(ctx)
	r.cancelConsumers = cancel

	for _, key := range r.consumerOrder {
		consumer := r.consumerIndex[key]
		if consumer.Handler == nil {
			r.logger.Debug().
				Str("queue", consumer.Queue).
				Str("event_type", consumer.EventType).
				Msg("Consumer has no handler, skipping (documentation only)")
			continue
		}

		r.logger.Info().
			Str("queue", consumer.Queue).
			Str("consumer", consumer.Consumer).
			Str("event_type", consumer.EventType).
			Msg("Starting consumer")

		if err := r.startSingleConsumer(consumerCtx, consumer); err != nil {
			cancel()
			return fmt.Errorf("failed to start consumer for queue %s: %w", consumer.Queue, err)
		}
	}

	r.consumersActive = true
	r.logger.Info().Msg("All consumers started successfully")
	return nil
}

// StopConsumers gracefully stops all running consumers.
func (r *Registry) StopConsumers() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.consumersActive {
		return
	}

	r.logger.Info().Msg("Stopping all consumers")

	if r.cancelConsumers != nil {
		r.cancelConsumers()
		r.cancelConsumers = nil
	}

	r.consumersActive = false
	r.logger.Info().Msg("All consumers stopped")
}

// startSingleConsumer starts a consumer for a specific queue and routes
// messages to the handler through a worker pool.
func (r *Registry) startSingleConsumer(ctx context.Context, consumer *ConsumerDeclaration) error {
	workers := consumer.Workers
	if workers <= 0 {
		workers = 1
	}
	prefetch := consumer.PrefetchCount
	if prefetch <= 0 {
		prefetch = workers * 2
	}

	deliveries, err := r.client.ConsumeFromQueue(ctx, ConsumeOptions{
		Queue:         consumer.Queue,
		Consumer:      consumer.Consumer,
		AutoAck:       consumer.AutoAck,
		Exclusive:     consumer.Exclusive,
		NoLocal:       consumer.NoLocal,
		NoWait:        consumer.NoWait,
		PrefetchCount: prefetch,
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming from queue %s: %w", consumer.Queue, err)
	}

	go r.handleMessages(ctx, consumer, workers, deliveries)

	return nil
}

// handleMessages feeds deliveries to a pool of workers until the context is
// cancelled or the delivery channel closes.
func (r *Registry) handleMessages(ctx context.Context, consumer *ConsumerDeclaration, workers int, deliveries <-chan amqp.Delivery) {
	log := r.logger.WithFields(map[string]any{
		"queue":      consumer.Queue,
		"consumer":   consumer.Consumer,
		"event_type": consumer.EventType,
		"workers":    workers,
	})

	log.Info().Msg("Message handler started with worker pool")

	defer func() {
		log.Info().Msg("Message handler stopped")
	}()

	// Buffered for backpressure: blocks the feed loop when all workers are busy
	jobs := make(chan *amqp.Delivery, workers*2)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go r.worker(ctx, consumer, jobs, i, &wg)
	}

	func() {
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("Consumer context cancelled, stopping message handler")
				return

			case delivery, ok := <-deliveries:
				if !ok {
					log.Warn().Msg("Delivery channel closed, stopping message handler")
					return
				}

				// Workers stop without draining on cancellation, so the send
				// must not block past it
				d := delivery
				select {
				case jobs <- &d:
				case <-ctx.Done():
					log.Info().Msg("Consumer context cancelled, stopping message handler")
					return
				}
			}
		}
	}()

	close(jobs)
	wg.Wait()
	log.Info().Msg("All workers stopped gracefully")
}

// worker processes messages from the jobs channel concurrently.
func (r *Registry) worker(ctx context.Context, consumer *ConsumerDeclaration, jobs <-chan *amqp.Delivery, workerID int, wg *sync.WaitGroup) {
	defer wg.Done()

	log := r.logger.WithFields(map[string]any{
		"queue":     consumer.Queue,
		"worker_id": workerID,
	})

	log.Debug().Msg("Worker started")

	defer func() {
		log.Debug().Msg("Worker stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("Worker context cancelled")
			return

		case delivery, ok := <-jobs:
			if !ok {
				log.Debug().Msg("Jobs channel closed, worker exiting")
				return
			}

			r.processMessage(ctx, consumer, delivery, log)
		}
	}
}

// processMessage processes a single message using the consumer's handler.
// Failed messages are nacked without requeue to avoid infinite retry loops.
func (r *Registry) processMessage(ctx context.Context, consumer *ConsumerDeclaration, delivery *amqp.Delivery, log logger.Logger) {
	startTime := time.Now()

	msgCtx, span := StartConsumeSpan(ctx, delivery, consumer.Queue)
	defer span.End()

	traceID := relaytrace.EnsureTraceID(msgCtx)
	tlog := log.WithContext(msgCtx).WithFields(map[string]any{"correlation_id": traceID})

	// Panic recovery: a handler panic must not take the worker pool down.
	// Panics are treated like errors: logged with stack trace and nacked
	// without requeue.
	defer func() {
		if recovered := recover(); recovered != nil {
			r.handlePanicRecovery(consumer, delivery, startTime, tlog, recovered)
		}
	}()

	tlog.Debug().
		Str("message_id", delivery.MessageId).
		Str("routing_key", delivery.RoutingKey).
		Str("exchange", delivery.Exchange).
		Uint64("delivery_tag", delivery.DeliveryTag).
		Int("body_size", len(delivery.Body)).
		Msg("Processing message")

	err := consumer.Handler.Handle(msgCtx, delivery)
	processingTime := time.Since(startTime)

	if err != nil {
		r.buildFailureLogEvent(tlog, delivery, consumer, processingTime).
			Err(err).
			Msg("Message processing failed - discarding without requeue")

		r.nackMessage(delivery, consumer.AutoAck, tlog)
		return
	}

	tlog.Info().
		Str("message_id", delivery.MessageId).
		Dur("processing_time", processingTime).
		Msg("Message processed successfully")

	if !consumer.AutoAck {
		if ackErr := delivery.Ack(false); ackErr != nil {
			tlog.Error().
				Err(ackErr).
				Uint64("delivery_tag", delivery.DeliveryTag).
				Msg("Failed to ack message")
		}
	}
}

// nackMessage negatively acknowledges a message without requeue.
// Nack errors are logged but not propagated.
func (r *Registry) nackMessage(delivery *amqp.Delivery, autoAck bool, log logger.Logger) {
	if autoAck {
		return
	}
	if err := delivery.Nack(false, false); err != nil {
		log.Error().
			Err(err).
			Uint64("delivery_tag", delivery.DeliveryTag).
			Msg("Failed to nack message")
	}
}

// buildFailureLogEvent creates a structured log event for failed message
// processing, shared by the error and panic paths.
func (r *Registry) buildFailureLogEvent(
	log logger.Logger,
	delivery *amqp.Delivery,
	consumer *ConsumerDeclaration,
	processingTime time.Duration,
) logger.LogEvent {
	return log.Error().
		Str("message_id", delivery.MessageId).
		Str("queue", consumer.Queue).
		Str("event_type", consumer.EventType).
		Str("correlation_id", delivery.CorrelationId).
		Str("consumer_tag", delivery.ConsumerTag).
		Str("routing_key", delivery.RoutingKey).
		Str("exchange", delivery.Exchange).
		Dur("processing_time", processingTime)
}

// handlePanicRecovery logs a recovered handler panic with its stack trace and
// nacks the message without requeue.
func (r *Registry) handlePanicRecovery(
	consumer *ConsumerDeclaration,
	delivery *amqp.Delivery,
	startTime time.Time,
	log logger.Logger,
	recovered any,
) {
	processingTime := time.Since(startTime)
	stack := debug.Stack()

	r.buildFailureLogEvent(log, delivery, consumer, processingTime).
		Interface("panic", recovered).
		Bytes("stack", stack).
		Msg("Panic recovered in message handler - discarding without requeue")

	r.nackMessage(delivery, consumer.AutoAck, log)
}

// Publishers returns all registered publishers (for documentation/monitoring)
func (r *Registry) Publishers() []*PublisherDeclaration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	publishers := make([]*PublisherDeclaration, len(r.publishers))
	copy(publishers, r.publishers)
	return publishers
}

// Consumers returns all registered consumers (for documentation/monitoring)
func (r *Registry) Consumers() []*ConsumerDeclaration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	consumers := make([]*ConsumerDeclaration, 0, len(r.consumerOrder))
	for _, key := range r.consumerOrder {
		consumers = append(consumers, r.consumerIndex[key])
	}
	return consumers
}

// Exchanges returns all registered exchanges (for testing/monitoring)
func (r *Registry) Exchanges() map[string]*ExchangeDeclaration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exchanges := make(map[string]*ExchangeDeclaration, len(r.exchanges))
	maps.Copy(exchanges, r.exchanges)
	return exchanges
}

// Queues returns all registered queues (for testing/monitoring)
func (r *Registry) Queues() map[string]*QueueDeclaration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	queues := make(map[string]*QueueDeclaration, len(r.queues))
	maps.Copy(queues, r.queues)
	return queues
}

// Bindings returns all registered bindings (for testing/monitoring)
func (r *Registry) Bindings() []*BindingDeclaration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bindings := make([]*BindingDeclaration, len(r.bindings))
	copy(bindings, r.bindings)
	return bindings
}
