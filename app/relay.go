// Package app wires configuration, logging, messaging, the processor, and the
// health server into a runnable relay. The relay consumes request messages
// from an AMQP queue, derives and performs an HTTP request per message, and
// publishes the reply value downstream.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gaborage/go-relay/config"
	"github.com/gaborage/go-relay/httpclient"
	"github.com/gaborage/go-relay/logger"
	"github.com/gaborage/go-relay/messaging"
	"github.com/gaborage/go-relay/processor"
	"github.com/gaborage/go-relay/server"
	relaytrace "github.com/gaborage/go-relay/trace"
)

const defaultShutdownTimeout = 10 * time.Second

// Relay is the assembled application. Create it with New and drive it with
// Run, which blocks until a shutdown signal arrives or a component fails.
type Relay struct {
	cfg      *config.Config
	log      logger.Logger
	client   messaging.AMQPClient
	registry *messaging.Registry
	server   *server.Server
	tracing  *relaytrace.Provider
}

// New assembles a relay from configuration. Expressions referenced by the
// httpclient section must be supplied via WithExpressions or construction
// fails.
func New(cfg *config.Config, opts ...Option) (*Relay, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	log := o.log
	if log == nil {
		log = logger.New(cfg.Log.Level, cfg.Log.Pretty)
	}

	expressions := processor.NewRegistry()
	for name, expr := range o.expressions {
		expressions.Register(name, expr)
	}

	spec, err := processor.BuildSpec(&cfg.HTTPClient, expressions)
	if err != nil {
		return nil, fmt.Errorf("build request spec: %w", err)
	}

	tracing, err := relaytrace.NewProvider(cfg.App.Name, cfg.App.Version, cfg.App.Env, 1)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = buildHTTPClient(&cfg.HTTPClient, log)
	}

	amqpClient := o.amqpClient
	if amqpClient == nil {
		amqpClient = messaging.NewAMQPClientWithSettings(
			cfg.Messaging.Broker.URL,
			log,
			reconnectSettings(cfg.Messaging.Reconnect),
		)
	}

	proc := processor.New(spec, httpClient, log)
	handler := processor.NewHandler(proc, amqpClient, cfg.Messaging.Output, log)

	registry := messaging.NewRegistry(amqpClient, log)
	registerTopology(registry, cfg, handler)

	r := &Relay{
		cfg:      cfg,
		log:      log,
		client:   amqpClient,
		registry: registry,
		server:   server.New(cfg, log, amqpClient),
		tracing:  tracing,
	}

	log.Info().
		Str("app", cfg.App.Name).
		Str("version", cfg.App.Version).
		Str("env", cfg.App.Env).
		Str("queue", cfg.Messaging.Input.Queue).
		Str("output_exchange", cfg.Messaging.Output.Exchange).
		Msg("Relay assembled")

	return r, nil
}

// buildHTTPClient constructs the outbound HTTP client from configuration.
// Trace propagation is always installed; timeout, retry, and rate limiting
// apply when configured.
func buildHTTPClient(cfg *config.HTTPClientConfig, log logger.Logger) httpclient.Client {
	builder := httpclient.NewBuilder(log).
		WithRequestInterceptor(httpclient.NewTraceInterceptor()).
		WithRetryPolicy(cfg.Retry.Policy())

	if cfg.Timeout > 0 {
		builder = builder.WithTimeout(cfg.Timeout)
	}
	if cfg.Rate.Limit > 0 {
		builder = builder.WithRateLimit(cfg.Rate.Limit, cfg.Rate.Burst)
	}

	return builder.Build()
}

// reconnectSettings maps the reconnect configuration onto the messaging
// client's settings. Zero values keep the client defaults.
func reconnectSettings(cfg config.ReconnectConfig) messaging.ReconnectSettings {
	return messaging.ReconnectSettings{
		ReconnectDelay:    cfg.Delay,
		ReInitDelay:       cfg.ReinitDelay,
		ResendDelay:       cfg.ResendDelay,
		ConnectionTimeout: cfg.ConnectionTimeout,
	}
}

// registerTopology registers the relay's messaging infrastructure: the input
// queue (with its binding when an input exchange is configured), the output
// exchange, and the consumer that feeds deliveries to the handler.
func registerTopology(registry *messaging.Registry, cfg *config.Config, handler messaging.MessageHandler) {
	input := cfg.Messaging.Input
	output := cfg.Messaging.Output

	registry.RegisterQueue(messaging.NewQueue(input.Queue))

	if input.Exchange != "" {
		registry.RegisterExchange(messaging.NewTopicExchange(input.Exchange))
		registry.RegisterBinding(messaging.NewBinding(input.Queue, input.Exchange, input.RoutingKey))
	}

	if output.Exchange != "" {
		registry.RegisterExchange(messaging.NewTopicExchange(output.Exchange))
		registry.RegisterPublisher(messaging.NewPublisher(&messaging.PublisherOptions{
			Exchange:    output.Exchange,
			RoutingKey:  output.RoutingKey,
			EventType:   output.EventType,
			Description: "Relay reply publisher",
		}))
	}

	consumerTag := input.Consumer
	if consumerTag == "" {
		consumerTag = cfg.App.Name
	}

	registry.RegisterConsumer(messaging.NewConsumer(&messaging.ConsumerOptions{
		Queue:       input.Queue,
		Consumer:    consumerTag,
		EventType:   output.EventType,
		Description: "Relay request consumer",
		Handler:     handler,
		Workers:     input.Workers,
	}))
}

// Registry exposes the messaging registry, mainly for tests and monitoring.
func (r *Relay) Registry() *messaging.Registry {
	return r.registry
}

// Server exposes the health server, mainly for tests.
func (r *Relay) Server() *server.Server {
	return r.server
}

// Run starts the relay and blocks until the context is cancelled, a SIGINT or
// SIGTERM arrives, or a component fails. Shutdown is ordered: consumers stop
// first, then the messaging client closes, then the health server drains.
func (r *Relay) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := r.registry.DeclareInfrastructure(ctx); err != nil {
		return errors.Join(fmt.Errorf("declare infrastructure: %w", err), r.shutdown())
	}

	if err := r.registry.StartConsumers(ctx); err != nil {
		return errors.Join(fmt.Errorf("start consumers: %w", err), r.shutdown())
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := r.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return r.shutdown()
	})

	err := g.Wait()
	r.log.Info().Msg("Relay stopped")
	return err
}

// shutdown tears the relay down in dependency order and aggregates failures.
func (r *Relay) shutdown() error {
	r.log.Info().Msg("Shutting down relay")

	timeout := r.cfg.Server.Timeout.Shutdown
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error

	r.registry.StopConsumers()

	if err := r.client.Close(); err != nil {
		errs = append(errs, fmt.Errorf("messaging client: %w", err))
		r.log.Error().Err(err).Msg("Failed to close messaging client")
	}

	if err := r.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("health server: %w", err))
		r.log.Error().Err(err).Msg("Failed to shut down health server")
	}

	if err := r.tracing.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracing: %w", err))
		r.log.Error().Err(err).Msg("Failed to shut down tracer provider")
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	r.log.Info().Msg("Relay shutdown complete")
	return nil
}
