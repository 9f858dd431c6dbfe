package rabbitmq

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"capture-uploader/config"
)

// Topology names the exchange, queue and dead letter route a consumer binds.
type Topology struct {
	Exchange      string
	Queue         string
	RoutingKey    string
	DeadLetter    string
	DeadQueue     string
	DeadLetterKey string
}

const VideoUploadedRoutingKey = "video.uploaded"

func VideoUploadedTopology(exchange string) Topology {
	return Topology{
		Exchange:      exchange,
		Queue:         "video_uploaded_queue",
		RoutingKey:    VideoUploadedRoutingKey,
		DeadLetter:    exchange + "_dlx",
		DeadQueue:     "video_uploaded_queue_dlq",
		DeadLetterKey: "dlq." + VideoUploadedRoutingKey,
	}
}

type Handler[T any] func(ctx context.Context, msg amqp.Delivery, dependencies T) error

type Consumer[T any] interface {
	Consume(ctx context.Context, dependencies T) error
}

type consumer[T any] struct {
	conn       *amqp.Connection
	cfg        *config.RabbitMQ
	topology   Topology
	handler    Handler[T]
	numWorkers int

	maxTries        uint
	initialInterval time.Duration
	maxInterval     time.Duration
}

func (c consumer[T]) Consume(ctx context.Context, dependencies T) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	deliveries, err := c.declare(ctx, ch)
	if err != nil {
		return err
	}

	zerolog.Ctx(ctx).Info().
		Str("queue", c.topology.Queue).
		Str("exchange", c.topology.Exchange).
		Str("routing_key", c.topology.RoutingKey).
		Int("workers", c.numWorkers).
		Msg("consumer started")

	jobs := make(chan amqp.Delivery, c.numWorkers)
	var wg sync.WaitGroup
	for i := 1; i <= c.numWorkers; i++ {
		wg.Add(1)
		go func(workerId int) {
			defer wg.Done()
			for msg := range jobs {
				c.handle(ctx, msg, dependencies, workerId)
			}
		}(i)
	}

	for {
		select {
		case delivery, ok := <-deliveries:
			if !ok {
				close(jobs)
				wg.Wait()
				return nil
			}
			jobs <- delivery
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()
		}
	}
}

func (c consumer[T]) declare(ctx context.Context, ch *amqp.Channel) (<-chan amqp.Delivery, error) {
	t := c.topology
	if err := ch.ExchangeDeclare(t.Exchange, c.cfg.Kind, true, false, false, false, nil); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("exchange", t.Exchange).Msg("failed to declare exchange")
		return nil, err
	}
	if err := ch.ExchangeDeclare(t.DeadLetter, c.cfg.Kind, true, false, false, false, nil); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("exchange", t.DeadLetter).Msg("failed to declare dlx")
		return nil, err
	}

	dlq, err := ch.QueueDeclare(t.DeadQueue, true, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("queue", t.DeadQueue).Msg("failed to declare dlq")
		return nil, err
	}
	if err := ch.QueueBind(dlq.Name, t.DeadLetterKey, t.DeadLetter, false, nil); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("queue", t.DeadQueue).Msg("failed to bind dlq")
		return nil, err
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    t.DeadLetter,
		"x-dead-letter-routing-key": t.DeadLetterKey,
	}
	q, err := ch.QueueDeclare(t.Queue, true, false, false, false, args)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("queue", t.Queue).Msg("failed to declare queue")
		return nil, err
	}
	if err := ch.QueueBind(q.Name, t.RoutingKey, t.Exchange, false, nil); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("queue", t.Queue).Msg("failed to bind queue")
		return nil, err
	}

	if err := ch.Qos(c.numWorkers, 0, false); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("queue", t.Queue).Msg("failed to set QoS")
		return nil, err
	}

	deliveries, err := ch.Consume(t.Queue, "", false, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("queue", t.Queue).Msg("failed to consume queue")
		return nil, err
	}
	return deliveries, nil
}

// handle retries the handler with backoff. A message that still fails is
// nacked without requeue so the broker moves it to the dead letter queue.
// Handlers return backoff.Permanent for messages that can never succeed.
func (c consumer[T]) handle(ctx context.Context, msg amqp.Delivery, dependencies T, workerId int) {
	operation := func() (struct{}, error) {
		return struct{}{}, c.handler(ctx, msg, dependencies)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialInterval
	bo.MaxInterval = c.maxInterval

	if _, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(c.maxTries)); err != nil {
		if ctx.Err() != nil {
			// shutting down: hand the message back instead of dead-lettering it
			if nackErr := msg.Nack(false, true); nackErr != nil {
				zerolog.Ctx(ctx).Error().Err(nackErr).Msg("failed to requeue message")
			}
			return
		}
		zerolog.Ctx(ctx).Error().Err(err).Int("worker_id", workerId).Str("message_id", msg.MessageId).Msg("failed to handle message after all retries")
		if nackErr := msg.Nack(false, false); nackErr != nil {
			zerolog.Ctx(ctx).Error().Err(nackErr).Msg("failed to nack message to send to DLQ")
		}
		return
	}
	if ackErr := msg.Ack(false); ackErr != nil {
		zerolog.Ctx(ctx).Error().Err(ackErr).Msg("failed to acknowledge message")
	}
}

func NewConsumer[T any](
	conn *amqp.Connection,
	cfg *config.RabbitMQ,
	topology Topology,
	numWorkers int,
	handler Handler[T],
) Consumer[T] {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &consumer[T]{
		conn:            conn,
		cfg:             cfg,
		topology:        topology,
		handler:         handler,
		numWorkers:      numWorkers,
		maxTries:        5,
		initialInterval: 500 * time.Millisecond,
		maxInterval:     10 * time.Second,
	}
}
