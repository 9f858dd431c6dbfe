package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"capture-uploader/config"
	"capture-uploader/dto"
)

type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher announces finished uploads so the backend can verify them.
type Publisher struct {
	mu       sync.Mutex
	ch       publishChannel
	exchange string
	now      func() time.Time
}

func NewPublisher(conn *amqp.Connection, cfg *config.RabbitMQ) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(cfg.ExchangeName, cfg.Kind, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", cfg.ExchangeName, err)
	}
	return &Publisher{ch: ch, exchange: cfg.ExchangeName, now: time.Now}, nil
}

func (p *Publisher) VideoUploaded(ctx context.Context, message dto.VideoUploadedMessage) error {
	body, err := json.Marshal(message)
	if err != nil {
		return err
	}

	// amqp channels are not safe for concurrent publishing
	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx, p.exchange, VideoUploadedRoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    message.VideoId,
		Timestamp:    p.now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", VideoUploadedRoutingKey, err)
	}
	zerolog.Ctx(ctx).Debug().Str("video_id", message.VideoId).Msg("upload event published")
	return nil
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}
