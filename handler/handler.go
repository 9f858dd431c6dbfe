package handler

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"capture-uploader/dto"
	"capture-uploader/service"
)

type ServiceDependencies struct {
	VerifyService service.VerifyService
}

func VideoUploadedHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	var event dto.VideoUploadedMessage
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal upload event")
		return backoff.Permanent(err)
	}
	if event.VideoId == "" || event.ObjectKey == "" {
		zerolog.Ctx(ctx).Error().Msg("upload event without video id or key")
		return backoff.Permanent(service.ErrNonRetryable)
	}

	zerolog.Ctx(ctx).Info().
		Str("video_id", event.VideoId).
		Str("key", event.ObjectKey).
		Msg("received upload event")

	err := deps.VerifyService.VerifyUploaded(ctx, event)
	if errors.Is(err, service.ErrNonRetryable) {
		return backoff.Permanent(err)
	}
	return err
}
