package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"capture-uploader/constant"
	"capture-uploader/entities"
	"capture-uploader/pkg/uploaderr"
)

// RetryPolicy belongs to whoever drives the orchestrator. Only transient and
// metadata failures are retried.
type RetryPolicy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
	}
}

type BatchResult struct {
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors"`
}

// BatchProgressFunc receives the overall percentage, the zero-based index of
// the video that moved, and the batch size.
type BatchProgressFunc func(overallPct float64, currentIndex, total int)

type BatchService interface {
	// UploadMany attempts every video and reports the outcome. A failing
	// video never stops the batch.
	UploadMany(ctx context.Context, videos []*entities.Video, onProgress BatchProgressFunc) BatchResult
}

type batchService struct {
	uploader    UploadService
	policy      RetryPolicy
	concurrency int
}

// NewBatchService uploads sequentially when concurrency is 1.
func NewBatchService(uploader UploadService, policy RetryPolicy, concurrency int) BatchService {
	if concurrency < 1 {
		concurrency = 1
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &batchService{
		uploader:    uploader,
		policy:      policy,
		concurrency: concurrency,
	}
}

func (b *batchService) UploadMany(ctx context.Context, videos []*entities.Video, onProgress BatchProgressFunc) BatchResult {
	total := len(videos)
	result := BatchResult{Errors: []string{}}
	if total == 0 {
		return result
	}

	zerolog.Ctx(ctx).Info().Int("videos", total).Int("concurrency", b.concurrency).Msg("batch upload started")

	var mu sync.Mutex
	progress := make([]int, total)
	errs := make([]error, total)

	// a finished video counts 100 whether it succeeded or not
	update := func(index, p int) {
		mu.Lock()
		defer mu.Unlock()
		if p <= progress[index] {
			return
		}
		progress[index] = p
		sum := 0
		for _, v := range progress {
			sum += v
		}
		if onProgress != nil {
			onProgress(float64(sum)/float64(total), index, total)
		}
	}

	var g errgroup.Group
	g.SetLimit(b.concurrency)
	for i, video := range videos {
		g.Go(func() error {
			errs[i] = b.uploadOne(ctx, video, func(p int) { update(i, p) })
			update(i, 100)
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range errs {
		if err == nil {
			result.Successful++
			continue
		}
		result.Failed++
		result.Errors = append(result.Errors, fmt.Sprintf("video %s: %v", videos[i].ID, err))
	}

	zerolog.Ctx(ctx).Info().Int("successful", result.Successful).Int("failed", result.Failed).Msg("batch upload finished")
	return result
}

func (b *batchService) uploadOne(ctx context.Context, video *entities.Video, onProgress ProgressFunc) error {
	if video.UploadStatus == constant.UploadStatusUploaded {
		return nil
	}

	current := video
	operation := func() (*entities.Video, error) {
		if err := ctx.Err(); err != nil {
			return nil, backoff.Permanent(err)
		}
		out, err := b.uploader.Upload(ctx, current, onProgress)
		if out != nil {
			current = out
		}
		if err != nil {
			if !uploaderr.Retryable(err) {
				return nil, backoff.Permanent(err)
			}
			zerolog.Ctx(ctx).Warn().Err(err).Str("video_id", video.ID).Msg("upload attempt failed, retrying")
			return nil, err
		}
		return out, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.policy.InitialInterval
	bo.MaxInterval = b.policy.MaxInterval

	_, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(b.policy.MaxAttempts))
	return err
}
