package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"

	"capture-uploader/dto"
	"capture-uploader/pkg/objectkey"
)

var (
	ErrForbidden          = errors.New("caller may not write this key")
	ErrInvalidRequest     = errors.New("invalid grant request")
	ErrStorageUnavailable = errors.New("object storage unavailable")
)

// ObjectStorage is the subset of *minio.Client the broker needs.
type ObjectStorage interface {
	PresignHeader(ctx context.Context, method string, bucketName string, objectName string, expires time.Duration, reqParams url.Values, extraHeaders http.Header) (*url.URL, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
}

// Identity is who the verified bearer token says the caller is.
type Identity struct {
	OrganizationId string
	CoachId        string
}

type GrantService interface {
	IssueUploadGrant(ctx context.Context, caller Identity, request dto.GrantRequest) (*dto.GrantResponse, error)
	DeleteObject(ctx context.Context, caller Identity, key string) error
}

type GrantConfig struct {
	Bucket        string
	PublicBaseUrl string
	Expiry        time.Duration
}

type grantService struct {
	storage ObjectStorage
	cfg     GrantConfig
}

func NewGrantService(storage ObjectStorage, cfg GrantConfig) GrantService {
	if cfg.Expiry <= 0 {
		cfg.Expiry = 15 * time.Minute
	}
	cfg.PublicBaseUrl = strings.TrimRight(cfg.PublicBaseUrl, "/")
	return &grantService{storage: storage, cfg: cfg}
}

func (s *grantService) IssueUploadGrant(ctx context.Context, caller Identity, request dto.GrantRequest) (*dto.GrantResponse, error) {
	if err := objectkey.Authorize(caller.OrganizationId, caller.CoachId, request.Key); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("key", request.Key).Str("coach_id", caller.CoachId).Msg("grant denied")
		return nil, errors.Join(ErrForbidden, err)
	}

	want, err := objectkey.ContentType(request.Key)
	if err != nil {
		return nil, errors.Join(ErrInvalidRequest, err)
	}
	if request.ContentType != want {
		return nil, fmt.Errorf("%w: key %s must be written as %s, not %s", ErrInvalidRequest, request.Key, want, request.ContentType)
	}

	headers := http.Header{}
	headers.Set("Content-Type", request.ContentType)
	u, err := s.storage.PresignHeader(ctx, http.MethodPut, s.cfg.Bucket, request.Key, s.cfg.Expiry, nil, headers)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("key", request.Key).Msg("failed to presign upload")
		return nil, errors.Join(ErrStorageUnavailable, err)
	}

	zerolog.Ctx(ctx).Info().Str("key", request.Key).Str("coach_id", caller.CoachId).Msg("upload grant issued")

	return &dto.GrantResponse{
		WriteUrl:         u.String(),
		PublicUrl:        s.publicUrl(request.Key),
		Key:              request.Key,
		ExpiresInSeconds: int(s.cfg.Expiry / time.Second),
	}, nil
}

func (s *grantService) DeleteObject(ctx context.Context, caller Identity, key string) error {
	if err := objectkey.Authorize(caller.OrganizationId, caller.CoachId, key); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Str("coach_id", caller.CoachId).Msg("delete denied")
		return errors.Join(ErrForbidden, err)
	}

	// RemoveObject succeeds for missing keys, so repeated deletes are fine
	if err := s.storage.RemoveObject(ctx, s.cfg.Bucket, key, minio.RemoveObjectOptions{}); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("key", key).Msg("failed to delete object")
		return errors.Join(ErrStorageUnavailable, err)
	}

	zerolog.Ctx(ctx).Info().Str("key", key).Msg("object deleted")
	return nil
}

func (s *grantService) publicUrl(key string) string {
	if s.cfg.PublicBaseUrl == "" {
		return key
	}
	return s.cfg.PublicBaseUrl + "/" + key
}
