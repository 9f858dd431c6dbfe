package config

import (
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

func NewMinioClient(cfg MinIO) (*minio.Client, error) {
	return minio.New(cfg.Url, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessId, cfg.SecretAccessKey, ""),
		Secure: cfg.Secure,
	})
}
