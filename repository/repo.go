package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"capture-uploader/constant"
	"capture-uploader/entities"
	"capture-uploader/pkg/uploaderr"
)

var ErrVideoNotFound = errors.New("video row not found")

type VideoRepository interface {
	Transaction(ctx context.Context, callback func(ctx context.Context, tx *gorm.DB) error, opts ...*sql.TxOptions) error
	GetDB() *gorm.DB
	Migrate(ctx context.Context) error
	UpsertVideo(ctx context.Context, video *entities.Video) error
	FindVideoById(ctx context.Context, id string) (*entities.Video, error)
	UpdateVideoStatus(ctx context.Context, id string, status constant.UploadStatus) error
	DeleteVideo(ctx context.Context, id string) error
	UpsertSession(ctx context.Context, session *entities.Session) error
}

type repo struct {
	db *gorm.DB
}

func NewRepo(db *sql.DB, logLevel logger.LogLevel) (VideoRepository, error) {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db}),
		&gorm.Config{
			Logger: logger.Default.LogMode(logLevel),
		},
	)
	if err != nil {
		return nil, err
	}
	return &repo{
		db: gormDB,
	}, nil
}

func (r *repo) GetDB() *gorm.DB {
	return r.db
}

func (r *repo) Transaction(ctx context.Context, callback func(ctx context.Context, tx *gorm.DB) error, opts ...*sql.TxOptions) error {
	return r.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return callback(ctx, tx)
	}, opts...)
}

// Migrate runs in one transaction; postgres rolls back partial DDL.
func (r *repo) Migrate(ctx context.Context) error {
	return r.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		return tx.AutoMigrate(&entities.Session{}, &entities.Video{})
	})
}

// UpsertVideo writes the full row keyed by id, so re-running it after a
// partial failure leaves exactly one row.
func (r *repo) UpsertVideo(ctx context.Context, video *entities.Video) error {
	err := r.GetDB().WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(video).Error
	if err != nil {
		return errors.Join(uploaderr.ErrMetadataPersist, err)
	}
	return nil
}

func (r *repo) FindVideoById(ctx context.Context, id string) (*entities.Video, error) {
	video := &entities.Video{}
	err := r.GetDB().WithContext(ctx).First(video, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrVideoNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return video, nil
}

// UpdateVideoStatus sets the status of a row. Any status but uploaded also
// clears the remote key and urls, which only an uploaded row may carry.
func (r *repo) UpdateVideoStatus(ctx context.Context, id string, status constant.UploadStatus) error {
	updates := map[string]any{"upload_status": status}
	if status != constant.UploadStatusUploaded {
		updates["s3_key"] = ""
		updates["s3_url"] = ""
		updates["thumbnail_url"] = ""
	}
	result := r.GetDB().WithContext(ctx).Model(&entities.Video{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrVideoNotFound, id)
	}
	return nil
}

// DeleteVideo is idempotent: a missing row is not an error.
func (r *repo) DeleteVideo(ctx context.Context, id string) error {
	return r.GetDB().WithContext(ctx).Delete(&entities.Video{}, "id = ?", id).Error
}

func (r *repo) UpsertSession(ctx context.Context, session *entities.Session) error {
	return r.GetDB().WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(session).Error
}
