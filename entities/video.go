package entities

import (
	"errors"
	"time"

	"github.com/lib/pq"

	"capture-uploader/constant"
)

var (
	ErrUploadInProgress = errors.New("upload already in progress")
	ErrAlreadyUploaded  = errors.New("video already uploaded")
	ErrMissingStudents  = errors.New("video must be tagged with at least one student")
	ErrMissingVideoId   = errors.New("video id is required")
	ErrMissingLocalUri  = errors.New("video local uri is required")
	ErrMissingOwnership = errors.New("video must carry coach and organization ids")
)

// Video is one captured clip. LocalUri and UploadProgress only exist on the
// device; everything else is persisted to the videos table.
type Video struct {
	ID              string                `json:"id" gorm:"type:uuid;primary_key"`
	LocalUri        string                `json:"local_uri" gorm:"-"`
	RemoteKey       string                `json:"remote_key,omitempty" gorm:"column:s3_key;type:varchar(500)"`
	RemoteUrl       string                `json:"remote_url,omitempty" gorm:"column:s3_url;type:text"`
	ThumbnailUrl    string                `json:"thumbnail_url,omitempty" gorm:"column:thumbnail_url;type:text"`
	DurationSeconds float64               `json:"duration_seconds" gorm:"type:double precision"`
	TrickName       string                `json:"trick_name,omitempty" gorm:"type:varchar(255)"`
	Landed          *bool                 `json:"landed"`
	Comment         string                `json:"comment,omitempty" gorm:"type:text"`
	HasVoiceNote    bool                  `json:"has_voice_note"`
	Location        string                `json:"location,omitempty" gorm:"type:varchar(64)"`
	StudentIds      pq.StringArray        `json:"student_ids" gorm:"column:student_ids;type:text[];not null"`
	SessionId       string                `json:"session_id,omitempty" gorm:"type:varchar(64);index:idx_videos_session_id"`
	CoachId         string                `json:"coach_id" gorm:"type:varchar(64);not null;index:idx_videos_coach_id"`
	OrganizationId  string                `json:"organization_id" gorm:"type:varchar(64);not null;index:idx_videos_organization_id"`
	UploadStatus    constant.UploadStatus `json:"upload_status" gorm:"column:upload_status;type:varchar(20);not null"`
	UploadProgress  int                   `json:"upload_progress" gorm:"-"`
	CreatedAt       time.Time             `json:"created_at" gorm:"type:timestamptz;not null"`
}

func (Video) TableName() string {
	return "videos"
}

// Validate checks what must hold before a video may enter the queue.
func (v *Video) Validate() error {
	var errs []error
	if v.ID == "" {
		errs = append(errs, ErrMissingVideoId)
	}
	if v.LocalUri == "" {
		errs = append(errs, ErrMissingLocalUri)
	}
	if len(v.StudentIds) == 0 {
		errs = append(errs, ErrMissingStudents)
	}
	if v.CoachId == "" || v.OrganizationId == "" {
		errs = append(errs, ErrMissingOwnership)
	}
	return errors.Join(errs...)
}

func (v *Video) Clone() *Video {
	c := *v
	if v.StudentIds != nil {
		c.StudentIds = append(pq.StringArray(nil), v.StudentIds...)
	}
	if v.Landed != nil {
		landed := *v.Landed
		c.Landed = &landed
	}
	return &c
}

// BeginUpload starts a fresh attempt. Only pending and failed videos may start one.
func (v *Video) BeginUpload() error {
	switch v.UploadStatus {
	case constant.UploadStatusPending, constant.UploadStatusFailed:
		v.UploadStatus = constant.UploadStatusUploading
		v.UploadProgress = 0
		return nil
	case constant.UploadStatusUploading:
		return ErrUploadInProgress
	case constant.UploadStatusUploaded:
		return ErrAlreadyUploaded
	default:
		return errors.New("unknown upload status " + v.UploadStatus.String())
	}
}

// SetProgress records progress for the running attempt and reports whether it
// changed. Values going backwards are ignored.
func (v *Video) SetProgress(progress int) bool {
	if v.UploadStatus != constant.UploadStatusUploading {
		return false
	}
	progress = min(max(progress, 0), 100)
	if progress <= v.UploadProgress {
		return false
	}
	v.UploadProgress = progress
	return true
}

func (v *Video) MarkUploaded(remoteKey, remoteUrl, thumbnailUrl string) {
	v.UploadStatus = constant.UploadStatusUploaded
	v.UploadProgress = 100
	v.RemoteKey = remoteKey
	v.RemoteUrl = remoteUrl
	v.ThumbnailUrl = thumbnailUrl
}

// MarkFailed leaves the local thumbnail path in place so a retry can reuse it.
func (v *Video) MarkFailed() {
	v.UploadStatus = constant.UploadStatusFailed
	v.UploadProgress = 0
	v.RemoteKey = ""
	v.RemoteUrl = ""
}

// RecoverInterrupted downgrades an upload that was running when the process
// stopped. It reports whether the video was changed.
func (v *Video) RecoverInterrupted() bool {
	if v.UploadStatus.Settled() {
		return false
	}
	v.MarkFailed()
	return true
}
