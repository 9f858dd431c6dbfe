package entities

import (
	"time"

	"github.com/lib/pq"
)

// Session carries no gorm column defaults: gorm substitutes a default for a
// false bool on insert and leaves defaulted columns out of upsert updates.
type Session struct {
	ID              string         `json:"id" gorm:"type:uuid;primary_key"`
	Environment     string         `json:"environment,omitempty" gorm:"type:varchar(64)"`
	EnvironmentName string         `json:"environment_name,omitempty" gorm:"type:varchar(255)"`
	StudentIds      pq.StringArray `json:"student_ids" gorm:"column:student_ids;type:text[]"`
	CoachId         string         `json:"coach_id" gorm:"type:varchar(64);not null;index:idx_sessions_coach_id"`
	OrganizationId  string         `json:"organization_id" gorm:"type:varchar(64);not null"`
	StartTime       time.Time      `json:"start_time" gorm:"type:timestamptz;not null"`
	EndTime         *time.Time     `json:"end_time,omitempty" gorm:"type:timestamptz"`
	IsActive        bool           `json:"is_active" gorm:"not null"`
	Uploaded        bool           `json:"uploaded" gorm:"not null"`
	Videos          []*Video       `json:"videos" gorm:"-"`
}

func (Session) TableName() string {
	return "sessions"
}

func (s *Session) FindVideo(id string) (int, *Video) {
	for i, v := range s.Videos {
		if v.ID == id {
			return i, v
		}
	}
	return -1, nil
}

// VideosToUpload returns the videos that have not reached uploaded, in capture order.
func (s *Session) VideosToUpload() []*Video {
	var out []*Video
	for _, v := range s.Videos {
		if v.UploadStatus.CanBeginUpload() {
			out = append(out, v)
		}
	}
	return out
}
