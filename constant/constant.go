package constant

import (
	"encoding/json"
	"fmt"
)

type UploadStatus string

const (
	UploadStatusPending   UploadStatus = "pending"
	UploadStatusUploading UploadStatus = "uploading"
	UploadStatusUploaded  UploadStatus = "uploaded"
	UploadStatusFailed    UploadStatus = "failed"
)

func ParseUploadStatus(s string) (UploadStatus, error) {
	switch status := UploadStatus(s); status {
	case UploadStatusPending, UploadStatusUploading, UploadStatusUploaded, UploadStatusFailed:
		return status, nil
	default:
		return "", fmt.Errorf("unknown upload status %q", s)
	}
}

// CanBeginUpload reports whether a new upload attempt may start from s.
func (s UploadStatus) CanBeginUpload() bool {
	switch s {
	case UploadStatusPending, UploadStatusFailed:
		return true
	case UploadStatusUploading, UploadStatusUploaded:
		return false
	default:
		panic(fmt.Sprintf("unhandled upload status %q", string(s)))
	}
}

// Settled reports whether no operation can be running for a video in status s.
func (s UploadStatus) Settled() bool {
	switch s {
	case UploadStatusPending, UploadStatusFailed, UploadStatusUploaded:
		return true
	case UploadStatusUploading:
		return false
	default:
		panic(fmt.Sprintf("unhandled upload status %q", string(s)))
	}
}

func (s UploadStatus) String() string {
	return string(s)
}

func (s *UploadStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	status, err := ParseUploadStatus(raw)
	if err != nil {
		return err
	}
	*s = status
	return nil
}

const (
	ContentTypeVideo     = "video/mp4"
	ContentTypeThumbnail = "image/jpeg"
	ContentTypeLogo      = "image/png"
)

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}
