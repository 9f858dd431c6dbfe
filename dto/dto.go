package dto

type GrantRequest struct {
	Key         string `json:"key" binding:"required"`
	ContentType string `json:"contentType" binding:"required"`
}

type GrantResponse struct {
	WriteUrl         string `json:"writeUrl"`
	PublicUrl        string `json:"publicUrl"`
	Key              string `json:"key"`
	ExpiresInSeconds int    `json:"expiresInSeconds"`
}

type DeleteObjectRequest struct {
	Key string `json:"key" binding:"required"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type VideoUploadedMessage struct {
	VideoId        string `json:"videoId"`
	OrganizationId string `json:"organizationId"`
	CoachId        string `json:"coachId"`
	ObjectKey      string `json:"objectKey"`
	ThumbnailKey   string `json:"thumbnailKey,omitempty"`
}
