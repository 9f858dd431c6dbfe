// Package objectkey builds the deterministic object-store keys used for
// videos, thumbnails and organization logos, and checks that a key lies
// inside a caller's namespace.
package objectkey

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"capture-uploader/constant"
	"capture-uploader/entities"
)

const (
	videoPrefix     = "videos"
	logoPrefix      = "logos"
	videoSuffix     = ".mp4"
	thumbnailSuffix = "_thumbnail.jpg"
	logoSuffix      = ".png"
	dateLayout      = "2006-01-02"
)

var (
	ErrInvalidSegment = errors.New("invalid key segment")
	ErrOutsideScope   = errors.New("key outside caller namespace")
)

// Build returns videos/{org}/{coach}/{owner}/{YYYY-MM-DD}_{videoId}.mp4.
// The date is taken in UTC so the key does not depend on the device zone.
func Build(organizationId, coachId, ownerId string, capturedAt time.Time, videoId string) (string, error) {
	for _, s := range []string{organizationId, coachId, ownerId, videoId} {
		if err := checkSegment(s); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("%s/%s/%s/%s/%s_%s%s",
		videoPrefix, organizationId, coachId, ownerId,
		capturedAt.UTC().Format(dateLayout), videoId, videoSuffix), nil
}

// Video keys a captured clip under its session when it has one, otherwise
// under the first tagged student.
func Video(v *entities.Video) (string, error) {
	owner := v.SessionId
	if owner == "" {
		if len(v.StudentIds) == 0 {
			return "", fmt.Errorf("%w: video %s has no session or student", ErrInvalidSegment, v.ID)
		}
		owner = v.StudentIds[0]
	}
	return Build(v.OrganizationId, v.CoachId, owner, v.CreatedAt, v.ID)
}

// Thumbnail derives the thumbnail key from a video key.
func Thumbnail(videoKey string) string {
	return strings.TrimSuffix(videoKey, videoSuffix) + thumbnailSuffix
}

func Logo(organizationId string) (string, error) {
	if err := checkSegment(organizationId); err != nil {
		return "", err
	}
	return logoPrefix + "/" + organizationId + logoSuffix, nil
}

// ContentType returns the only content type a key may be written with.
func ContentType(key string) (string, error) {
	switch {
	case strings.HasSuffix(key, thumbnailSuffix):
		return constant.ContentTypeThumbnail, nil
	case strings.HasSuffix(key, videoSuffix):
		return constant.ContentTypeVideo, nil
	case strings.HasSuffix(key, logoSuffix):
		return constant.ContentTypeLogo, nil
	default:
		return "", fmt.Errorf("%w: unsupported object type %q", ErrInvalidSegment, key)
	}
}

// Authorize checks that key belongs to the subtree owned by the coach, or is
// the organization's logo.
func Authorize(organizationId, coachId, key string) error {
	if organizationId == "" || coachId == "" {
		return ErrOutsideScope
	}
	if strings.Contains(key, "..") || strings.Contains(key, "//") {
		return fmt.Errorf("%w: %q", ErrInvalidSegment, key)
	}

	if logo, err := Logo(organizationId); err == nil && key == logo {
		return nil
	}

	prefix := fmt.Sprintf("%s/%s/%s/", videoPrefix, organizationId, coachId)
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok {
		return fmt.Errorf("%w: %q", ErrOutsideScope, key)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("%w: %q", ErrOutsideScope, key)
	}
	if _, err := ContentType(key); err != nil {
		return err
	}
	return nil
}

func checkSegment(s string) error {
	if s == "" || strings.ContainsAny(s, `/\`) || s == "." || s == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidSegment, s)
	}
	return nil
}
