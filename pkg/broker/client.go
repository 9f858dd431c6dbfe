// Package broker is the client side of the presigned upload broker. It never
// sees storage credentials: it trades a key and content type for a
// single-object write grant, and asks the backend to delete objects.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"capture-uploader/dto"
	"capture-uploader/pkg/uploaderr"
)

const (
	grantPath  = "/v1/uploads/grant"
	deletePath = "/v1/uploads/delete"
)

// Grant authorizes exactly one object write until it expires.
type Grant struct {
	WriteUrl         string
	PublicUrl        string
	Key              string
	ExpiresInSeconds int
	IssuedAt         time.Time
}

func (g *Grant) ExpiresAt() time.Time {
	return g.IssuedAt.Add(time.Duration(g.ExpiresInSeconds) * time.Second)
}

type Client struct {
	baseUrl string
	token   string
	http    *http.Client
	now     func() time.Time
}

func NewClient(baseUrl, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseUrl: strings.TrimRight(baseUrl, "/"),
		token:   token,
		http:    httpClient,
		now:     time.Now,
	}
}

func (c *Client) RequestUploadGrant(ctx context.Context, key, contentType string) (*Grant, error) {
	issuedAt := c.now()

	var resp dto.GrantResponse
	if err := c.post(ctx, grantPath, dto.GrantRequest{Key: key, ContentType: contentType}, &resp); err != nil {
		return nil, fmt.Errorf("request grant for %s: %w", key, err)
	}
	if resp.WriteUrl == "" || resp.ExpiresInSeconds <= 0 {
		return nil, fmt.Errorf("request grant for %s: malformed grant: %w", key, uploaderr.ErrTransientService)
	}

	zerolog.Ctx(ctx).Debug().Str("key", resp.Key).Int("expires_in_seconds", resp.ExpiresInSeconds).Msg("upload grant issued")

	return &Grant{
		WriteUrl:         resp.WriteUrl,
		PublicUrl:        resp.PublicUrl,
		Key:              resp.Key,
		ExpiresInSeconds: resp.ExpiresInSeconds,
		IssuedAt:         issuedAt,
	}, nil
}

func (c *Client) DeleteObject(ctx context.Context, key string) error {
	if err := c.post(ctx, deletePath, dto.DeleteObjectRequest{Key: key}, nil); err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseUrl+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return errors.Join(uploaderr.ErrTransientService, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := ClassifyStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Join(uploaderr.ErrTransientService, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// ClassifyStatus maps a non-2xx response onto the upload error taxonomy.
func ClassifyStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	statusErr := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return errors.Join(uploaderr.ErrAuthorization, statusErr)
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
		return errors.Join(uploaderr.ErrTransientService, statusErr)
	case resp.StatusCode >= 500:
		return errors.Join(uploaderr.ErrTransientService, statusErr)
	default:
		return statusErr
	}
}
