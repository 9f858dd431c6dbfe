// Package transfer moves bytes straight from the device to the object store
// through a presigned write URL.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"capture-uploader/pkg/broker"
	"capture-uploader/pkg/uploaderr"
)

// ProgressFunc receives the bytes sent so far and the total.
type ProgressFunc func(sent, total int64)

type Uploader struct {
	http *http.Client
	now  func() time.Time
}

func NewUploader(httpClient *http.Client) *Uploader {
	if httpClient == nil {
		// no client timeout: the grant expiry bounds every transfer
		httpClient = &http.Client{}
	}
	return &Uploader{http: httpClient, now: time.Now}
}

// Put sends body to the grant's write URL. The request must finish before the
// grant expires; a stale grant is never retried here.
func (u *Uploader) Put(ctx context.Context, grant *broker.Grant, body io.Reader, size int64, contentType string, progress ProgressFunc) error {
	expiresAt := grant.ExpiresAt()
	if !u.now().Before(expiresAt) {
		return errors.Join(uploaderr.ErrGrantExpired, uploaderr.ErrTransientService)
	}

	tctx, cancel := context.WithDeadlineCause(ctx, expiresAt, uploaderr.ErrGrantExpired)
	defer cancel()

	req, err := http.NewRequestWithContext(tctx, http.MethodPut, grant.WriteUrl, &progressReader{r: body, total: size, fn: progress})
	if err != nil {
		return fmt.Errorf("build transfer request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", contentType)

	zerolog.Ctx(ctx).Debug().Str("key", grant.Key).Int64("size_bytes", size).Msg("transferring object")

	resp, err := u.http.Do(req)
	if err != nil {
		if errors.Is(context.Cause(tctx), uploaderr.ErrGrantExpired) && ctx.Err() == nil {
			return errors.Join(uploaderr.ErrGrantExpired, uploaderr.ErrTransientService)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Join(uploaderr.ErrTransientService, fmt.Errorf("put %s: %w", grant.Key, err))
	}
	defer func() { _ = resp.Body.Close() }()

	if err := broker.ClassifyStatus(resp); err != nil {
		return fmt.Errorf("put %s: %w", grant.Key, err)
	}
	return nil
}

type progressReader struct {
	r     io.Reader
	sent  int64
	total int64
	fn    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.fn != nil {
			p.fn(p.sent, p.total)
		}
	}
	return n, err
}
