package handler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"

	"capture-uploader/dto"
	"capture-uploader/service"
)

type fakeVerifier struct {
	got []dto.VideoUploadedMessage
	err error
}

func (f *fakeVerifier) VerifyUploaded(ctx context.Context, message dto.VideoUploadedMessage) error {
	f.got = append(f.got, message)
	return f.err
}

func delivery(t *testing.T, v any) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return amqp.Delivery{Body: body}
}

func isPermanent(err error) bool {
	var permanent *backoff.PermanentError
	return errors.As(err, &permanent)
}

func TestVideoUploadedHandler(t *testing.T) {
	verifier := &fakeVerifier{}
	deps := ServiceDependencies{VerifyService: verifier}
	event := dto.VideoUploadedMessage{VideoId: "vid-1", OrganizationId: "org-1", CoachId: "coach-1", ObjectKey: "videos/org-1/coach-1/s/2026-06-01_vid-1.mp4"}

	if err := VideoUploadedHandler(context.Background(), delivery(t, event), deps); err != nil {
		t.Fatal(err)
	}
	if len(verifier.got) != 1 || verifier.got[0] != event {
		t.Fatalf("verifier not called with event: %+v", verifier.got)
	}
}

func TestVideoUploadedHandlerPermanentFailures(t *testing.T) {
	cases := map[string]struct {
		msg      amqp.Delivery
		verifier *fakeVerifier
	}{
		"malformed json": {
			msg:      amqp.Delivery{Body: []byte("{")},
			verifier: &fakeVerifier{},
		},
		"missing key": {
			msg:      delivery(t, dto.VideoUploadedMessage{VideoId: "vid-1"}),
			verifier: &fakeVerifier{},
		},
		"foreign key": {
			msg:      delivery(t, dto.VideoUploadedMessage{VideoId: "vid-1", ObjectKey: "videos/x/y/z/a.mp4"}),
			verifier: &fakeVerifier{err: errors.Join(service.ErrNonRetryable, errors.New("outside scope"))},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := VideoUploadedHandler(context.Background(), tc.msg, ServiceDependencies{VerifyService: tc.verifier})
			if !isPermanent(err) {
				t.Fatalf("expected permanent error, got %v", err)
			}
		})
	}
}

func TestVideoUploadedHandlerRetryable(t *testing.T) {
	verifier := &fakeVerifier{err: errors.New("storage unreachable")}
	event := dto.VideoUploadedMessage{VideoId: "vid-1", ObjectKey: "videos/org-1/coach-1/s/2026-06-01_vid-1.mp4"}

	err := VideoUploadedHandler(context.Background(), delivery(t, event), ServiceDependencies{VerifyService: verifier})
	if err == nil || isPermanent(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}
