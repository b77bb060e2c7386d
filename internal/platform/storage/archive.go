package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

// ObjectWriter writes one object. Satisfied by the GCS-backed implementation and by test fakes.
type ObjectWriter interface {
	WriteObject(ctx context.Context, bucket, object, contentType string, data []byte, metadata map[string]string) error
}

// WebhookArchive stores verified gateway payloads for audit and replay.
type WebhookArchive struct {
	writer ObjectWriter
	bucket string
	now    func() time.Time
}

type ArchiveOption func(*WebhookArchive)

func WithArchiveClock(now func() time.Time) ArchiveOption {
	return func(a *WebhookArchive) {
		if now != nil {
			a.now = now
		}
	}
}

func NewWebhookArchive(writer ObjectWriter, bucket string, opts ...ArchiveOption) (*WebhookArchive, error) {
	if writer == nil {
		return nil, errors.New("storage archive: writer is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage archive: bucket is required")
	}
	a := &WebhookArchive{writer: writer, bucket: bucket, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// ArchiveEvent writes payload under the event's dated path and returns the object name.
func (a *WebhookArchive) ArchiveEvent(ctx context.Context, provider, eventID, eventType string, payload []byte) (string, error) {
	object, err := WebhookEventPath(provider, eventID, a.now())
	if err != nil {
		return "", err
	}
	metadata := map[string]string{"eventId": eventID}
	if eventType = strings.TrimSpace(eventType); eventType != "" {
		metadata["eventType"] = eventType
	}
	if err := a.writer.WriteObject(ctx, a.bucket, object, "application/json", payload, metadata); err != nil {
		return "", fmt.Errorf("storage archive: write %s: %w", object, err)
	}
	return object, nil
}

// GCSWriter writes objects through a Cloud Storage client. Existing objects are left untouched so
// redelivered events do not overwrite the first archived copy.
type GCSWriter struct {
	client *gcs.Client
}

func NewGCSWriter(client *gcs.Client) (*GCSWriter, error) {
	if client == nil {
		return nil, errors.New("storage writer: client is required")
	}
	return &GCSWriter{client: client}, nil
}

func (w *GCSWriter) WriteObject(ctx context.Context, bucket, object, contentType string, data []byte, metadata map[string]string) error {
	obj := w.client.Bucket(bucket).Object(object).If(gcs.Conditions{DoesNotExist: true})
	writer := obj.NewWriter(ctx)
	writer.ContentType = contentType
	writer.Metadata = metadata
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			return nil
		}
		return err
	}
	return nil
}
