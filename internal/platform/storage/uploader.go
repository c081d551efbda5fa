package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gcs "cloud.google.com/go/storage"
)

// Uploader writes rendered artifacts (order exports, receipts) to Cloud Storage.
type Uploader struct {
	client *gcs.Client
}

// NewUploader constructs an Uploader backed by the provided Cloud Storage client.
func NewUploader(client *gcs.Client) (*Uploader, error) {
	if client == nil {
		return nil, errors.New("storage uploader: client is required")
	}
	return &Uploader{client: client}, nil
}

// Upload writes the payload to bucket/object with the given content type.
func (u *Uploader) Upload(ctx context.Context, bucket, object, contentType string, data []byte) error {
	if u == nil || u.client == nil {
		return errors.New("storage uploader: client is not initialised")
	}

	bucket = strings.TrimSpace(bucket)
	object = strings.TrimSpace(object)
	if bucket == "" || object == "" {
		return errors.New("storage uploader: bucket and object must be provided")
	}

	writer := u.client.Bucket(bucket).Object(object).NewWriter(ctx)
	writer.ContentType = strings.TrimSpace(contentType)
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return fmt.Errorf("storage uploader: write %s/%s: %w", bucket, object, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("storage uploader: close %s/%s: %w", bucket, object, err)
	}
	return nil
}
