// Package storage uploads rendered documents to a public object bucket.
package storage

import (
	"context"
	"fmt"
)

// ObjectStore is a bucket of publicly readable objects.
type ObjectStore interface {
	Upload(ctx context.Context, key, contentType string, body []byte, upsert bool) error
	PublicURL(key string) string
	EnsureBucket(ctx context.Context, public bool) error
}

const (
	BackendSupabase = "supabase"
	BackendS3       = "s3"
)

// UploadError is a non-2xx answer from the storage API.
type UploadError struct {
	Backend    string
	StatusCode int
	Body       string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("%s storage returned status %d: %s", e.Backend, e.StatusCode, e.Body)
}
