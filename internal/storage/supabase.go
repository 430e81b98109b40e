package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SupabaseStore talks to the Supabase Storage REST API with the service role key.
type SupabaseStore struct {
	baseURL    string
	serviceKey string
	bucket     string
	client     *http.Client
	logger     *zap.Logger
}

type SupabaseConfig struct {
	URL        string
	ServiceKey string
	Bucket     string
	Timeout    time.Duration
}

func NewSupabaseStore(cfg SupabaseConfig, logger *zap.Logger) *SupabaseStore {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &SupabaseStore{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		serviceKey: cfg.ServiceKey,
		bucket:     cfg.Bucket,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Upload stores body under key. With upsert an existing object is replaced.
func (s *SupabaseStore) Upload(ctx context.Context, key, contentType string, body []byte, upsert bool) error {
	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.baseURL, url.PathEscape(s.bucket), escapeKey(key))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	s.authorize(req)
	req.Header.Set("Content-Type", contentType)
	if upsert {
		req.Header.Set("x-upsert", "true")
	}

	if err := s.do(req); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}

	s.logger.Debug("object uploaded",
		zap.String("bucket", s.bucket),
		zap.String("key", key),
		zap.Int("bytes", len(body)),
	)
	return nil
}

func (s *SupabaseStore) PublicURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, url.PathEscape(s.bucket), escapeKey(key))
}

// EnsureBucket creates the bucket, treating "already exists" as success.
func (s *SupabaseStore) EnsureBucket(ctx context.Context, public bool) error {
	payload, err := json.Marshal(map[string]any{
		"id":     s.bucket,
		"name":   s.bucket,
		"public": public,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/storage/v1/bucket", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create bucket request: %w", err)
	}
	s.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	err = s.do(req)
	var ue *UploadError
	if errors.As(err, &ue) && isDuplicate(ue) {
		s.logger.Info("bucket already exists", zap.String("bucket", s.bucket))
		return nil
	}
	if err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	s.logger.Info("bucket created", zap.String("bucket", s.bucket), zap.Bool("public", public))
	return nil
}

func (s *SupabaseStore) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("apikey", s.serviceKey)
}

func (s *SupabaseStore) do(req *http.Request) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &UploadError{Backend: BackendSupabase, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}

// Supabase reports an existing bucket as 409, or as 400 with "Duplicate" in the body.
func isDuplicate(e *UploadError) bool {
	return e.StatusCode == http.StatusConflict ||
		(e.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(e.Body), "duplicate"))
}

// escapeKey escapes each path segment of key, keeping the slashes.
func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
