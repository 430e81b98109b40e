package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const userAgent = "venue-workers/1.0"

// httpPoster is the shared transport for the JSON and form-encoded provider
// APIs (SendGrid, Twilio, Telegram).
type httpPoster struct {
	provider string
	client   *http.Client
}

func newHTTPPoster(provider string, timeout time.Duration) httpPoster {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return httpPoster{
		provider: provider,
		client:   &http.Client{Timeout: timeout},
	}
}

func (p httpPoster) postJSON(ctx context.Context, endpoint string, body any, header http.Header) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", p.provider, err)
	}
	h := header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set("Content-Type", "application/json")
	return p.post(ctx, endpoint, bytes.NewReader(data), h)
}

func (p httpPoster) postForm(ctx context.Context, endpoint string, form url.Values, header http.Header) ([]byte, error) {
	h := header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set("Content-Type", "application/x-www-form-urlencoded")
	return p.post(ctx, endpoint, strings.NewReader(form.Encode()), h)
}

func (p httpPoster) post(ctx context.Context, endpoint string, body io.Reader, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", p.provider, err)
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", p.provider, err)
	}
	defer resp.Body.Close()

	// Read response body for logging/debugging
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Provider: p.provider, StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}
	return bodyBytes, nil
}
