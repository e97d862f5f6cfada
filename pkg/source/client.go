package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"energysync/pkg/config"
	"energysync/pkg/record"
)

// apiClient is the HTTP plumbing shared by the two Home Assistant API
// sources: bearer-token GETs against a base URL with a bounded timeout.
type apiClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func newAPIClient(baseURL, token string, timeout time.Duration) apiClient {
	if timeout <= 0 {
		timeout = config.DefaultHTTPTimeout
	}
	return apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// get issues a GET and returns the body for 2xx responses. Non-2xx codes
// come back as *Error classified for the caller's source: 404 is
// Unsupported, 429 and 5xx are Transient, everything else Unavailable.
func (c apiClient) get(ctx context.Context, src record.Source, path string, params url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, NewError(src, KindUnavailable, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, NewError(src, KindTransient, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusNotFound:
		return nil, NewError(src, KindUnsupported,
			fmt.Errorf("endpoint %s not present (status 404)", path))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, NewError(src, KindTransient,
			fmt.Errorf("request to %s failed with status %d", path, resp.StatusCode))
	default:
		return nil, NewError(src, KindUnavailable,
			fmt.Errorf("request to %s failed with status %d", path, resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(src, KindTransient, fmt.Errorf("failed to read response: %w", err))
	}
	return body, nil
}

// probeAPI hits the lightweight API root, which every Home Assistant
// version serves.
func (c apiClient) probeAPI(ctx context.Context, src record.Source) error {
	probeCtx, cancel := context.WithTimeout(ctx, config.ProbeTimeout)
	defer cancel()

	_, err := c.get(probeCtx, src, "/api/", nil)
	return err
}
