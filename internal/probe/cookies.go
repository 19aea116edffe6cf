package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/webcheckup/webcheckup/internal/domain/checkup"
	sharedErrors "github.com/webcheckup/webcheckup/internal/shared/errors"
)

const defaultCookieScannerURL = "https://rapid-shadow-93cf.davidzhai0921.workers.dev"

// CookieScanner submits the target to an external GDPR cookie-scanning
// service and polls until the scan reports done. The service never pushes;
// polling is bounded by MaxAttempts.
type CookieScanner struct {
	BaseURL      string
	Client       *http.Client
	InitialDelay time.Duration
	PollInterval time.Duration
	MaxAttempts  int
}

// NewCookieScanner returns a scanner against the given service base URL
// (empty means the default service).
func NewCookieScanner(baseURL string) *CookieScanner {
	if baseURL == "" {
		baseURL = defaultCookieScannerURL
	}
	return &CookieScanner{
		BaseURL:      baseURL,
		Client:       &http.Client{Timeout: 30 * time.Second},
		InitialDelay: 20 * time.Second,
		PollInterval: 5 * time.Second,
		MaxAttempts:  20,
	}
}

func (c *CookieScanner) Type() checkup.CheckType {
	return checkup.TypeCookie
}

func (c *CookieScanner) Run(ctx context.Context, target string) (map[string]any, error) {
	if target == "" {
		return nil, sharedErrors.ErrEmptyTarget
	}

	identifier, err := c.submit(ctx, target)
	if err != nil {
		return nil, err
	}

	result, err := c.poll(ctx, identifier)
	if err != nil {
		return nil, err
	}

	// The service returns image paths relative to its own host.
	if images, ok := result["images"].([]any); ok {
		prefixed := make([]any, 0, len(images))
		for _, img := range images {
			if path, ok := img.(string); ok {
				prefixed = append(prefixed, c.BaseURL+path)
			}
		}
		result["images"] = prefixed
	}

	return result, nil
}

func (c *CookieScanner) submit(ctx context.Context, target string) (string, error) {
	submitURL := fmt.Sprintf("%s/api/scan?target=%s&limit=1", c.BaseURL, url.QueryEscape(target))
	body, err := c.request(ctx, http.MethodPost, submitURL)
	if err != nil {
		return "", fmt.Errorf("cookie scan submit: %w", err)
	}

	identifier, _ := body["identifier"].(string)
	if identifier == "" {
		if msg, ok := body["error"].(string); ok && msg != "" {
			return "", fmt.Errorf("cookie scan submit: %s", msg)
		}
		return "", fmt.Errorf("cookie scan submit: no identifier in response")
	}
	return identifier, nil
}

func (c *CookieScanner) poll(ctx context.Context, identifier string) (map[string]any, error) {
	resultURL := fmt.Sprintf("%s/api/scan/%s", c.BaseURL, identifier)

	if err := sleepCtx(ctx, c.InitialDelay); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < c.MaxAttempts; attempt++ {
		result, err := c.request(ctx, http.MethodGet, resultURL)
		if err != nil {
			return nil, fmt.Errorf("cookie scan poll: %w", err)
		}
		if status, _ := result["status"].(string); status == "done" {
			return result, nil
		}
		if err := sleepCtx(ctx, c.PollInterval); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("cookie scan: timeout while polling scanner result")
}

func (c *CookieScanner) request(ctx context.Context, method, rawURL string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("accept", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	return body, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
