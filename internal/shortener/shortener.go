package shortener

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/wzvang/wanews/internal/logger"
)

// Client talks to a URL shortening API. Shortening is best effort: any
// failure returns the original URL so delivery is never blocked on it.
type Client struct {
	apiURL string
	apiKey string
	client *http.Client
}

func New(apiURL, apiKey string) *Client {
	return &Client{
		apiURL: apiURL,
		apiKey: apiKey,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type shortenResponse struct {
	Success bool `json:"success"`
	Data    struct {
		ShortURL string `json:"short_url"`
	} `json:"data"`
}

// Shorten returns a short form of rawURL, or rawURL itself when the
// client is unconfigured or the API call fails.
func (c *Client) Shorten(ctx context.Context, rawURL string) string {
	if c == nil || c.apiURL == "" || rawURL == "" {
		return rawURL
	}

	body, err := json.Marshal(map[string]string{"url": rawURL})
	if err != nil {
		return rawURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return rawURL
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		logger.Warn("url shortener request failed", "error", err)
		return rawURL
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Warn("url shortener returned error", "status", resp.StatusCode)
		return rawURL
	}

	var parsed shortenResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		logger.Warn("url shortener response unreadable", "error", err)
		return rawURL
	}

	if !parsed.Success || parsed.Data.ShortURL == "" {
		return rawURL
	}
	return parsed.Data.ShortURL
}
