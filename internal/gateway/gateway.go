package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/wzvang/wanews/internal/logger"
	"github.com/wzvang/wanews/internal/retry"
)

// Sink is the outbound message transport the scheduler delivers
// through. Implementations report readiness so no delivery is
// attempted before a session is established.
type Sink interface {
	IsReady() bool
	SendText(ctx context.Context, address, text string) error
	SendImage(ctx context.Context, address, imageURL, caption string) error
}

// Client talks to a WhatsApp HTTP gateway: a sidecar that owns the
// chat session and exposes plain send endpoints.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	retry   retry.Config
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
		retry: retry.Config{
			MaxAttempts: 3,
			Delay:       2 * time.Second,
			Backoff:     true,
		},
	}
}

type statusResponse struct {
	Ready bool `json:"ready"`
}

// IsReady asks the gateway whether its chat session is established.
// Any transport problem counts as not ready.
func (c *Client) IsReady() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return false
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		logger.Debug("gateway status check failed", "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return false
	}
	return status.Ready
}

func (c *Client) SendText(ctx context.Context, address, text string) error {
	return c.post(ctx, "/send", map[string]string{
		"to":      address,
		"message": text,
	})
}

func (c *Client) SendImage(ctx context.Context, address, imageURL, caption string) error {
	return c.post(ctx, "/send-image", map[string]string{
		"to":      address,
		"image":   imageURL,
		"caption": caption,
	})
}

func (c *Client) post(ctx context.Context, path string, payload map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal gateway payload: %w", err)
	}

	return retry.WithRetry(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build gateway request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		c.authorize(req)

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("gateway request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("gateway error: status %d", resp.StatusCode)
		}
		return nil
	})
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
