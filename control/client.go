package control

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"autoheal/models"

	"github.com/tidwall/gjson"
)

// Client queries a running control server
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for addr (host:port or a full URL)
func NewClient(addr string, timeout time.Duration) *Client {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{baseURL: strings.TrimRight(base, "/"), http: &http.Client{Timeout: timeout}}
}

// Status fetches GET /status
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	data, err := c.do(ctx, http.MethodGet, "/status")
	if err != nil {
		return nil, err
	}
	var resp StatusResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return &resp, nil
}

// Heal triggers POST /heal and returns the finished run
func (c *Client) Heal(ctx context.Context) (*models.RemediationRecord, error) {
	data, err := c.do(ctx, http.MethodPost, "/heal")
	if err != nil {
		return nil, err
	}
	var rec models.RemediationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode heal result: %w", err)
	}
	return &rec, nil
}

// Record fetches GET /history/:id
func (c *Client) Record(ctx context.Context, id string) (*models.RemediationRecord, error) {
	data, err := c.do(ctx, http.MethodGet, "/history/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	var rec models.RemediationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &rec, nil
}

// DrainQueue empties the fix queue through POST /queue/drain
func (c *Client) DrainQueue(ctx context.Context) ([]models.Diagnosis, error) {
	data, err := c.do(ctx, http.MethodPost, "/queue/drain")
	if err != nil {
		return nil, err
	}
	var fixes []models.Diagnosis
	if err := json.Unmarshal([]byte(gjson.GetBytes(data, "fixes").Raw), &fixes); err != nil {
		return nil, fmt.Errorf("failed to decode fix queue: %w", err)
	}
	return fixes, nil
}

func (c *Client) do(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("control server unreachable: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(data, "error").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, msg)
	}
	return data, nil
}
