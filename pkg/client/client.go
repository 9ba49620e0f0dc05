package client

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

	"github.com/cradlehq/cradle/pkg/api"
	"github.com/cradlehq/cradle/pkg/manager"
	"github.com/cradlehq/cradle/pkg/types"
)

// Client wraps the cradle admin HTTP API for CLI usage
type Client struct {
	baseURL    string
	adminToken string
	httpClient *http.Client
}

// NewClient creates a client for the server at baseURL. The admin token is
// sent on every request; pass "" when the server runs without one.
func NewClient(baseURL, adminToken string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		adminToken: adminToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.adminToken != "" {
		req.Header.Set(api.HeaderAdminToken, c.adminToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
			return fmt.Errorf("%s (HTTP %d)", eb.Error, resp.StatusCode)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// ApplyChallenges upserts challenge definitions
func (c *Client) ApplyChallenges(ctx context.Context, challenges []types.Challenge) error {
	return c.do(ctx, http.MethodPost, "/containers/api/challenges", challenges, nil)
}

// ListChallenges returns every challenge definition
func (c *Client) ListChallenges(ctx context.Context) ([]*types.Challenge, error) {
	var out struct {
		Challenges []*types.Challenge `json:"challenges"`
	}
	if err := c.do(ctx, http.MethodGet, "/containers/api/challenges", nil, &out); err != nil {
		return nil, err
	}
	return out.Challenges, nil
}

// DeleteChallenge removes a challenge definition
func (c *Client) DeleteChallenge(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/containers/api/challenges/"+url.PathEscape(id), nil, nil)
}

// Dashboard returns the tracked instances with live running flags plus
// engine connectivity
func (c *Client) Dashboard(ctx context.Context) (bool, []*manager.InstanceView, error) {
	var out struct {
		Connected bool                    `json:"connected"`
		Instances []*manager.InstanceView `json:"instances"`
	}
	if err := c.do(ctx, http.MethodGet, "/containers/api/dashboard", nil, &out); err != nil {
		return false, nil, err
	}
	return out.Connected, out.Instances, nil
}

// Images lists image references on the engine
func (c *Client) Images(ctx context.Context) ([]string, error) {
	var out struct {
		Images []string `json:"images"`
	}
	if err := c.do(ctx, http.MethodGet, "/containers/api/images", nil, &out); err != nil {
		return nil, err
	}
	return out.Images, nil
}

// Kill destroys an instance by container id
func (c *Client) Kill(ctx context.Context, containerID string) error {
	body := map[string]string{"container_id": containerID}
	return c.do(ctx, http.MethodPost, "/containers/api/kill", body, nil)
}

// Purge destroys every tracked instance
func (c *Client) Purge(ctx context.Context) (*manager.PurgeReport, error) {
	var report manager.PurgeReport
	if err := c.do(ctx, http.MethodPost, "/containers/api/purge", struct{}{}, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// Settings returns the current settings document
func (c *Client) Settings(ctx context.Context) (map[string]string, error) {
	var out map[string]string
	if err := c.do(ctx, http.MethodGet, "/containers/api/settings", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateSettings replaces the settings document
func (c *Client) UpdateSettings(ctx context.Context, values map[string]string) error {
	return c.do(ctx, http.MethodPost, "/containers/api/settings/update", values, nil)
}
