// Package directory is a thin client for the platform's user directory API.
// The delivery core never stores user profiles; it asks the directory for
// tenant membership, role membership and email addresses on demand.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 5 * time.Second

// Config holds the directory endpoint settings.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client talks to the directory API over HTTP. All lookups are read-only.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient constructs a directory client.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("directory: base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("directory: invalid base url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL: base,
		token:   strings.TrimSpace(cfg.Token),
		http:    &http.Client{Timeout: timeout},
	}, nil
}

type userRecord struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// UsersOf lists the user ids belonging to a tenant.
func (c *Client) UsersOf(ctx context.Context, tenantID string) ([]string, error) {
	var users []userRecord
	path := fmt.Sprintf("/tenants/%s/users", url.PathEscape(tenantID))
	if err := c.get(ctx, path, &users); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(users))
	for _, user := range users {
		ids = append(ids, user.ID)
	}
	return ids, nil
}

// UsersInRole lists the user ids holding a role within a tenant.
func (c *Client) UsersInRole(ctx context.Context, tenantID, role string) ([]string, error) {
	var users []userRecord
	path := fmt.Sprintf("/tenants/%s/roles/%s/users", url.PathEscape(tenantID), url.PathEscape(role))
	if err := c.get(ctx, path, &users); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(users))
	for _, user := range users {
		ids = append(ids, user.ID)
	}
	return ids, nil
}

// AddressOf returns the email address of a user.
func (c *Client) AddressOf(ctx context.Context, userID string) (string, error) {
	var user userRecord
	path := fmt.Sprintf("/users/%s", url.PathEscape(userID))
	if err := c.get(ctx, path, &user); err != nil {
		return "", err
	}
	if user.Email == "" {
		return "", fmt.Errorf("directory: no email address for user %s", userID)
	}
	return user.Email, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("directory: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("directory: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("directory: request %s: unexpected status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("directory: decode response: %w", err)
	}
	return nil
}
