package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/claimdesk/be-expense-approvals/internal/apperrors"
	"github.com/claimdesk/be-expense-approvals/internal/repository"
)

// DirectoryClient is a client for the user directory service, which owns
// users, reporting lines, and approval permissions.
type DirectoryClient struct {
	baseURL string
	http    *http.Client
}

// NewDirectoryClient creates a new directory service client.
func NewDirectoryClient(baseURL string, timeout time.Duration) *DirectoryClient {
	return &DirectoryClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// GetUser retrieves a user with manager and approval-permission data.
func (c *DirectoryClient) GetUser(ctx context.Context, userID string) (*repository.Approver, error) {
	var user repository.Approver
	path := fmt.Sprintf("/api/v1/users/%s", userID)
	if err := c.get(ctx, path, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetActiveAdmins retrieves a company's active admin users.
func (c *DirectoryClient) GetActiveAdmins(ctx context.Context, companyID string) ([]*repository.Approver, error) {
	var resp struct {
		Admins []*repository.Approver `json:"admins"`
	}
	path := fmt.Sprintf("/api/v1/companies/%s/admins", companyID)
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Admins, nil
}

func (c *DirectoryClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("directory: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("directory: request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.NotFound("directory resource", path)
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return apperrors.Newf(apperrors.CodeInternal,
			"directory: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("directory: decode response: %w", err)
	}
	return nil
}
