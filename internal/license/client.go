package license

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	kgerrors "keygate/internal/errors"
	v1 "keygate/pkg/contracts/api/v1"
)

// EntitlementAPI is what the resolver needs from the server. Satisfied by
// *Client; tests substitute their own.
type EntitlementAPI interface {
	Heartbeat(ctx context.Context, req *v1.HeartbeatRequest) (*v1.HeartbeatResponse, error)
	Register(ctx context.Context, req *v1.RegisterRequest) (*v1.RegisterResponse, error)
}

const defaultHeartbeatTimeout = 15 * time.Second

// Client talks to the entitlement server's wire contract.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an API client for the given server base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultHeartbeatTimeout},
	}
}

// Heartbeat calls POST /heartbeat.
func (c *Client) Heartbeat(ctx context.Context, req *v1.HeartbeatRequest) (*v1.HeartbeatResponse, error) {
	var resp v1.HeartbeatResponse
	if err := c.post(ctx, "/heartbeat", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Register calls POST /register.
func (c *Client) Register(ctx context.Context, req *v1.RegisterRequest) (*v1.RegisterResponse, error) {
	var resp v1.RegisterResponse
	if err := c.post(ctx, "/register", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", kgerrors.ErrNetworkUnavailable, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return c.decodeProblem(httpResp)
	}

	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// decodeProblem maps a non-200 answer back to the client-side error
// taxonomy. The body is an RFC 7807 problem document.
func (c *Client) decodeProblem(resp *http.Response) error {
	var problem struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(body, &problem)

	detail := problem.Detail
	if detail == "" {
		detail = problem.Title
	}

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", kgerrors.ErrRateLimited, detail)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", kgerrors.ErrDeviceLimitReached, detail)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", kgerrors.ErrValidation, detail)
	default:
		return fmt.Errorf("server answered %d: %s", resp.StatusCode, detail)
	}
}
