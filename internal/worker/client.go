package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/modelbench-go/internal/coordinator"
	"github.com/modelbench-go/internal/coordinator/dispatch"
	"github.com/modelbench-go/pkg/resilience"
)

// Client is the worker's HTTP client for the coordinator's REST surface. All
// calls go through a circuit breaker so a coordinator outage degrades into
// fast failures instead of a retry storm.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.Breaker
	token      string
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breaker:    resilience.NewBreaker(resilience.CoordinatorBreakerConfig(0)),
	}
}

// TuneBreaker re-derives the breaker cadence from the heartbeat interval the
// coordinator assigned at registration.
func (c *Client) TuneBreaker(heartbeatInterval time.Duration) {
	c.breaker = resilience.NewBreaker(resilience.CoordinatorBreakerConfig(heartbeatInterval))
}

// Authenticate obtains a bearer token from the operator credential endpoint.
func (c *Client) Authenticate(ctx context.Context, username, password string) error {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/auth/token", map[string]string{
		"username": username,
		"password": password,
	}, &resp)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	c.token = resp.Token
	return nil
}

func (c *Client) Register(ctx context.Context, req coordinator.RegisterRequest) (coordinator.RegisterResponse, error) {
	var resp coordinator.RegisterResponse
	err := c.do(ctx, http.MethodPost, "/v1/workers", req, &resp)
	return resp, err
}

func (c *Client) Deregister(ctx context.Context, workerID, reason string) error {
	path := "/v1/workers/" + url.PathEscape(workerID) + "?reason=" + url.QueryEscape(reason)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) Heartbeat(ctx context.Context, workerID string, metadata map[string]string) (coordinator.HeartbeatResponse, error) {
	var resp coordinator.HeartbeatResponse
	path := "/v1/workers/" + url.PathEscape(workerID) + "/heartbeat"
	err := c.do(ctx, http.MethodPost, path, coordinator.HeartbeatRequest{Metadata: metadata}, &resp)
	return resp, err
}

func (c *Client) PullTasks(ctx context.Context, workerID string, count int) ([]dispatch.Task, error) {
	var resp coordinator.PullTaskResponse
	path := "/v1/workers/" + url.PathEscape(workerID) + "/pull?count=" + strconv.Itoa(count)
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

func (c *Client) CompleteTask(ctx context.Context, result dispatch.Result) error {
	path := "/v1/tasks/" + url.PathEscape(result.TaskID) + "/complete"
	return c.do(ctx, http.MethodPost, path, result, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	_, err := c.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("failed to encode request: %w", err)
			}
			reader = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return nil, fmt.Errorf("coordinator returned %d: %s", resp.StatusCode, bytes.TrimSpace(data))
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return nil, fmt.Errorf("failed to decode response: %w", err)
			}
		}
		return nil, nil
	})
	return err
}
