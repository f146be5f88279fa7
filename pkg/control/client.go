package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/flowforge/startlimit/pkg/model"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalid      = errors.New("invalid request")
	ErrUnauthorized = errors.New("unauthorized")
)

// Config describes how to reach a limiter server.
type Config struct {
	Address string
	Token   string
	Timeout time.Duration
}

// Client talks to the limiter control API.
type Client struct {
	base       *url.URL
	token      string
	httpClient *http.Client
}

type CreateRequest struct {
	Tag          string `json:"tag"`
	Name         string `json:"name,omitempty"`
	Expr         string `json:"expr"`
	CostExpr     string `json:"cost_expr,omitempty"`
	Count        int64  `json:"count"`
	Window       int64  `json:"window"`
	Burst        int64  `json:"burst"`
	MaxBurstCost int64  `json:"max_burst_cost"`
	Expires      int64  `json:"expires"`
}

type ListResponse struct {
	Items  []model.LimitSnapshot `json:"items"`
	Total  int                   `json:"total"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

type apiError struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

func NewClient(cfg Config) (*Client, error) {
	address := strings.TrimSpace(cfg.Address)
	if address == "" {
		address = "http://127.0.0.1:8080"
	}
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}
	base, err := url.Parse(strings.TrimRight(address, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", cfg.Address, err)
	}

	httpClient := cleanhttp.DefaultPooledClient()
	if cfg.Timeout > 0 {
		httpClient.Timeout = cfg.Timeout
	}
	return &Client{base: base, token: cfg.Token, httpClient: httpClient}, nil
}

func (c *Client) Create(ctx context.Context, req *CreateRequest) (*model.LimitSnapshot, error) {
	var snap model.LimitSnapshot
	if err := c.do(ctx, http.MethodPost, "/api/v1/limits", nil, req, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Client) Query(ctx context.Context, tag string) (*model.QueryResult, error) {
	var result model.QueryResult
	if err := c.do(ctx, http.MethodGet, "/api/v1/limits/"+url.PathEscape(tag), nil, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) List(ctx context.Context, filter string) (*ListResponse, error) {
	query := url.Values{}
	if filter != "" {
		query.Set("filter", filter)
	}
	var list ListResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/limits", query, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *Client) Delete(ctx context.Context, tag string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/limits/"+url.PathEscape(tag), nil, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	var apiErr apiError
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &apiErr); err != nil || apiErr.Error == "" {
		apiErr.Error = strings.TrimSpace(string(data))
	}
	msg := apiErr.Error
	if apiErr.Details != "" {
		msg += ": " + apiErr.Details
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalid, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	default:
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, msg)
	}
}
