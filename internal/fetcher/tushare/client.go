package tushare

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const baseURL = "https://api.tushare.pro"

// ErrPerformingRequest marks a transport-level failure: the request never
// produced an HTTP response. A non-200 status or an undecodable body is not
// wrapped with it.
var ErrPerformingRequest = errors.New("performing request")

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=tushare_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a minimal client for the Tushare Pro API. The token is supplied
// per call so the fetcher can rotate credentials through its key pool.
type Client struct {
	baseURL    string
	httpClient HTTPClient
	header     http.Header
}

// ClientOption is a configuration option for the Tushare client.
type ClientOption func(*Client)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) ClientOption {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// NewClient creates a new Tushare Pro API client.
func NewClient(options ...ClientOption) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
	}
	for _, option := range options {
		option(c)
	}
	return c
}

type apiRequest struct {
	APIName string            `json:"api_name"`
	Token   string            `json:"token"`
	Params  map[string]string `json:"params"`
	Fields  string            `json:"fields,omitempty"`
}

// APIResponse is the generic Tushare Pro envelope.
type APIResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data *struct {
		Fields []string `json:"fields"`
		Items  [][]any  `json:"items"`
	} `json:"data"`
}

// Call invokes one Tushare Pro api_name with the given token and params.
func (c *Client) Call(ctx context.Context, token, apiName string, params map[string]string, fields string) (*APIResponse, error) {
	payload, err := json.Marshal(apiRequest{APIName: apiName, Token: token, Params: params, Fields: fields})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPerformingRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		return nil, fmt.Errorf("tushare: HTTP %d: %s", resp.StatusCode, string(b))
	}

	var api APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&api); err != nil {
		return nil, fmt.Errorf("tushare decode: %w", err)
	}
	return &api, nil
}

// Column returns the index of a named field in the response, or -1.
func (r *APIResponse) Column(name string) int {
	if r.Data == nil {
		return -1
	}
	for i, f := range r.Data.Fields {
		if f == name {
			return i
		}
	}
	return -1
}
