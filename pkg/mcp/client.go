// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/mathqa/pkg/flows"
	"github.com/jllopis/mathqa/pkg/index"
	"github.com/jllopis/mathqa/pkg/resilience"
)

// Client calls the mathqa tools of a remote or in-process server. Every
// request is bounded by a timeout and retried with backoff; tool listings
// are cached.
type Client struct {
	conn    client.MCPClient
	timeout time.Duration
	retry   resilience.RetryConfig
	tools   toolCache
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout bounds each request attempt.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetry allows retries extra attempts, backing off from backoff.
func WithRetry(retries int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		if retries >= 0 {
			c.retry.MaxAttempts = retries + 1
		}
		if backoff > 0 {
			c.retry.InitialDelay = backoff
		}
	}
}

// WithToolCacheTTL keeps ListTools results for ttl. Zero disables the cache.
func WithToolCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		if ttl >= 0 {
			c.tools.ttl = ttl
		}
	}
}

// NewClient wraps an initialized mcp-go client.
func NewClient(conn client.MCPClient, opts ...ClientOption) *Client {
	c := &Client{
		conn:    conn,
		timeout: 10 * time.Second,
		retry:   resilience.DefaultRetryConfig(),
		tools:   toolCache{ttl: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewInProcessClient connects to srv without a transport.
func NewInProcessClient(ctx context.Context, srv *Server, opts ...ClientOption) (*Client, error) {
	conn, err := client.NewInProcessClient(srv.MCPServer())
	if err != nil {
		return nil, err
	}
	return connect(ctx, conn, mcp.LATEST_PROTOCOL_VERSION, opts)
}

// NewHTTPClient connects to the streamable HTTP endpoint at url, such as the
// /mcp route of a running server.
func NewHTTPClient(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	conn, err := client.NewStreamableHttpClient(url)
	if err != nil {
		return nil, err
	}
	return connect(ctx, conn, mcp.LATEST_PROTOCOL_VERSION, opts)
}

// NewStdioClient launches command and speaks the protocol over its stdio.
// An empty protocolVersion selects the latest.
func NewStdioClient(ctx context.Context, command string, args []string, protocolVersion string, opts ...ClientOption) (*Client, error) {
	if protocolVersion == "" {
		protocolVersion = mcp.LATEST_PROTOCOL_VERSION
	}
	conn, err := client.NewStdioMCPClient(command, nil, args...)
	if err != nil {
		return nil, err
	}
	return connect(ctx, conn, protocolVersion, opts)
}

func connect(ctx context.Context, conn *client.Client, protocolVersion string, opts []ClientOption) (*Client, error) {
	if err := conn.Start(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = protocolVersion
	req.Params.ClientInfo = mcp.Implementation{Name: "mathqa-client", Version: "0.1.0"}
	if _, err := conn.Initialize(ctx, req); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return NewClient(conn, opts...), nil
}

// ListTools returns the tools the server offers.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if tools, ok := c.tools.get(); ok {
		return tools, nil
	}
	res, err := send(ctx, c, func(ctx context.Context) (*mcp.ListToolsResult, error) {
		return c.conn.ListTools(ctx, mcp.ListToolsRequest{})
	})
	if err != nil {
		return nil, err
	}
	c.tools.put(res.Tools)
	return res.Tools, nil
}

// CallTool invokes the named tool. A tool that reports an error still
// returns a result with IsError set.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return send(ctx, c, func(ctx context.Context) (*mcp.CallToolResult, error) {
		return c.conn.CallTool(ctx, req)
	})
}

// CallToolJSON calls a tool and decodes its JSON text result into v. A tool
// reporting an error is returned as an error.
func (c *Client) CallToolJSON(ctx context.Context, name string, args map[string]interface{}, v any) error {
	res, err := c.CallTool(ctx, name, args)
	if err != nil {
		return err
	}
	return DecodeResult(res, v)
}

// FindSimilar calls the similarity tool. Zero topK or a nil threshold leave
// the server defaults in place.
func (c *Client) FindSimilar(ctx context.Context, question string, topK int, threshold *float64) ([]index.Match, error) {
	args := map[string]interface{}{"question": question}
	if topK > 0 {
		args["top_k"] = topK
	}
	if threshold != nil {
		args["threshold"] = *threshold
	}
	var out struct {
		Similar []index.Match `json:"similar"`
	}
	if err := c.CallToolJSON(ctx, ToolFindSimilar, args, &out); err != nil {
		return nil, err
	}
	return out.Similar, nil
}

// Validate calls the validation tool.
func (c *Client) Validate(ctx context.Context, question string) (flows.Validation, error) {
	var v flows.Validation
	err := c.CallToolJSON(ctx, ToolValidate, map[string]interface{}{"question": question}, &v)
	return v, err
}

// Refine calls the refinement tool. An empty feedback is not sent.
func (c *Client) Refine(ctx context.Context, question, feedback string) (flows.Refinement, error) {
	args := map[string]interface{}{"question": question}
	if feedback != "" {
		args["feedback"] = feedback
	}
	var r flows.Refinement
	err := c.CallToolJSON(ctx, ToolRefine, args, &r)
	return r, err
}

// Close ends the session.
func (c *Client) Close() error {
	return c.conn.Close()
}

// send runs one request under the client's retry policy, each attempt with
// its own timeout.
func send[T any](ctx context.Context, c *Client, call func(context.Context) (T, error)) (T, error) {
	return resilience.Retry(ctx, c.retry, func(int) (T, error) {
		return resilience.WithTimeout(ctx, c.timeout, call)
	})
}

// DecodeResult decodes the text content of a tool result into v.
func DecodeResult(result *mcp.CallToolResult, v any) error {
	if result == nil {
		return errors.New("mcp tool result is nil")
	}
	text := extractTextContent(result.Content)
	if result.IsError {
		return fmt.Errorf("mcp tool returned error: %s", text)
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return fmt.Errorf("mcp tool result is not JSON: %w", err)
	}
	return nil
}

func extractTextContent(items []mcp.Content) string {
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}

type toolCache struct {
	ttl time.Duration

	mu      sync.Mutex
	tools   []mcp.Tool
	expires time.Time
}

func (tc *toolCache) get() ([]mcp.Tool, bool) {
	if tc.ttl == 0 {
		return nil, false
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.tools == nil || time.Now().After(tc.expires) {
		return nil, false
	}
	return append([]mcp.Tool(nil), tc.tools...), true
}

func (tc *toolCache) put(tools []mcp.Tool) {
	if tc.ttl == 0 {
		return
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.tools = append([]mcp.Tool{}, tools...)
	tc.expires = time.Now().Add(tc.ttl)
}
