// Package httptool serves the data tools (platform data, search,
// similarity search, datastore) by posting their JSON arguments to a
// configured HTTP endpoint per tool.
package httptool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
	"github.com/hugo-lorenzo-mato/adpilot/internal/logging"
)

const maxErrorBody = 512

// Config configures the data tool backend.
type Config struct {
	BaseURL string
	APIKey  string `json:"-"`
	// Endpoints maps tool names to paths below BaseURL, or to absolute URLs.
	Endpoints  map[string]string
	HTTPClient *http.Client
}

// Client implements boundary.Backend for the tools it has endpoints for.
type Client struct {
	apiKey    string
	endpoints map[core.ToolName]string
	http      *http.Client
	logger    *logging.Logger
}

// New creates a data tool backend. Unknown tool names and the tools served
// by the llm backend are rejected.
func New(cfg Config, logger *logging.Logger) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	endpoints := make(map[core.ToolName]string, len(cfg.Endpoints))
	for name, path := range cfg.Endpoints {
		tool := core.ToolName(name)
		if _, ok := core.ContractFor(tool); !ok {
			return nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("unknown tool %q in tools.endpoints", name))
		}
		if tool == core.ToolReasoning || tool == core.ToolGeneration {
			return nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("tool %q is served by the llm backend", name))
		}
		if path == "" {
			continue
		}
		if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
			endpoints[tool] = path
			continue
		}
		if base == "" {
			return nil, core.ErrValidation(core.CodeInvalidConfig, "tools.base_url is required for relative endpoints")
		}
		endpoints[tool] = base + "/" + strings.TrimLeft(path, "/")
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Transport: http.DefaultTransport}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{apiKey: cfg.APIKey, endpoints: endpoints, http: hc, logger: logger}, nil
}

// Tools lists the tools with a configured endpoint, sorted.
func (c *Client) Tools() []core.ToolName {
	out := make([]core.ToolName, 0, len(c.endpoints))
	for t := range c.endpoints {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Call implements boundary.Backend. The response body is returned as is;
// the boundary decodes it against the tool's result contract.
func (c *Client) Call(ctx context.Context, tool core.ToolName, args json.RawMessage) (json.RawMessage, error) {
	url, ok := c.endpoints[tool]
	if !ok {
		return nil, core.ErrTool(core.FailureUnavailable, tool, "no endpoint configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(args))
	if err != nil {
		return nil, core.ErrTool(core.FailureUnavailable, tool, "building request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, core.ErrTool(core.FailureUnavailable, tool, "request failed").WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.ErrTool(core.FailureUnavailable, tool, "reading response").WithCause(err)
	}
	c.logger.Debug("tool endpoint called", "tool", tool, "status", resp.StatusCode, "bytes", len(body))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, core.ErrTool(core.FailureRateLimited, tool, "rate limited by endpoint")
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return nil, core.ErrTool(core.FailureTimeout, tool, fmt.Sprintf("endpoint timeout (%d)", resp.StatusCode))
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, core.ErrTool(core.FailureInvalidResponse, tool, fmt.Sprintf("arguments rejected (%d): %s", resp.StatusCode, snippet(body)))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, core.ErrTool(core.FailureUnavailable, tool, fmt.Sprintf("endpoint error (%d): %s", resp.StatusCode, snippet(body)))
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 || !json.Valid(body) {
		return nil, core.ErrTool(core.FailureInvalidResponse, tool, "response is not JSON")
	}
	return body, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody] + "..."
	}
	return s
}
