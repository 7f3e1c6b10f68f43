// Package llm serves the reasoning and generation tools from an
// OpenAI-compatible chat completions endpoint.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
	"github.com/hugo-lorenzo-mato/adpilot/internal/logging"
	"github.com/hugo-lorenzo-mato/adpilot/internal/prompt"
)

const (
	defaultModel     = "gpt-4o-mini"
	defaultMaxTokens = 2048
	maxErrorBody     = 512
)

// Config configures the chat backend.
type Config struct {
	BaseURL string
	APIKey  string `json:"-"`
	Model   string
	// GenerationModel serves the generation tool; empty uses Model.
	GenerationModel string
	MaxTokens       int
	HTTPClient      *http.Client
}

// Client implements boundary.Backend for core.ToolReasoning and
// core.ToolGeneration. It never retries; the boundary owns retry policy.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *logging.Logger
}

// New creates a chat backend.
func New(cfg Config, logger *logging.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "llm.base_url is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.GenerationModel == "" {
		cfg.GenerationModel = cfg.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	hc := cfg.HTTPClient
	if hc == nil {
		// Per-call deadlines come from the boundary context.
		hc = &http.Client{Transport: http.DefaultTransport}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{cfg: cfg, http: hc, logger: logger}, nil
}

// Tools lists the tools this backend serves.
func (c *Client) Tools() []core.ToolName {
	return []core.ToolName{core.ToolReasoning, core.ToolGeneration}
}

// Call implements boundary.Backend.
func (c *Client) Call(ctx context.Context, tool core.ToolName, args json.RawMessage) (json.RawMessage, error) {
	switch tool {
	case core.ToolReasoning:
		var a core.ReasoningArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, core.ErrTool(core.FailureInvalidResponse, tool, "decoding arguments").WithCause(err)
		}
		return c.reason(ctx, &a)
	case core.ToolGeneration:
		var a core.GenerationArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, core.ErrTool(core.FailureInvalidResponse, tool, "decoding arguments").WithCause(err)
		}
		return c.generate(ctx, &a)
	default:
		return nil, core.ErrTool(core.FailureUnavailable, tool, "not served by the llm backend")
	}
}

func (c *Client) reason(ctx context.Context, a *core.ReasoningArgs) (json.RawMessage, error) {
	maxTokens := a.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}
	req := chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages(a.System, a.Prompt),
		Temperature: a.Temperature,
		MaxTokens:   maxTokens,
	}
	if a.JSON {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	resp, err := c.complete(ctx, core.ToolReasoning, req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(core.ReasoningResult{
		Text:      resp.text(),
		Model:     resp.Model,
		TokensIn:  resp.Usage.PromptTokens,
		TokensOut: resp.Usage.CompletionTokens,
	})
}

const generationSystem = "You write advertising copy. Reply with a JSON object " +
	`{"variants": ["..."]} containing exactly the requested number of distinct variants.`

func (c *Client) generate(ctx context.Context, a *core.GenerationArgs) (json.RawMessage, error) {
	user := fmt.Sprintf("Write %d variants.", a.Variants)
	if a.Platform != "" {
		user += fmt.Sprintf(" They will run on %s.", a.Platform)
	}
	user += "\n\n" + a.Prompt

	req := chatRequest{
		Model:          c.cfg.GenerationModel,
		Messages:       messages(generationSystem, user),
		Temperature:    a.Temperature,
		MaxTokens:      c.cfg.MaxTokens,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
	resp, err := c.complete(ctx, core.ToolGeneration, req)
	if err != nil {
		return nil, err
	}

	variants := parseVariants(resp.text())
	if len(variants) == 0 {
		return nil, core.ErrTool(core.FailureInvalidResponse, core.ToolGeneration, "no variants in completion")
	}
	if len(variants) > a.Variants {
		variants = variants[:a.Variants]
	}
	return json.Marshal(core.GenerationResult{Variants: variants})
}

// parseVariants accepts {"variants": [...]}, a bare JSON array, or one
// variant per line.
func parseVariants(text string) []string {
	var obj struct {
		Variants []string `json:"variants"`
	}
	if err := prompt.Decode(text, &obj); err == nil && len(obj.Variants) > 0 {
		return clean(obj.Variants)
	}
	var arr []string
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &arr); err == nil {
		return clean(arr)
	}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*0123456789.) "))
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func clean(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Client) complete(ctx context.Context, tool core.ToolName, req chatRequest) (*chatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, core.ErrTool(core.FailureInvalidResponse, tool, "encoding request").WithCause(err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, core.ErrTool(core.FailureUnavailable, tool, "building request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, core.ErrTool(core.FailureUnavailable, tool, "request failed").WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.ErrTool(core.FailureUnavailable, tool, "reading response").WithCause(err)
	}
	c.logger.Debug("chat completion", "tool", tool, "model", req.Model, "status", resp.StatusCode, "duration", time.Since(start))

	if err := statusError(tool, resp.StatusCode, data); err != nil {
		return nil, err
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, core.ErrTool(core.FailureInvalidResponse, tool, "decoding completion").WithCause(err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.text()) == "" {
		return nil, core.ErrTool(core.FailureInvalidResponse, tool, "completion has no content")
	}
	return &out, nil
}

// statusError maps an HTTP status to a boundary failure kind.
func statusError(tool core.ToolName, status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return core.ErrTool(core.FailureRateLimited, tool, "rate limited by provider")
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return core.ErrTool(core.FailureTimeout, tool, fmt.Sprintf("provider timeout (%d)", status))
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return core.ErrTool(core.FailureInvalidResponse, tool, fmt.Sprintf("request rejected (%d): %s", status, snippet(body)))
	default:
		return core.ErrTool(core.FailureUnavailable, tool, fmt.Sprintf("provider error (%d): %s", status, snippet(body)))
	}
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody] + "..."
	}
	return s
}

func messages(system, user string) []chatMessage {
	var out []chatMessage
	if strings.TrimSpace(system) != "" {
		out = append(out, chatMessage{Role: "system", Content: system})
	}
	return append(out, chatMessage{Role: "user", Content: user})
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (r *chatResponse) text() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}
