// Package anthropic implements the Anthropic Messages API adapter.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/BradA1878/model-exchange-framework-sub007/internal/common/errors"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/llm"
)

const (
	DefaultModel     = "claude-sonnet-4-20250514"
	DefaultEndpoint  = "https://api.anthropic.com/v1/messages"
	DefaultTimeout   = 60 * time.Second
	DefaultMaxTokens = 4096

	apiVersion = "2023-06-01"
)

// Config holds configuration for the Anthropic client.
type Config struct {
	APIKey    string
	Model     string
	Endpoint  string
	Timeout   time.Duration
	MaxTokens int
}

// Client implements the Provider interface for the Anthropic API.
type Client struct {
	apiKey     string
	model      string
	endpoint   string
	maxTokens  int
	httpClient *http.Client
}

// NewClient creates a new Anthropic client.
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = DefaultMaxTokens
	}
	return &Client{
		apiKey:     config.APIKey,
		model:      config.Model,
		endpoint:   config.Endpoint,
		maxTokens:  config.MaxTokens,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "anthropic"
}

// SendMessage sends a conversation to Anthropic and normalizes the answer.
func (c *Client) SendMessage(ctx context.Context, messages []llm.Message, tools []llm.Tool, opts llm.Options) (*llm.Response, error) {
	system, wireMessages := convertMessages(messages)

	model := opts.Model
	if model == "" {
		model = c.model
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	req := &messagesRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  wireMessages,
		Tools:     convertTools(tools),
	}
	if opts.Temperature > 0 {
		req.Temperature = &opts.Temperature
	}

	resp, err := c.callAPI(ctx, req)
	if err != nil {
		return nil, err
	}
	return convertResponse(resp), nil
}

// convertMessages translates core messages to the wire format. Anthropic
// accepts a single system string, so consecutive system messages merge;
// tool-role messages become user messages carrying tool_result blocks, and
// adjacent same-role messages coalesce.
func convertMessages(messages []llm.Message) (string, []wireMessage) {
	system := ""
	out := make([]wireMessage, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Text()
			continue
		}

		role := msg.Role
		if role == llm.RoleTool {
			role = llm.RoleUser
		}

		blocks := make([]wireBlock, 0, len(msg.Content))
		for _, item := range msg.Content {
			blocks = append(blocks, convertItem(item))
		}
		if len(blocks) == 0 {
			continue
		}

		if len(out) > 0 && out[len(out)-1].Role == role {
			out[len(out)-1].Content = append(out[len(out)-1].Content, blocks...)
			continue
		}
		out = append(out, wireMessage{Role: role, Content: blocks})
	}
	return system, out
}

func convertItem(item llm.ContentItem) wireBlock {
	switch item.Type {
	case llm.ContentImage:
		block := wireBlock{Type: "image"}
		if item.Image != nil {
			block.Source = &wireImageSource{
				Type:      item.Image.Type,
				MediaType: item.Image.MediaType,
				Data:      item.Image.Data,
				URL:       item.Image.URL,
			}
		}
		return block
	case llm.ContentToolUse:
		return wireBlock{Type: "tool_use", ID: item.ID, Name: item.Name, Input: item.Input}
	case llm.ContentToolResult:
		return wireBlock{
			Type:      "tool_result",
			ToolUseID: item.ToolUseID,
			Content:   item.Content,
			IsError:   item.IsError,
		}
	default:
		return wireBlock{Type: "text", Text: item.Text}
	}
}

// convertTools translates tool declarations; the input schema passes
// through as a JSON Schema object.
func convertTools(tools []llm.Tool) []wireTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]wireTool, 0, len(tools))
	for _, tool := range tools {
		out = append(out, wireTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema.ToMap(),
		})
	}
	return out
}

// convertResponse normalizes the wire response.
func convertResponse(resp *messagesResponse) *llm.Response {
	content := make([]llm.ContentItem, 0, len(resp.Content))
	for _, block := range resp.Content {
		switch block.Type {
		case "tool_use":
			content = append(content, llm.ContentItem{
				Type:  llm.ContentToolUse,
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			})
		case "text":
			content = append(content, llm.ContentItem{Type: llm.ContentText, Text: block.Text})
		}
	}
	return &llm.Response{
		ID:           resp.ID,
		Role:         llm.RoleAssistant,
		Content:      content,
		Model:        resp.Model,
		StopReason:   resp.StopReason,
		StopSequence: resp.StopSequence,
		Usage: llm.Usage{
			Input:  resp.Usage.InputTokens,
			Output: resp.Usage.OutputTokens,
			Total:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}

func (c *Client) callAPI(ctx context.Context, req *messagesRequest) (*messagesResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.InvalidRequest("failed to encode request: " + err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.InvalidRequest("failed to build request: " + err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.Timeout("anthropic request")
		}
		return nil, apperrors.ProviderUnavailable("anthropic", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, apperrors.ProviderUnavailable("anthropic", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		message := string(respBody)
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			message = apiErr.Error.Message
		}
		if httpResp.StatusCode >= 400 && httpResp.StatusCode < 500 {
			return nil, apperrors.InvalidRequest(fmt.Sprintf("anthropic rejected request (%d): %s", httpResp.StatusCode, message))
		}
		return nil, apperrors.ProviderUnavailable("anthropic",
			fmt.Errorf("status %d: %s", httpResp.StatusCode, message))
	}

	var resp messagesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, apperrors.ProviderUnavailable("anthropic", fmt.Errorf("malformed response: %w", err))
	}
	return &resp, nil
}
