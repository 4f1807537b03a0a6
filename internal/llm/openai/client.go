// Package openai implements the OpenAI Chat Completions adapter.
package openai

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
	DefaultModel    = "gpt-4o"
	DefaultEndpoint = "https://api.openai.com/v1/chat/completions"
	DefaultTimeout  = 60 * time.Second
)

// Config holds configuration for the OpenAI client.
type Config struct {
	APIKey   string
	Model    string
	Endpoint string
	Timeout  time.Duration
}

// Client implements the Provider interface for the OpenAI API.
type Client struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a new OpenAI client.
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
	return &Client{
		apiKey:     config.APIKey,
		model:      config.Model,
		endpoint:   config.Endpoint,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "openai"
}

// SendMessage sends a conversation to OpenAI and normalizes the answer.
func (c *Client) SendMessage(ctx context.Context, messages []llm.Message, tools []llm.Tool, opts llm.Options) (*llm.Response, error) {
	model := opts.Model
	if model == "" {
		model = c.model
	}

	req := &chatRequest{
		Model:     model,
		Messages:  convertMessages(messages),
		Tools:     convertTools(tools),
		MaxTokens: opts.MaxTokens,
	}
	if opts.Temperature > 0 {
		req.Temperature = &opts.Temperature
	}

	resp, err := c.callAPI(ctx, req)
	if err != nil {
		return nil, err
	}
	return convertResponse(resp)
}

// convertMessages translates core messages to the chat format. Assistant
// tool_use items become tool_calls; tool_result items become tool-role
// messages keyed by tool_call_id.
func convertMessages(messages []llm.Message) []chatMessage {
	out := make([]chatMessage, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleAssistant:
			entry := chatMessage{Role: llm.RoleAssistant, Content: msg.Text()}
			for _, item := range msg.Content {
				if item.Type != llm.ContentToolUse {
					continue
				}
				args, err := json.Marshal(item.Input)
				if err != nil {
					args = []byte("{}")
				}
				entry.ToolCalls = append(entry.ToolCalls, toolCall{
					ID:   item.ID,
					Type: "function",
					Function: functionCall{
						Name:      item.Name,
						Arguments: string(args),
					},
				})
			}
			out = append(out, entry)
		case llm.RoleTool:
			for _, item := range msg.Content {
				if item.Type != llm.ContentToolResult {
					continue
				}
				out = append(out, chatMessage{
					Role:       "tool",
					Content:    item.Content,
					ToolCallID: item.ToolUseID,
				})
			}
		default:
			out = append(out, chatMessage{Role: msg.Role, Content: msg.Text()})
		}
	}
	return out
}

// convertTools wraps tool declarations as function definitions.
func convertTools(tools []llm.Tool) []chatTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]chatTool, 0, len(tools))
	for _, tool := range tools {
		out = append(out, chatTool{
			Type: "function",
			Function: toolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema.ToMap(),
			},
		})
	}
	return out
}

// convertResponse normalizes the first choice.
func convertResponse(resp *chatResponse) (*llm.Response, error) {
	if len(resp.Choices) == 0 {
		return nil, apperrors.ProviderUnavailable("openai", errors.New("response has no choices"))
	}
	choice := resp.Choices[0]

	content := make([]llm.ContentItem, 0, 1+len(choice.Message.ToolCalls))
	if choice.Message.Content != "" {
		content = append(content, llm.ContentItem{Type: llm.ContentText, Text: choice.Message.Content})
	}
	for _, call := range choice.Message.ToolCalls {
		content = append(content, llm.ContentItem{
			Type:  llm.ContentToolUse,
			ID:    call.ID,
			Name:  call.Function.Name,
			Input: decodeArguments(call.Function.Arguments),
		})
	}

	stopReason := choice.FinishReason
	if stopReason == "tool_calls" {
		stopReason = "tool_use"
	}

	return &llm.Response{
		ID:         resp.ID,
		Role:       llm.RoleAssistant,
		Content:    content,
		Model:      resp.Model,
		StopReason: stopReason,
		Usage: llm.Usage{
			Input:  resp.Usage.PromptTokens,
			Output: resp.Usage.CompletionTokens,
			Total:  resp.Usage.TotalTokens,
		},
	}, nil
}

func (c *Client) callAPI(ctx context.Context, req *chatRequest) (*chatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.InvalidRequest("failed to encode request: " + err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.InvalidRequest("failed to build request: " + err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.Timeout("openai request")
		}
		return nil, apperrors.ProviderUnavailable("openai", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, apperrors.ProviderUnavailable("openai", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		var apiResp chatResponse
		message := string(respBody)
		if json.Unmarshal(respBody, &apiResp) == nil && apiResp.Error != nil {
			message = apiResp.Error.Message
		}
		if httpResp.StatusCode >= 400 && httpResp.StatusCode < 500 {
			return nil, apperrors.InvalidRequest(fmt.Sprintf("openai rejected request (%d): %s", httpResp.StatusCode, message))
		}
		return nil, apperrors.ProviderUnavailable("openai",
			fmt.Errorf("status %d: %s", httpResp.StatusCode, message))
	}

	var resp chatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, apperrors.ProviderUnavailable("openai", fmt.Errorf("malformed response: %w", err))
	}
	return &resp, nil
}
