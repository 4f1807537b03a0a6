package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "github.com/BradA1878/model-exchange-framework-sub007/internal/common/errors"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/llm"
)

func TestConvertMessages(t *testing.T) {
	out := convertMessages([]llm.Message{
		llm.TextMessage(llm.RoleSystem, "be brief"),
		llm.TextMessage(llm.RoleUser, "hello"),
		{Role: llm.RoleAssistant, Content: []llm.ContentItem{
			{Type: llm.ContentText, Text: "checking"},
			{Type: llm.ContentToolUse, ID: "t1", Name: "execute_code", Input: map[string]interface{}{"code": "1+1"}},
		}},
		{Role: llm.RoleTool, Content: []llm.ContentItem{
			{Type: llm.ContentToolResult, ToolUseID: "t1", Content: "2"},
		}},
	})
	if len(out) != 4 {
		t.Fatalf("got %d messages, want 4", len(out))
	}
	if out[0].Role != llm.RoleSystem || out[1].Role != llm.RoleUser {
		t.Errorf("system and user turns pass through, got %+v", out[:2])
	}

	assistant := out[2]
	if len(assistant.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(assistant.ToolCalls))
	}
	call := assistant.ToolCalls[0]
	if call.ID != "t1" || call.Type != "function" || call.Function.Name != "execute_code" {
		t.Errorf("got tool call %+v", call)
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		t.Fatalf("arguments must be a JSON string: %v", err)
	}
	if args["code"] != "1+1" {
		t.Errorf("got arguments %v", args)
	}

	result := out[3]
	if result.Role != "tool" || result.ToolCallID != "t1" || result.Content != "2" {
		t.Errorf("got tool result %+v", result)
	}
}

func TestConvertTools(t *testing.T) {
	out := convertTools([]llm.Tool{{
		Name:        "execute_code",
		Description: "run code",
		InputSchema: &llm.Schema{Type: "object", Properties: map[string]*llm.Schema{"code": {Type: "string"}}},
	}})
	if len(out) != 1 || out[0].Type != "function" {
		t.Fatalf("got %+v", out)
	}
	if out[0].Function.Name != "execute_code" || out[0].Function.Parameters["type"] != "object" {
		t.Errorf("got function %+v", out[0].Function)
	}
	if convertTools(nil) != nil {
		t.Error("no tools should marshal as absent")
	}
}

func TestConvertResponse(t *testing.T) {
	var wire chatResponse
	payload := `{
		"id": "chatcmpl-1",
		"model": "gpt-4o",
		"choices": [{
			"message": {
				"role": "assistant",
				"content": "checking",
				"tool_calls": [{
					"id": "t1",
					"type": "function",
					"function": {"name": "execute_code", "arguments": "{\"code\":\"1+1\"}"}
				}]
			},
			"finish_reason": "tool_calls"
		}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
	}`
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		t.Fatalf("failed to decode fixture: %v", err)
	}

	resp, err := convertResponse(&wire)
	if err != nil {
		t.Fatalf("convertResponse failed: %v", err)
	}
	if resp.Role != llm.RoleAssistant || resp.StopReason != "tool_use" {
		t.Errorf("finish_reason tool_calls should normalize to tool_use, got %+v", resp)
	}
	if resp.Text() != "checking" {
		t.Errorf("got text %q", resp.Text())
	}
	uses := resp.ToolUses()
	if len(uses) != 1 || uses[0].Input["code"] != "1+1" {
		t.Errorf("got tool uses %+v", uses)
	}
	if resp.Usage.Total != 15 {
		t.Errorf("got usage %+v", resp.Usage)
	}

	if _, err := convertResponse(&chatResponse{}); !apperrors.IsKind(err, apperrors.KindProviderUnavailable) {
		t.Errorf("no choices should be ProviderUnavailable, got %v", err)
	}
}

func TestDecodeArguments(t *testing.T) {
	if decodeArguments("") != nil {
		t.Error("empty arguments decode to nil")
	}
	if decodeArguments("not json") != nil {
		t.Error("malformed arguments decode to nil")
	}
	args := decodeArguments(`{"code":"x"}`)
	if args["code"] != "x" {
		t.Errorf("got %v", args)
	}
}

func TestSendMessage(t *testing.T) {
	var captured chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key-1" {
			t.Errorf("missing bearer token")
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"model": "gpt-4o",
			"choices": [{"message": {"role": "assistant", "content": "ok"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2}
		}`))
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "key-1", Endpoint: server.URL})
	resp, err := client.SendMessage(context.Background(), []llm.Message{
		llm.TextMessage(llm.RoleUser, "hello"),
	}, nil, llm.Options{})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if resp.Text() != "ok" || resp.StopReason != "stop" {
		t.Errorf("got %+v", resp)
	}
	if captured.Model != DefaultModel {
		t.Errorf("got model %q", captured.Model)
	}
}

func TestSendMessageErrors(t *testing.T) {
	status := http.StatusUnauthorized
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "key-1", Endpoint: server.URL})
	messages := []llm.Message{llm.TextMessage(llm.RoleUser, "hi")}

	_, err := client.SendMessage(context.Background(), messages, nil, llm.Options{})
	if !apperrors.IsKind(err, apperrors.KindInvalidRequest) {
		t.Errorf("4xx should be InvalidRequest, got %v", err)
	}

	status = http.StatusBadGateway
	_, err = client.SendMessage(context.Background(), messages, nil, llm.Options{})
	if !apperrors.IsKind(err, apperrors.KindProviderUnavailable) {
		t.Errorf("5xx should be ProviderUnavailable, got %v", err)
	}
}
