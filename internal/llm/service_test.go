package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitechat/internal/domain"
)

func TestChatWithToolsParsesToolCalls(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,
			"message":{"role":"assistant","content":"","tool_calls":[{"id":"call_1","type":"function",
			"function":{"name":"coordinate_search","arguments":"{\"location\":\"Bellevue\"}"}}]},
			"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}}`))
	}))
	defer srv.Close()

	svc, err := NewService(Config{BaseURL: srv.URL + "/v1", APIKey: "k", Model: "gpt-4o-mini", Temperature: 0.3})
	require.NoError(t, err)

	resp, usage, err := svc.ChatWithTools(context.Background(), []Message{
		{Role: RoleSystem, Content: "be helpful"},
		{Role: RoleUser, Content: "Japanese near Bellevue"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_0", Name: "restaurant_search", Arguments: `{"query":"x"}`}}},
		{Role: RoleTool, ToolCallID: "call_0", Content: `{"status":"ok"}`},
	}, []ToolDescriptor{{Name: "coordinate_search", Description: "geocode", Parameters: `{"type":"object"}`}})
	require.NoError(t, err)

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, ToolCall{ID: "call_1", Name: "coordinate_search", Arguments: `{"location":"Bellevue"}`}, resp.ToolCalls[0])
	assert.Equal(t, 15, usage.TotalTokens)

	assert.Equal(t, "gpt-4o-mini", got["model"])
	tools := got["tools"].([]any)
	require.Len(t, tools, 1)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "coordinate_search", fn["name"])

	msgs := got["messages"].([]any)
	require.Len(t, msgs, 4)
	assert.Equal(t, "call_0", msgs[3].(map[string]any)["tool_call_id"])
	assert.Len(t, msgs[2].(map[string]any)["tool_calls"], 1)
}

func TestChatWithToolsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	}))
	defer srv.Close()

	svc, err := NewService(Config{BaseURL: srv.URL + "/v1", APIKey: "k", Model: "m"})
	require.NoError(t, err)
	_, _, err = svc.ChatWithTools(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	assert.True(t, errors.Is(err, domain.ErrProviderUnavailable))
}

func TestNewServiceConfigErrors(t *testing.T) {
	_, err := NewService(Config{APIKey: "k"})
	assert.True(t, errors.Is(err, domain.ErrConfig))

	_, err = NewService(Config{Model: "gpt-4o-mini"})
	assert.True(t, errors.Is(err, domain.ErrConfig))

	_, err = NewService(Config{Model: "llama3", BaseURL: "http://localhost:11434/v1"})
	assert.NoError(t, err)
}
