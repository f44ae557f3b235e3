package adapter_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/m-mizutani/comanager/pkg/adapter"
	"github.com/m-mizutani/comanager/pkg/model"
	"github.com/m-mizutani/gt"
)

func newOpenAIServer(t *testing.T, chunks []string, captured *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gt.Equal(t, r.URL.Path, "/chat/completions")
		gt.Equal(t, r.Header.Get("Authorization"), "Bearer test-key")
		if captured != nil {
			gt.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIStreamChatText(t *testing.T) {
	var body map[string]any
	srv := newOpenAIServer(t, []string{
		`{"choices":[{"delta":{"content":"Hello"}}]}`,
		`{"choices":[{"delta":{"content":", world"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
	}, &body)

	client := adapter.NewOpenAI("test-key", adapter.WithOpenAIBaseURL(srv.URL))
	req := &adapter.ChatRequest{
		Messages:    []model.Message{model.NewSystemMessage("sys"), model.NewUserMessage("hi")},
		Tools:       []model.ToolDeclaration{{Name: "get_shop_stats", Description: "shop"}},
		Temperature: 0.7,
	}

	var text string
	for ev, err := range client.StreamChat(context.Background(), req) {
		gt.NoError(t, err)
		gt.Nil(t, ev.ToolCall)
		text += ev.Text
	}
	gt.Equal(t, text, "Hello, world")

	gt.Equal(t, body["model"], any("gpt-4o"))
	gt.Equal(t, body["stream"], any(true))
	gt.Equal(t, body["tool_choice"], any("auto"))
	msgs := body["messages"].([]any)
	gt.A(t, msgs).Length(2)
	gt.Equal(t, msgs[0].(map[string]any)["role"], any("system"))
}

func TestOpenAIStreamChatToolCalls(t *testing.T) {
	srv := newOpenAIServer(t, []string{
		`{"choices":[{"delta":{"content":"Checking."}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"get_products","arguments":""}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"limit\":"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_2","type":"function","function":{"name":"get_shop_stats","arguments":"{}"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"3}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
	}, nil)

	client := adapter.NewOpenAI("test-key", adapter.WithOpenAIBaseURL(srv.URL))
	req := &adapter.ChatRequest{Messages: []model.Message{model.NewUserMessage("top 3 products")}}

	var events []*model.StreamEvent
	for ev, err := range client.StreamChat(context.Background(), req) {
		gt.NoError(t, err)
		events = append(events, ev)
	}

	gt.A(t, events).Length(3)
	gt.Equal(t, events[0].Text, "Checking.")

	first := events[1].ToolCall
	gt.Equal(t, first.ID, "call_1")
	fn := first.Payload["function"].(map[string]any)
	gt.Equal(t, fn["name"], any("get_products"))
	gt.Equal(t, fn["arguments"], any(`{"limit":3}`))

	gt.Equal(t, events[2].ToolCall.ID, "call_2")
}

func TestOpenAIStreamChatTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Half an ans\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"call_1\",\"function\":{\"name\":\"get_products\",\"arguments\":\"{\\\"li\"}}]}}]}\n\n")
	}))
	t.Cleanup(srv.Close)

	client := adapter.NewOpenAI("test-key", adapter.WithOpenAIBaseURL(srv.URL))
	req := &adapter.ChatRequest{Messages: []model.Message{model.NewUserMessage("hi")}}

	var text string
	var calls int
	var streamErr error
	for ev, err := range client.StreamChat(context.Background(), req) {
		if err != nil {
			streamErr = err
			break
		}
		if ev.ToolCall != nil {
			calls++
		}
		text += ev.Text
	}
	gt.Error(t, streamErr)
	gt.Equal(t, text, "Half an ans")
	gt.Equal(t, calls, 0)
}

func TestOpenAIStreamChatRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited","type":"requests"}}`)
	}))
	defer srv.Close()

	client := adapter.NewOpenAI("test-key", adapter.WithOpenAIBaseURL(srv.URL))
	req := &adapter.ChatRequest{Messages: []model.Message{model.NewUserMessage("hi")}}

	var gotErr error
	for _, err := range client.StreamChat(context.Background(), req) {
		if err != nil {
			gotErr = err
		}
	}
	gt.Error(t, gotErr)
}

func TestOpenAISendsToolHistory(t *testing.T) {
	var body map[string]any
	srv := newOpenAIServer(t, []string{`{"choices":[{"delta":{"content":"done"}}]}`}, &body)

	client := adapter.NewOpenAI("test-key", adapter.WithOpenAIBaseURL(srv.URL))
	req := &adapter.ChatRequest{
		Messages: []model.Message{
			model.NewUserMessage("hi"),
			{
				Role:      model.RoleAssistant,
				ToolCalls: []model.ToolCallRequest{{ID: "call_1", Name: "get_products", Arguments: map[string]any{"limit": 3}}},
			},
			model.NewToolMessage(model.ToolResult{CallID: "call_1", Name: "get_products", Content: "table"}),
		},
	}
	for _, err := range client.StreamChat(context.Background(), req) {
		gt.NoError(t, err)
	}

	msgs := body["messages"].([]any)
	gt.A(t, msgs).Length(3)
	assistant := msgs[1].(map[string]any)
	calls := assistant["tool_calls"].([]any)
	fn := calls[0].(map[string]any)["function"].(map[string]any)
	gt.Equal(t, fn["arguments"], any(`{"limit":3}`))

	tool := msgs[2].(map[string]any)
	gt.Equal(t, tool["role"], any("tool"))
	gt.Equal(t, tool["tool_call_id"], any("call_1"))
}

func TestOpenAIEmbedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gt.Equal(t, r.URL.Path, "/embeddings")
		fmt.Fprint(w, `{"data":[{"embedding":[0.1,0.2,0.3]}]}`)
	}))
	defer srv.Close()

	client := adapter.NewOpenAI("test-key", adapter.WithOpenAIBaseURL(srv.URL))
	vec, err := client.Embedding(context.Background(), "hello")
	gt.NoError(t, err)
	gt.A(t, vec).Length(3)
}

func TestParametersSchema(t *testing.T) {
	schema := adapter.ParametersSchema([]model.Parameter{
		{Name: "limit", Type: model.ParameterInteger, Description: "count"},
		{Name: "query", Type: model.ParameterString, Required: true},
	})
	gt.Equal(t, schema.Type, "object")
	gt.Equal(t, schema.Properties["limit"].Type, "integer")
	gt.A(t, schema.Required).Length(1)
	gt.Equal(t, schema.Required[0], "query")
}
