package server_test

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/m-mizutani/comanager/pkg/adapter"
	"github.com/m-mizutani/comanager/pkg/model"
	"github.com/m-mizutani/comanager/pkg/server"
	"github.com/m-mizutani/comanager/pkg/service/identity"
	"github.com/m-mizutani/comanager/pkg/service/policy"
	"github.com/m-mizutani/comanager/pkg/usecase/agent"
	"github.com/m-mizutani/comanager/pkg/utils/metrics"
	"github.com/m-mizutani/gt"
	"github.com/prometheus/client_golang/prometheus"
)

type mockLLM struct {
	calls  atomic.Int32
	chunks []string
	err    error
}

func (m *mockLLM) StreamChat(ctx context.Context, req *adapter.ChatRequest) iter.Seq2[*model.StreamEvent, error] {
	m.calls.Add(1)
	return func(yield func(*model.StreamEvent, error) bool) {
		for _, c := range m.chunks {
			if !yield(&model.StreamEvent{Text: c}, nil) {
				return
			}
		}
		if m.err != nil {
			yield(nil, m.err)
		}
	}
}

func newServer(t *testing.T, llm *mockLLM, id identity.Provider, opts ...server.Option) *server.Server {
	t.Helper()
	ctrl := agent.New(llm)
	opts = append([]server.Option{
		server.WithPersona(agent.Marketing()),
		server.WithPersona(agent.Technical()),
	}, opts...)
	return server.New(ctrl, id, opts...)
}

func chatRequest(persona, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/"+persona+"/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

const helloBody = `{"messages":[{"role":"user","content":"hello"}]}`

func TestChatStreamsReply(t *testing.T) {
	llm := &mockLLM{chunks: []string{"Hi", " there"}}
	srv := newServer(t, llm, identity.Static("user-a"))

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, chatRequest("marketing", helloBody))

	gt.Equal(t, w.Code, http.StatusOK)
	gt.Equal(t, w.Body.String(), "Hi there")
	gt.S(t, w.Header().Get("Content-Type")).Contains("text/plain")
	gt.True(t, w.Flushed)
	gt.Equal(t, llm.calls.Load(), int32(1))
}

func TestChatRejectsUnauthenticated(t *testing.T) {
	llm := &mockLLM{chunks: []string{"should not be sent"}}
	id, err := identity.NewHMAC([]byte("test-secret"))
	gt.NoError(t, err)
	srv := newServer(t, llm, id)

	for _, persona := range []string{"marketing", "finance"} {
		t.Run(persona, func(t *testing.T) {
			w := httptest.NewRecorder()
			srv.ServeHTTP(w, chatRequest(persona, helloBody))

			gt.Equal(t, w.Code, http.StatusUnauthorized)
			gt.S(t, w.Body.String()).Contains("Unauthorized")
			gt.Equal(t, llm.calls.Load(), int32(0))
		})
	}
}

func TestChatPolicy(t *testing.T) {
	authz, err := policy.New(context.Background(), map[string]string{"chat.rego": `package comanager.chat

allow if input.persona == "marketing"
`})
	gt.NoError(t, err)

	llm := &mockLLM{chunks: []string{"ok"}}
	srv := newServer(t, llm, identity.Static("user-a"), server.WithAuthorizer(authz))

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, chatRequest("technical", helloBody))
	gt.Equal(t, w.Code, http.StatusForbidden)
	gt.Equal(t, llm.calls.Load(), int32(0))

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, chatRequest("marketing", helloBody))
	gt.Equal(t, w.Code, http.StatusOK)
	gt.Equal(t, w.Body.String(), "ok")
}

func TestChatModelFailure(t *testing.T) {
	t.Run("nothing sent", func(t *testing.T) {
		llm := &mockLLM{err: errors.New("rate limited")}
		srv := newServer(t, llm, identity.Static("user-a"))

		w := httptest.NewRecorder()
		srv.ServeHTTP(w, chatRequest("technical", helloBody))
		gt.Equal(t, w.Code, http.StatusInternalServerError)
		gt.S(t, w.Body.String()).Contains("Internal Error")
	})

	t.Run("partial reply is kept", func(t *testing.T) {
		llm := &mockLLM{chunks: []string{"Here is"}, err: errors.New("connection reset")}
		srv := newServer(t, llm, identity.Static("user-a"))

		w := httptest.NewRecorder()
		srv.ServeHTTP(w, chatRequest("technical", helloBody))
		gt.Equal(t, w.Code, http.StatusOK)
		gt.Equal(t, w.Body.String(), "Here is")
	})
}

func TestChatBadRequests(t *testing.T) {
	testCases := []struct {
		name    string
		persona string
		body    string
		code    int
	}{
		{"unknown persona", "finance", helloBody, http.StatusNotFound},
		{"broken json", "marketing", `{"messages":`, http.StatusBadRequest},
		{"no messages", "marketing", `{"messages":[]}`, http.StatusBadRequest},
		{"invalid role", "marketing", `{"messages":[{"role":"robot","content":"x"}]}`, http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			llm := &mockLLM{chunks: []string{"x"}}
			srv := newServer(t, llm, identity.Static("user-a"))

			w := httptest.NewRecorder()
			srv.ServeHTTP(w, chatRequest(tc.persona, tc.body))
			gt.Equal(t, w.Code, tc.code)
			gt.Equal(t, llm.calls.Load(), int32(0))
		})
	}
}

func TestOperationalEndpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	recorder := metrics.New(reg)
	llm := &mockLLM{chunks: []string{"ok"}}
	ctrl := agent.New(llm, agent.WithMetrics(recorder))
	srv := server.New(ctrl, identity.Static("user-a"),
		server.WithPersona(agent.Marketing()),
		server.WithGatherer(reg),
	)

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	gt.Equal(t, w.Code, http.StatusOK)
	gt.Equal(t, w.Body.String(), "ok")

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, chatRequest("marketing", helloBody))
	gt.Equal(t, w.Code, http.StatusOK)

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", &bytes.Buffer{}))
	gt.Equal(t, w.Code, http.StatusOK)
	gt.S(t, w.Body.String()).Contains(`comanager_turns_total{persona="marketing",state="COMPLETED"} 1`)
}
