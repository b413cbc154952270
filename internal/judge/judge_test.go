package judge_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/agentoven/agentoven/guardrail-engine/internal/judge"
	"github.com/agentoven/agentoven/guardrail-engine/pkg/contracts"
)

func openAIServer(t *testing.T, reply string, status int) (*httptest.Server, func() http.Header) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = r.Header.Clone()
		mu.Unlock()
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(body.Messages) != 2 || !strings.Contains(body.Messages[1].Content, "mentions a refund") {
			t.Errorf("user prompt missing rubric: %+v", body.Messages)
		}
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": reply}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, func() http.Header {
		mu.Lock()
		defer mu.Unlock()
		return seen
	}
}

func request() contracts.JudgeRequest {
	return contracts.JudgeRequest{
		Prompt:  "mentions a refund",
		Field:   "output.text",
		Payload: map[string]any{"text": "We will refund you"},
	}
}

func TestJudge_OpenAI(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		matched bool
	}{
		{"plain", `{"matched": true, "rationale": "says refund"}`, true},
		{"fenced", "```json\n{\"matched\": false, \"rationale\": \"no\"}\n```", false},
		{"prose", `Sure! {"matched": true, "rationale": "yes"} Hope this helps.`, true},
		{"single quotes", `{'matched': true, 'rationale': 'yes'}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, seen := openAIServer(t, tt.reply, http.StatusOK)
			j := judge.New(judge.WithEndpoint(srv.URL), judge.WithAPIKey("sk-test"), judge.WithModel("m"))

			v, err := j.Judge(context.Background(), request())
			if err != nil {
				t.Fatalf("Judge() error = %v", err)
			}
			if v.Matched != tt.matched {
				t.Errorf("Matched = %v, want %v", v.Matched, tt.matched)
			}
			if got := seen().Get("Authorization"); got != "Bearer sk-test" {
				t.Errorf("Authorization = %q", got)
			}
		})
	}
}

func TestJudge_AzureHeader(t *testing.T) {
	srv, seen := openAIServer(t, `{"matched": false}`, http.StatusOK)
	j := judge.New(judge.WithProvider("azure-openai"), judge.WithEndpoint(srv.URL), judge.WithAPIKey("az"))

	if _, err := j.Judge(context.Background(), request()); err != nil {
		t.Fatalf("Judge() error = %v", err)
	}
	if seen().Get("api-key") != "az" || seen().Get("Authorization") != "" {
		t.Errorf("headers = %v", seen())
	}
}

func TestJudge_Errors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		srv, _ := openAIServer(t, "", http.StatusTooManyRequests)
		j := judge.New(judge.WithEndpoint(srv.URL), judge.WithAPIKey("k"))
		_, err := j.Judge(context.Background(), request())
		if err == nil || !strings.Contains(err.Error(), "status 429") {
			t.Errorf("Judge() error = %v, want status 429", err)
		}
	})
	t.Run("no verdict", func(t *testing.T) {
		srv, _ := openAIServer(t, `{"rationale": "forgot"}`, http.StatusOK)
		j := judge.New(judge.WithEndpoint(srv.URL), judge.WithAPIKey("k"))
		if _, err := j.Judge(context.Background(), request()); err == nil {
			t.Error("Judge() expected error for verdict without matched")
		}
	})
	t.Run("missing key", func(t *testing.T) {
		j := judge.New(judge.WithEndpoint("http://127.0.0.1:1"))
		if _, err := j.Judge(context.Background(), request()); err == nil {
			t.Error("Judge() expected error without api key")
		}
	})
	t.Run("cancelled", func(t *testing.T) {
		srv, _ := openAIServer(t, `{"matched": true}`, http.StatusOK)
		j := judge.New(judge.WithEndpoint(srv.URL), judge.WithAPIKey("k"))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := j.Judge(ctx, request()); err == nil {
			t.Error("Judge() expected error on cancelled context")
		}
	})
}

func TestJudge_Anthropic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" || r.Header.Get("x-api-key") != "ak" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"content": []any{map[string]any{"type": "text", "text": `{"matched": true, "rationale": "refund"}`}},
		})
	}))
	defer srv.Close()

	j := judge.New(judge.WithProvider("anthropic"), judge.WithEndpoint(srv.URL), judge.WithAPIKey("ak"))
	v, err := j.Judge(context.Background(), request())
	if err != nil {
		t.Fatalf("Judge() error = %v", err)
	}
	if !v.Matched || v.Rationale != "refund" {
		t.Errorf("verdict = %+v", v)
	}
}

func TestJudge_OllamaNeedsNoKey(t *testing.T) {
	srv, seen := openAIServer(t, `{"matched": true}`, http.StatusOK)
	j := judge.New(judge.WithProvider("ollama"), judge.WithEndpoint(srv.URL))
	if _, err := j.Judge(context.Background(), request()); err != nil {
		t.Fatalf("Judge() error = %v", err)
	}
	if seen().Get("Authorization") != "" {
		t.Error("ollama request should not carry credentials")
	}
}
