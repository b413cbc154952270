// Package judge implements contracts.Judge on top of hosted or local LLMs.
//
// The judge sends the rubric and the resolved payload to a chat completion
// endpoint and expects a JSON verdict back:
//
//	{"matched": true, "rationale": "the answer discloses an email address"}
//
// Models regularly wrap that object in prose or code fences, or truncate it,
// so the reply is run through jsonrepair before decoding.
//
// Supported providers: openai, azure-openai, anthropic, ollama. Any other
// kind is treated as a generic OpenAI-compatible endpoint.
package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/agentoven/agentoven/guardrail-engine/pkg/contracts"
)

// Provider kinds.
const (
	ProviderOpenAI      = "openai"
	ProviderAzureOpenAI = "azure-openai"
	ProviderAnthropic   = "anthropic"
	ProviderOllama      = "ollama"
)

const systemPrompt = `You are a guardrail judge for an AI agent platform.
You receive a rubric and a JSON payload taken from an agent step.
Decide whether the payload matches the rubric.
Reply with a single JSON object and nothing else:
{"matched": <true|false>, "rationale": "<one short sentence>"}`

// LLMJudge asks a chat model whether a payload matches a rubric.
type LLMJudge struct {
	provider  string
	endpoint  string
	model     string
	apiKey    string
	maxTokens int
	client    *http.Client
}

// Option configures an LLMJudge.
type Option func(*LLMJudge)

// WithProvider selects the wire protocol. Unknown kinds use the OpenAI one.
func WithProvider(kind string) Option {
	return func(j *LLMJudge) {
		if kind != "" {
			j.provider = strings.ToLower(kind)
		}
	}
}

// WithEndpoint overrides the provider's base URL.
func WithEndpoint(url string) Option {
	return func(j *LLMJudge) { j.endpoint = strings.TrimRight(url, "/") }
}

// WithModel sets the model name sent with each request.
func WithModel(model string) Option {
	return func(j *LLMJudge) { j.model = model }
}

// WithAPIKey sets the provider credential.
func WithAPIKey(key string) Option {
	return func(j *LLMJudge) { j.apiKey = key }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(j *LLMJudge) {
		if c != nil {
			j.client = c
		}
	}
}

// New creates a judge. Without options it talks to OpenAI with gpt-4o-mini.
func New(opts ...Option) *LLMJudge {
	j := &LLMJudge{
		provider:  ProviderOpenAI,
		model:     "gpt-4o-mini",
		maxTokens: 256,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.endpoint == "" {
		j.endpoint = defaultEndpoint(j.provider)
	}
	return j
}

var _ contracts.Judge = (*LLMJudge)(nil)

func defaultEndpoint(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return "https://api.anthropic.com"
	case ProviderOllama:
		return "http://localhost:11434/v1"
	default:
		return "https://api.openai.com/v1"
	}
}

// Judge implements contracts.Judge.
func (j *LLMJudge) Judge(ctx context.Context, req contracts.JudgeRequest) (contracts.JudgeVerdict, error) {
	user, err := userPrompt(req)
	if err != nil {
		return contracts.JudgeVerdict{}, err
	}

	var content string
	switch j.provider {
	case ProviderAnthropic:
		content, err = j.callAnthropic(ctx, user)
	default:
		content, err = j.callOpenAI(ctx, user)
	}
	if err != nil {
		return contracts.JudgeVerdict{}, err
	}
	return parseVerdict(content)
}

func userPrompt(req contracts.JudgeRequest) (string, error) {
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return "", fmt.Errorf("judge: encode payload: %w", err)
	}
	var b strings.Builder
	b.WriteString("Rubric: ")
	b.WriteString(req.Prompt)
	if req.Field != "" {
		b.WriteString("\nField: ")
		b.WriteString(req.Field)
	}
	b.WriteString("\nPayload:\n")
	b.Write(payload)
	return b.String(), nil
}

// parseVerdict pulls the JSON object out of a model reply.
func parseVerdict(content string) (contracts.JudgeVerdict, error) {
	var v contracts.JudgeVerdict
	text := strings.TrimSpace(content)
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		text = text[start : end+1]
	} else if start >= 0 {
		text = text[start:]
	}
	if text == "" {
		return v, fmt.Errorf("judge: empty verdict")
	}

	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return v, fmt.Errorf("judge: repair verdict: %w", err)
	}
	var raw struct {
		Matched   *bool  `json:"matched"`
		Rationale string `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(repaired), &raw); err != nil {
		return v, fmt.Errorf("judge: decode verdict: %w", err)
	}
	if raw.Matched == nil {
		return v, fmt.Errorf("judge: verdict has no matched field")
	}
	v.Matched = *raw.Matched
	v.Rationale = raw.Rationale
	return v, nil
}

// ── OpenAI-compatible (OpenAI, Azure OpenAI, Ollama) ────────

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (j *LLMJudge) callOpenAI(ctx context.Context, user string) (string, error) {
	if j.apiKey == "" && j.provider != ProviderOllama {
		return "", fmt.Errorf("%s: api key not configured", j.provider)
	}

	body, _ := json.Marshal(openAIRequest{
		Model: j.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: user},
		},
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, j.endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%s: create request: %w", j.provider, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	switch {
	case j.apiKey == "":
	case j.provider == ProviderAzureOpenAI:
		httpReq.Header.Set("api-key", j.apiKey)
	default:
		httpReq.Header.Set("Authorization", "Bearer "+j.apiKey)
	}

	var resp openAIResponse
	if err := j.do(httpReq, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: response has no choices", j.provider)
	}
	return resp.Choices[0].Message.Content, nil
}

// ── Anthropic ───────────────────────────────────────────────

type anthropicRequest struct {
	Model     string        `json:"model"`
	System    string        `json:"system"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (j *LLMJudge) callAnthropic(ctx context.Context, user string) (string, error) {
	if j.apiKey == "" {
		return "", fmt.Errorf("anthropic: api key not configured")
	}

	body, _ := json.Marshal(anthropicRequest{
		Model:     j.model,
		System:    systemPrompt,
		Messages:  []chatMessage{{Role: "user", Content: user}},
		MaxTokens: j.maxTokens,
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, j.endpoint+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", j.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	var resp anthropicResponse
	if err := j.do(httpReq, &resp); err != nil {
		return "", err
	}
	var content strings.Builder
	for _, c := range resp.Content {
		if c.Type == "text" {
			content.WriteString(c.Text)
		}
	}
	return content.String(), nil
}

func (j *LLMJudge) do(httpReq *http.Request, out any) error {
	httpResp, err := j.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", j.provider, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return fmt.Errorf("%s: status %d: %s", j.provider, httpResp.StatusCode, string(respBody))
	}
	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", j.provider, err)
	}
	return nil
}
