package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sitechat-go/internal/config"
	"sitechat-go/internal/model"
	"testing"
	"time"
)

const (
	testOpenAIKey = "sk-test00000000000000000000000000000000000000000"
	testClaudeKey = "sk-ant-REDACTED"
	testGeminiKey = "gemini-test-key-000000000000"
)

func historyOf(n int) []model.ChatMessage {
	msgs := make([]model.ChatMessage, 0, n)
	for i := 0; i < n; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		msgs = append(msgs, model.ChatMessage{Role: role, Content: "msg", Timestamp: time.Now()})
	}
	return msgs
}

func TestOpenAIWireFormat(t *testing.T) {
	var captured struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer "+testOpenAIKey {
			t.Errorf("unexpected auth header: %s", got)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Fatalf("request body is not json: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[{"message":{"content":"hello"}}],"usage":{"total_tokens":42}}`)
	}))
	defer srv.Close()

	a := newOpenAI(config.OpenAIConfig{APIKey: testOpenAIKey, BaseURL: srv.URL, Model: "gpt-4o"})
	resp, err := a.GenerateResponse(context.Background(), &Request{
		Message: "hi",
		System:  "be nice",
		History: historyOf(2),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "hello" || resp.TokensUsed != 42 || resp.Model != "gpt-4o" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	// system + 2 条历史 + 当前 user
	if len(captured.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(captured.Messages))
	}
	if captured.Messages[0].Role != "system" || captured.Messages[3].Role != "user" {
		t.Fatalf("unexpected role layout: %+v", captured.Messages)
	}
}

func TestOpenAIHistoryTrimmedToLimit(t *testing.T) {
	var msgCount int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []json.RawMessage `json:"messages"`
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &req)
		msgCount = len(req.Messages)
		io.WriteString(w, `{"choices":[{"message":{"content":"ok"}}],"usage":{"total_tokens":1}}`)
	}))
	defer srv.Close()

	a := newOpenAI(config.OpenAIConfig{APIKey: testOpenAIKey, BaseURL: srv.URL, Model: "gpt-4o"})
	if _, err := a.GenerateResponse(context.Background(), &Request{Message: "hi", History: historyOf(30)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 无 system：10 轮历史（20 条消息）+ 当前 user
	if msgCount != 21 {
		t.Fatalf("expected 10 full turns of history on the wire, got %d messages", msgCount)
	}
}

func TestTrimHistoryKeepsTurnsAndUserFirst(t *testing.T) {
	// limit 按轮计：10 轮 = 20 条消息原样保留
	full := historyOf(20)
	if got := trimHistory(full, 10); len(got) != 20 {
		t.Fatalf("10 turns must keep all 20 messages, got %d", len(got))
	}

	// 超限时截到最近 2*limit 条，且截断落在轮次边界上
	trimmed := trimHistory(historyOf(30), 10)
	if len(trimmed) != 20 {
		t.Fatalf("expected 20 messages after trim, got %d", len(trimmed))
	}
	if trimmed[0].Role != "user" {
		t.Fatalf("trimmed history must start with user, got %q", trimmed[0].Role)
	}

	// 奇数长度的历史截断后不允许以 assistant 开头
	odd := trimHistory(historyOf(7), 3)
	if len(odd) == 0 || odd[0].Role != "user" {
		t.Fatalf("dangling assistant message must be dropped, got %+v", odd)
	}
}

func TestOpenAIErrorTaxonomy(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		a := newOpenAI(config.OpenAIConfig{APIKey: "bad-key"})
		_, err := a.GenerateResponse(context.Background(), &Request{Message: "hi"})
		if !errors.Is(err, ErrNotConfigured) {
			t.Fatalf("expected ErrNotConfigured, got %v", err)
		}
	})

	t.Run("non-200 becomes APIError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			io.WriteString(w, `{"error":{"message":"rate limited"}}`)
		}))
		defer srv.Close()
		a := newOpenAI(config.OpenAIConfig{APIKey: testOpenAIKey, BaseURL: srv.URL, Model: "gpt-4o"})
		_, err := a.GenerateResponse(context.Background(), &Request{Message: "hi"})
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected APIError, got %v", err)
		}
		if apiErr.StatusCode != http.StatusTooManyRequests || apiErr.Message != "rate limited" {
			t.Fatalf("unexpected APIError: %+v", apiErr)
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{not json`)
		}))
		defer srv.Close()
		a := newOpenAI(config.OpenAIConfig{APIKey: testOpenAIKey, BaseURL: srv.URL, Model: "gpt-4o"})
		_, err := a.GenerateResponse(context.Background(), &Request{Message: "hi"})
		if !errors.Is(err, ErrInvalidJSON) {
			t.Fatalf("expected ErrInvalidJSON, got %v", err)
		}
	})

	t.Run("empty text", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"choices":[{"message":{"content":"  "}}]}`)
		}))
		defer srv.Close()
		a := newOpenAI(config.OpenAIConfig{APIKey: testOpenAIKey, BaseURL: srv.URL, Model: "gpt-4o"})
		_, err := a.GenerateResponse(context.Background(), &Request{Message: "hi"})
		if !errors.Is(err, ErrEmptyResponse) {
			t.Fatalf("expected ErrEmptyResponse, got %v", err)
		}
	})
}

func TestClaudeWireFormat(t *testing.T) {
	var captured struct {
		System   string `json:"system"`
		Messages []struct {
			Role string `json:"role"`
		} `json:"messages"`
		MaxTokens int `json:"max_tokens"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != testClaudeKey {
			t.Errorf("missing x-api-key header")
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Errorf("missing anthropic-version header")
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		io.WriteString(w, `{"content":[{"type":"text","text":"hi there"}],"usage":{"input_tokens":10,"output_tokens":5}}`)
	}))
	defer srv.Close()

	a := newClaude(config.ClaudeConfig{APIKey: testClaudeKey, BaseURL: srv.URL, Model: "claude-3-haiku-20240307"})
	resp, err := a.GenerateResponse(context.Background(), &Request{
		Message: "hi",
		System:  "be nice",
		History: historyOf(2),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "hi there" || resp.TokensUsed != 15 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	// system 走顶层字段，消息数组只含 user/assistant
	if captured.System != "be nice" {
		t.Fatalf("system must be a top-level field, got %q", captured.System)
	}
	for _, m := range captured.Messages {
		if m.Role != "user" && m.Role != "assistant" {
			t.Fatalf("unexpected role %q in claude messages", m.Role)
		}
	}
	if captured.MaxTokens == 0 {
		t.Fatal("claude max_tokens must always be set")
	}
}

func TestGeminiWireFormatAndTokenEstimate(t *testing.T) {
	answer := "twelve chars" // 12 字符 → ceil(12/4) = 3 tokens
	var captured struct {
		Contents []struct {
			Role string `json:"role"`
		} `json:"contents"`
		SystemInstruction *struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"systemInstruction"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != testGeminiKey {
			t.Errorf("api key must be passed as query param")
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"`+answer+`"}]}}]}`)
	}))
	defer srv.Close()

	a := newGemini(config.GeminiConfig{APIKey: testGeminiKey, BaseURL: srv.URL, Model: "gemini-1.5-flash"})
	resp, err := a.GenerateResponse(context.Background(), &Request{
		Message: "hi",
		System:  "be nice",
		History: historyOf(8),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != answer {
		t.Fatalf("unexpected text: %q", resp.Text)
	}
	if resp.TokensUsed != 3 {
		t.Fatalf("expected estimated 3 tokens, got %d", resp.TokensUsed)
	}
	if captured.SystemInstruction == nil {
		t.Fatal("system prompt must be sent as systemInstruction")
	}
	// 历史截到 3 轮（6 条）+ 当前 user
	if len(captured.Contents) != 7 {
		t.Fatalf("expected 7 contents, got %d", len(captured.Contents))
	}
	// Gemini 的多轮 contents 必须以 user 开头
	if captured.Contents[0].Role != "user" {
		t.Fatalf("first content role = %q, want user", captured.Contents[0].Role)
	}
	for _, c := range captured.Contents {
		if c.Role != "user" && c.Role != "model" {
			t.Fatalf("unexpected role %q in gemini contents", c.Role)
		}
	}
}

func TestGeminiOddHistoryStartsWithUser(t *testing.T) {
	var captured struct {
		Contents []struct {
			Role string `json:"role"`
		} `json:"contents"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`)
	}))
	defer srv.Close()

	a := newGemini(config.GeminiConfig{APIKey: testGeminiKey, BaseURL: srv.URL, Model: "gemini-1.5-flash"})
	// 7 条历史截到最近 3 轮时会留下一条悬空的 assistant，必须被丢弃
	if _, err := a.GenerateResponse(context.Background(), &Request{Message: "hi", History: historyOf(7)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(captured.Contents) == 0 || captured.Contents[0].Role != "user" {
		t.Fatalf("contents must start with user, got %+v", captured.Contents)
	}
}

// 三个具名适配器在等价输入下必须返回同一形状的信封。
func TestEnvelopeUniformity(t *testing.T) {
	openaiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[{"message":{"content":"same"}}],"usage":{"total_tokens":7}}`)
	}))
	defer openaiSrv.Close()
	claudeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"content":[{"type":"text","text":"same"}],"usage":{"input_tokens":3,"output_tokens":4}}`)
	}))
	defer claudeSrv.Close()
	geminiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"same"}]}}]}`)
	}))
	defer geminiSrv.Close()

	adapters := []Adapter{
		newOpenAI(config.OpenAIConfig{APIKey: testOpenAIKey, BaseURL: openaiSrv.URL, Model: "gpt-4o"}),
		newClaude(config.ClaudeConfig{APIKey: testClaudeKey, BaseURL: claudeSrv.URL, Model: "claude-3-haiku-20240307"}),
		newGemini(config.GeminiConfig{APIKey: testGeminiKey, BaseURL: geminiSrv.URL, Model: "gemini-1.5-flash"}),
	}
	for _, a := range adapters {
		resp, err := a.GenerateResponse(context.Background(), &Request{Message: "hi"})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", a.Name(), err)
		}
		if resp.Text != "same" {
			t.Errorf("%s: unexpected text %q", a.Name(), resp.Text)
		}
		if resp.Model == "" {
			t.Errorf("%s: envelope must carry the model", a.Name())
		}
		if resp.TokensUsed <= 0 {
			t.Errorf("%s: envelope must carry token usage", a.Name())
		}
		if resp.ResponseTime < 0 {
			t.Errorf("%s: negative response time", a.Name())
		}
	}
}

func TestRegistry(t *testing.T) {
	cfg := config.ProvidersConfig{
		OpenAI: config.OpenAIConfig{APIKey: testOpenAIKey},
	}
	for _, name := range []string{"openai", "claude", "gemini", "custom"} {
		a, err := New(name, cfg)
		if err != nil {
			t.Fatalf("registry missing %q: %v", name, err)
		}
		if a.Name() != name {
			t.Fatalf("adapter name mismatch: %s != %s", a.Name(), name)
		}
	}
	if _, err := New("nope", cfg); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("unknown provider must fail, got %v", err)
	}
}

func TestIsConfiguredKeyShapes(t *testing.T) {
	cases := []struct {
		name string
		a    Adapter
		want bool
	}{
		{"openai valid", newOpenAI(config.OpenAIConfig{APIKey: testOpenAIKey}), true},
		{"openai short", newOpenAI(config.OpenAIConfig{APIKey: "sk-short"}), false},
		{"openai wrong prefix", newOpenAI(config.OpenAIConfig{APIKey: "pk-test00000000000000000000000000000000000000000"}), false},
		{"claude valid", newClaude(config.ClaudeConfig{APIKey: testClaudeKey}), true},
		{"claude wrong prefix", newClaude(config.ClaudeConfig{APIKey: testOpenAIKey}), false},
		{"gemini valid", newGemini(config.GeminiConfig{APIKey: testGeminiKey}), true},
		{"gemini empty", newGemini(config.GeminiConfig{}), false},
	}
	for _, c := range cases {
		if got := c.a.IsConfigured(); got != c.want {
			t.Errorf("%s: IsConfigured()=%v, want %v", c.name, got, c.want)
		}
	}
}

func TestEstimateCost(t *testing.T) {
	a := newOpenAI(config.OpenAIConfig{APIKey: testOpenAIKey})
	if got := a.EstimateCost("gpt-4", 2000); got != 0.06 {
		t.Fatalf("expected 0.06, got %f", got)
	}
	// 未知模型走兜底价
	if got := a.EstimateCost("gpt-unknown", 1000); got != 0.002 {
		t.Fatalf("expected fallback 0.002, got %f", got)
	}
}
