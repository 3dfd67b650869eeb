package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/trevorstenson/crowd-agent/internal/errors"
	"github.com/trevorstenson/crowd-agent/internal/log"
)

func TestOpenAIComplete(t *testing.T) {
	var gotBody openAIRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"model": "qwen3:8b",
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "DONE: finished"}, "finish_reason": "stop"},
			},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 4},
		})
	}))
	defer server.Close()

	client, err := NewOpenAI(Options{BaseURL: server.URL, Model: "qwen3:8b"})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := client.Complete(context.Background(), &Request{System: "be terse", Prompt: "status?"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Content != "DONE: finished" {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if resp.TotalTokens() != 16 {
		t.Errorf("unexpected token total %d", resp.TotalTokens())
	}
	if len(gotBody.Messages) != 2 || gotBody.Messages[0].Role != "system" {
		t.Errorf("expected system+user messages, got %+v", gotBody.Messages)
	}
}

func TestOpenAICompleteTransientStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "server overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, _ := NewOpenAI(Options{BaseURL: server.URL})
	_, err := client.Complete(context.Background(), &Request{Prompt: "x"})
	if !errors.IsCode(err, errors.ErrCodeProviderTransient) {
		t.Errorf("expected transient code, got %v", err)
	}
}

func TestAnthropicComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Errorf("missing version header")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"model":       "claude-sonnet",
			"stop_reason": "end_turn",
			"content":     []map[string]string{{"type": "text", "text": "plan follows"}},
			"usage":       map[string]int{"input_tokens": 8, "output_tokens": 3},
		})
	}))
	defer server.Close()

	client, err := NewAnthropic(Options{BaseURL: server.URL, APIKey: "test-key", Model: "claude-sonnet"})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := client.Complete(context.Background(), &Request{Prompt: "plan this"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Content != "plan follows" {
		t.Errorf("unexpected content %q", resp.Content)
	}
}

func TestAnthropicPermanentStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"type": "authentication_error", "message": "bad key"},
		})
	}))
	defer server.Close()

	client, _ := NewAnthropic(Options{BaseURL: server.URL, APIKey: "wrong"})
	_, err := client.Complete(context.Background(), &Request{Prompt: "x"})
	if !errors.IsCode(err, errors.ErrCodeProviderPermanent) {
		t.Errorf("expected permanent code, got %v", err)
	}
}

func TestAnthropicRequiresKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	if _, err := NewAnthropic(Options{}); !errors.IsCode(err, errors.ErrCodeProviderConfig) {
		t.Errorf("expected config error, got %v", err)
	}
}

// stubClient fails a set number of times before succeeding.
type stubClient struct {
	failures int
	err      error
	calls    int
}

func (s *stubClient) Name() string { return "stub" }

func (s *stubClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, s.err
	}
	return &Response{Content: "ok"}, nil
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func TestRetryingRecoversFromTransient(t *testing.T) {
	stub := &stubClient{failures: 2, err: errors.New(errors.ErrCodeProviderTransient, "429 rate limit")}
	r := WithRetry(stub, log.Default())
	r.sleep = noSleep

	attempts := 0
	r.OnAttempt = func() { attempts++ }

	resp, err := r.Complete(context.Background(), &Request{Prompt: "x"})
	if err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts counted, got %d", attempts)
	}
}

func TestRetryingExhaustsTransient(t *testing.T) {
	stub := &stubClient{failures: 10, err: errors.New(errors.ErrCodeProviderTransient, "timeout")}
	r := WithRetry(stub, log.Default())
	r.sleep = noSleep

	_, err := r.Complete(context.Background(), &Request{Prompt: "x"})
	if !errors.IsCode(err, errors.ErrCodeProviderTransient) {
		t.Errorf("expected transient code, got %v", err)
	}
	if stub.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", stub.calls)
	}
}

func TestRetryingFailsFastOnPermanent(t *testing.T) {
	stub := &stubClient{failures: 10, err: errors.New(errors.ErrCodeProviderPermanent, "401 unauthorized")}
	r := WithRetry(stub, log.Default())
	r.sleep = noSleep

	_, err := r.Complete(context.Background(), &Request{Prompt: "x"})
	if !errors.IsCode(err, errors.ErrCodeProviderPermanent) {
		t.Errorf("expected permanent code, got %v", err)
	}
	if stub.calls != 1 {
		t.Errorf("permanent fault should not retry, got %d calls", stub.calls)
	}
}

func TestRetryingDoesNotRetryUnknown(t *testing.T) {
	stub := &stubClient{failures: 10, err: errors.Newf("", "something odd happened")}
	r := WithRetry(stub, log.Default())
	r.sleep = noSleep

	if _, err := r.Complete(context.Background(), &Request{Prompt: "x"}); err == nil {
		t.Fatal("expected error")
	}
	if stub.calls != 1 {
		t.Errorf("unknown fault should not retry, got %d calls", stub.calls)
	}
}
