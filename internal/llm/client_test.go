package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestChatParsesContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"hello from the model"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	text, err := c.Chat(context.Background(), "openai/gpt-5.2", []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if text != "hello from the model" {
		t.Errorf("unexpected content %q", text)
	}
}

func TestChatStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	_, err := c.Chat(context.Background(), "openai/gpt-5.2", nil)

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", se.StatusCode)
	}
}

func TestChatEmptyCompletion(t *testing.T) {
	cases := []string{
		`{"choices":[]}`,
		`{"choices":[{"message":{"content":""}}]}`,
		`not json at all`,
	}
	for _, body := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		}))
		c := NewClient(srv.URL, "k")
		_, err := c.Chat(context.Background(), "m", nil)
		srv.Close()
		if !errors.Is(err, ErrEmptyCompletion) {
			t.Errorf("body %q: expected ErrEmptyCompletion, got %v", body, err)
		}
	}
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"data":[
			{"id":"openai/gpt-5.2","name":"GPT-5.2","context_length":128000,"pricing":{"prompt":"0.00001","completion":"0.00003"}},
			{"id":"bare-model","context_length":0,"pricing":{"prompt":"bogus","completion":""}}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("list models: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(models))
	}
	if models[0].Provider != "openai" {
		t.Errorf("expected provider openai, got %s", models[0].Provider)
	}
	if models[0].PromptCostPerTok != 0.00001 {
		t.Errorf("unexpected prompt cost %v", models[0].PromptCostPerTok)
	}
	if models[1].Name != "bare-model" {
		t.Errorf("expected name to fall back to id, got %s", models[1].Name)
	}
	if models[1].Provider != "unknown" {
		t.Errorf("expected provider unknown, got %s", models[1].Provider)
	}
	if models[1].PromptCostPerTok != 0 {
		t.Errorf("expected unparseable pricing to be 0, got %v", models[1].PromptCostPerTok)
	}
}

func TestWithKey(t *testing.T) {
	c := NewClient("http://example.invalid", "base")
	if c.WithKey("") != c {
		t.Error("empty key should return the same client")
	}
	c2 := c.WithKey("other")
	if c2 == c || c2.apiKey != "other" {
		t.Error("WithKey should clone with the new key")
	}
	if c.apiKey != "base" {
		t.Error("original client key must be unchanged")
	}
}
