package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"nanograph/internal/chat"
	"nanograph/internal/config"
	"nanograph/internal/gemini"
)

func TestNewWiresKeyringIntoClient(t *testing.T) {
	var gotKey string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-goog-api-key")
		w.Header().Set("content-type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}`))
	}))
	defer ts.Close()

	cfg := config.Config{
		GeminiAPIKey:  "first-key-0123456789",
		GeminiBaseURL: ts.URL,
		LogLevel:      "info",
		Generation:    gemini.GenerationConfig{AspectRatio: gemini.AspectWide, ImageSize: gemini.Size2K},
	}
	var logs bytes.Buffer
	stack := New(cfg, &logs)

	if st := stack.CheckGate(context.Background()); !st.Authenticated {
		t.Fatalf("gate = %+v", st)
	}
	if !strings.Contains(logs.String(), `"msg":"access gate"`) {
		t.Errorf("logs = %s", logs.String())
	}

	conv := stack.NewConversation()
	if conv.Config() != cfg.Generation {
		t.Errorf("config = %+v", conv.Config())
	}

	stack.Keyring.Set("second-key-0123456789")
	reply, err := conv.Send(context.Background(), "x", nil)
	if err != nil {
		t.Fatal(err)
	}
	if reply.IsError || reply.Text != "hi" {
		t.Errorf("reply = %+v", reply)
	}
	if gotKey != "second-key-0123456789" {
		t.Errorf("request used key %q", gotKey)
	}
	if conv.Len() != 3 || reply.Role != chat.RoleModel {
		t.Error("expected a full turn")
	}
}

func TestVerifyKeyWiresCheckModel(t *testing.T) {
	stack := New(config.Config{GeminiBaseURL: "http://127.0.0.1:1", VerifyKey: true}, nil)
	if stack.Host.Verify == nil {
		t.Error("Verify should be set when VerifyKey is on")
	}

	stack = New(config.Config{GeminiBaseURL: "http://127.0.0.1:1"}, nil)
	if stack.Host.Verify != nil {
		t.Error("Verify should be nil by default")
	}
}
