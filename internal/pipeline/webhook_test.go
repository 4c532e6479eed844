package pipeline

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/agenticklabs/agentick/pkg/message"
)

func TestWebhookListenerPostsBatch(t *testing.T) {
	var gotBody []byte
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Signature-256")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	l := NewWebhookListener(WebhookConfig{
		URL:        srv.URL,
		SessionKey: "chat:s1",
		Secret:     "hunter2",
	})

	out := Output{
		Messages:   []message.Message{message.NewAssistantMessage("done")},
		IsComplete: true,
	}
	if err := l(context.Background(), out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var payload struct {
		SessionKey string            `json:"sessionKey"`
		Messages   []message.Message `json:"messages"`
		Complete   bool              `json:"complete"`
	}
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if payload.SessionKey != "chat:s1" {
		t.Errorf("sessionKey = %q", payload.SessionKey)
	}
	if len(payload.Messages) != 1 || payload.Messages[0].TextContent() != "done" {
		t.Errorf("messages = %+v", payload.Messages)
	}
	if !payload.Complete {
		t.Error("complete flag lost")
	}

	mac := hmac.New(sha256.New, []byte("hunter2"))
	mac.Write(gotBody)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if gotSig != want {
		t.Errorf("signature = %q, want %q", gotSig, want)
	}
}

func TestWebhookListenerNoSecretNoSignature(t *testing.T) {
	var gotSig atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig.Store(r.Header.Get("X-Signature-256"))
	}))
	defer srv.Close()

	l := NewWebhookListener(WebhookConfig{URL: srv.URL, SessionKey: "chat:s1"})
	if err := l(context.Background(), Output{Messages: []message.Message{message.NewAssistantMessage("hi")}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig, _ := gotSig.Load().(string); sig != "" {
		t.Errorf("unexpected signature header %q", sig)
	}
}

func TestWebhookListenerServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	l := NewWebhookListener(WebhookConfig{URL: srv.URL, SessionKey: "chat:s1"})
	err := l(context.Background(), Output{Messages: []message.Message{message.NewAssistantMessage("hi")}})
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
}
