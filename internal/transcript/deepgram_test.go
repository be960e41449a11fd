package transcript

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
}

func TestDeepgramClient_Transcribe(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Token dg-key" {
			t.Errorf("unexpected Authorization header: %q", got)
		}
		q := r.URL.Query()
		if q.Get("model") != "nova-3" || q.Get("smart_format") != "true" || q.Get("punctuate") != "true" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		if body["url"] != "https://youtu.be/abc" {
			t.Errorf("unexpected url in body: %q", body["url"])
		}
		_, _ = w.Write([]byte(`{"results":{"channels":[{"alternatives":[{"transcript":"  hello gophers  "}]}]}}`))
	}))
	defer ts.Close()

	client := NewDeepgramClient("dg-key", ts.Client(), newTestLogger()).WithEndpoint(ts.URL + "/v1/listen")
	got, err := client.Transcribe(context.Background(), "https://youtu.be/abc")
	if err != nil {
		t.Fatalf("Transcribe() error: %v", err)
	}
	if got != "hello gophers" {
		t.Errorf("expected trimmed transcript, got %q", got)
	}
}

func TestDeepgramClient_EmptyResult(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":{"channels":[]}}`))
	}))
	defer ts.Close()

	client := NewDeepgramClient("dg-key", ts.Client(), newTestLogger()).WithEndpoint(ts.URL)
	got, err := client.Transcribe(context.Background(), "https://youtu.be/abc")
	if err != nil {
		t.Fatalf("Transcribe() error: %v", err)
	}
	if got != "" {
		t.Errorf("expected empty transcript, got %q", got)
	}
}

func TestDeepgramClient_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	client := NewDeepgramClient("bad", ts.Client(), newTestLogger()).WithEndpoint(ts.URL)
	if _, err := client.Transcribe(context.Background(), "https://youtu.be/abc"); err == nil {
		t.Fatal("expected error for 401 response")
	}
}

func TestNop_Transcribe(t *testing.T) {
	got, err := Nop{}.Transcribe(context.Background(), "https://youtu.be/abc")
	if err != nil || got != "" {
		t.Errorf("Nop.Transcribe() = %q, %v", got, err)
	}
}
