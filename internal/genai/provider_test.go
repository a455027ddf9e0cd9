package genai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFalProvider_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Key k123" {
			t.Fatalf("auth header = %q", got)
		}
		var req falRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Prompt != "a cat astronaut" || req.NumImages != 1 || req.ImageSize != "landscape_4_3" {
			t.Fatalf("unexpected request: %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"images": []map[string]any{{"url": "https://cdn/img.png", "content_type": "image/png"}},
		})
	}))
	defer srv.Close()

	p := NewFalProvider(srv.URL, "k123", time.Second)
	m, err := p.Generate(context.Background(), "a cat astronaut", OutputSpec{Size: "landscape_4_3"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if m.URL != "https://cdn/img.png" {
		t.Fatalf("url = %q", m.URL)
	}
	if p.Name() != "fal" {
		t.Fatalf("name = %q", p.Name())
	}
}

func TestFalProvider_PolicyRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"detail":"request blocked by content policy"}`))
	}))
	defer srv.Close()

	p := NewFalProvider(srv.URL, "k", time.Second)
	_, err := p.Generate(context.Background(), "bad prompt", OutputSpec{})
	if !errors.Is(err, ErrPolicyRejected) {
		t.Fatalf("err = %v, want ErrPolicyRejected", err)
	}
}

func TestFalProvider_TransientOn5xxAnd429(t *testing.T) {
	for _, status := range []int{500, 502, 429} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		p := NewFalProvider(srv.URL, "k", time.Second)
		_, err := p.Generate(context.Background(), "p", OutputSpec{})
		srv.Close()
		if !IsTransient(err) {
			t.Fatalf("status %d: err = %v, want transient", status, err)
		}
	}
}

func TestOpenAIProvider_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/generations" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		var req openaiRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "dall-e-3" || req.N != 1 || req.Size != "1792x1024" {
			t.Fatalf("unexpected request: %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"url": "https://oai/img.png"}},
		})
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL, "sk", "dall-e-3", time.Second)
	m, err := p.Generate(context.Background(), "a cat astronaut", OutputSpec{Size: "landscape_4_3"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if m.URL != "https://oai/img.png" {
		t.Fatalf("url = %q", m.URL)
	}
}

func TestOpenAIProvider_PolicyRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": "content_policy_violation", "message": "rejected"},
		})
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL, "sk", "dall-e-3", time.Second)
	_, err := p.Generate(context.Background(), "bad", OutputSpec{})
	if !errors.Is(err, ErrPolicyRejected) {
		t.Fatalf("err = %v, want ErrPolicyRejected", err)
	}
}

func TestOpenAIProvider_TransientOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(503)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL, "sk", "dall-e-3", time.Second)
	_, err := p.Generate(context.Background(), "p", OutputSpec{})
	if !IsTransient(err) {
		t.Fatalf("err = %v, want transient", err)
	}
}

func TestMapSize(t *testing.T) {
	cases := map[string]string{
		"landscape_4_3": "1792x1024",
		"portrait_16_9": "1024x1792",
		"":              "1024x1024",
		"512x512":       "512x512",
	}
	for in, want := range cases {
		if got := mapSize(in); got != want {
			t.Fatalf("mapSize(%q) = %q, want %q", in, got, want)
		}
	}
}
