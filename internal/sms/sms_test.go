package sms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewHTTPSender_Defaults(t *testing.T) {
	s := NewHTTPSender("api-key", "", "BANK")
	if s.BaseURL != defaultBaseURL {
		t.Errorf("BaseURL = %q, want default", s.BaseURL)
	}
	if s.HTTPClient == nil || s.HTTPClient.Timeout != defaultTimeout {
		t.Errorf("HTTPClient timeout not set to %v", defaultTimeout)
	}
}

func TestSend_Success(t *testing.T) {
	var body map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if r.Header.Get("Authorization") != "test-key" {
			t.Errorf("Authorization = %q, want test-key", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("Decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := NewHTTPSender("test-key", server.URL, "BANK")
	if err := s.Send(context.Background(), "+212600000001", "Your code is 123456"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if body["numbers"] != "+212600000001" {
		t.Errorf("numbers = %q", body["numbers"])
	}
	if body["message"] != "Your code is 123456" {
		t.Errorf("message = %q", body["message"])
	}
	if body["sender"] != "BANK" {
		t.Errorf("sender = %q, want BANK", body["sender"])
	}
}

func TestSend_MissingAPIKey(t *testing.T) {
	err := NewHTTPSender("", "", "").Send(context.Background(), "+212600000001", "hi")
	if err == nil || !strings.Contains(err.Error(), "API key not configured") {
		t.Errorf("err = %v, want API key error", err)
	}
}

func TestSend_Non200Status(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid number"}`))
	}))
	defer server.Close()

	err := NewHTTPSender("key", server.URL, "").Send(context.Background(), "x", "hi")
	if err == nil {
		t.Fatal("expected error for non-200 status")
	}
	if !strings.Contains(err.Error(), "status=400") || !strings.Contains(err.Error(), "invalid number") {
		t.Errorf("error = %q, want status and body", err.Error())
	}
}

func TestSend_CanceledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewHTTPSender("key", server.URL, "").Send(ctx, "x", "hi"); err == nil {
		t.Error("Send with canceled context err = nil, want error")
	}
}
