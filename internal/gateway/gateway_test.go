package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jkimani/pesalock/internal/apperr"
	"github.com/jkimani/pesalock/internal/notify"
)

func TestHTTPClient_InitiatePush(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/push" {
			t.Errorf("path = %s, want /v1/push", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		var req pushRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.MSISDN != "+254700000001" || req.Amount != "150.00" || req.Currency != "KES" {
			t.Errorf("unexpected request: %+v", req)
		}
		json.NewEncoder(w).Encode(pushResponse{RequestRef: "gw_abc123"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "test-key")
	ref, err := c.InitiatePush(context.Background(), "+254700000001", "150.00", "KES")
	if err != nil {
		t.Fatalf("InitiatePush failed: %v", err)
	}
	if ref != "gw_abc123" {
		t.Errorf("ref = %q, want gw_abc123", ref)
	}
}

func TestHTTPClient_InitiatePush_GatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "test-key")
	_, err := c.InitiatePush(context.Background(), "+254700000001", "150.00", "KES")
	if !errors.Is(err, apperr.ErrExternal) {
		t.Fatalf("want ErrExternal, got %v", err)
	}
}

func TestHTTPClient_InitiatePush_RetriesTransientFailures(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			http.Error(w, "upstream down", http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(pushResponse{RequestRef: "gw_retry"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "test-key")
	ref, err := c.InitiatePush(context.Background(), "+254700000001", "150.00", "KES")
	if err != nil {
		t.Fatalf("InitiatePush failed: %v", err)
	}
	if ref != "gw_retry" {
		t.Errorf("ref = %q, want gw_retry", ref)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestHTTPClient_InitiatePush_NoRetryOnClientError(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "bad msisdn", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "test-key")
	_, err := c.InitiatePush(context.Background(), "+254700000001", "150.00", "KES")
	if !errors.Is(err, apperr.ErrExternal) {
		t.Fatalf("want ErrExternal, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (4xx is not retryable)", attempts)
	}
}

func TestHTTPClient_InitiatePush_MissingRef(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(pushResponse{})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "test-key")
	_, err := c.InitiatePush(context.Background(), "+254700000001", "150.00", "KES")
	if !errors.Is(err, apperr.ErrExternal) {
		t.Fatalf("want ErrExternal, got %v", err)
	}
}

func TestVerifyCallback(t *testing.T) {
	body := []byte(`{"requestRef":"gw_abc","status":"success"}`)
	secret := "s3cret"
	sig := notify.Sign(body, secret)

	if err := VerifyCallback(body, sig, secret); err != nil {
		t.Errorf("valid signature rejected: %v", err)
	}
	if err := VerifyCallback(body, "deadbeef", secret); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("bad signature: want ErrForbidden, got %v", err)
	}
	if err := VerifyCallback(body, "", secret); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("missing signature: want ErrForbidden, got %v", err)
	}
	// No secret configured disables verification.
	if err := VerifyCallback(body, "", ""); err != nil {
		t.Errorf("unsecured callback rejected: %v", err)
	}
}
