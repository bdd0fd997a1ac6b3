// Package gateway talks to the external mobile-money gateway.
//
// The gateway is called strictly outside ledger transactions: a push is
// initiated first and funds only move when the gateway confirms via the
// signed callback. A gateway failure therefore never leaves a wallet in
// a half-moved state.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/jkimani/pesalock/internal/apperr"
	"github.com/jkimani/pesalock/internal/circuitbreaker"
	"github.com/jkimani/pesalock/internal/retry"
)

// Client initiates payment collection pushes.
type Client interface {
	// InitiatePush asks the gateway to prompt msisdn to approve paying
	// amount in the gateway's currency. It returns the gateway's
	// reference for correlating the eventual callback.
	InitiatePush(ctx context.Context, msisdn, amount, currency string) (string, error)
}

// Callback is the payload the gateway posts back when a push concludes.
type Callback struct {
	RequestRef string `json:"requestRef"`
	Status     string `json:"status"` // "success" or "failed"
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	Reason     string `json:"reason,omitempty"`
}

// CallbackSuccess is the Status value of an approved push.
const CallbackSuccess = "success"

// HTTPClient is the production gateway client. Pushes are retried on
// transient failures and guarded by a circuit breaker so a flapping
// gateway fails fast instead of stacking up 15s timeouts.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *circuitbreaker.Breaker
}

// NewHTTPClient creates a gateway client for the given base URL.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		breaker: circuitbreaker.New("gateway", 5, 30*time.Second),
	}
}

type pushRequest struct {
	MSISDN   string `json:"msisdn"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type pushResponse struct {
	RequestRef string `json:"requestRef"`
	Message    string `json:"message,omitempty"`
}

func (h *HTTPClient) InitiatePush(ctx context.Context, msisdn, amount, currency string) (string, error) {
	if !h.breaker.Allow() {
		return "", apperr.Externalf(nil, "gateway circuit open")
	}

	body, err := json.Marshal(pushRequest{MSISDN: msisdn, Amount: amount, Currency: currency})
	if err != nil {
		return "", apperr.Externalf(err, "encode push request")
	}

	var ref string
	err = retry.Do(ctx, 3, 500*time.Millisecond, func() error {
		var attemptErr error
		ref, attemptErr = h.push(ctx, body)
		return attemptErr
	})
	if err != nil {
		h.breaker.RecordFailure()
		return "", err
	}

	h.breaker.RecordSuccess()
	return ref, nil
}

// push performs one attempt. Responses that retrying cannot fix (4xx,
// malformed bodies) come back as permanent errors.
func (h *HTTPClient) push(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", h.baseURL+"/v1/push", bytes.NewReader(body))
	if err != nil {
		return "", retry.Permanent(apperr.Externalf(err, "build push request"))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.apiKey)

	resp, err := h.client.Do(req)
	if err != nil {
		return "", apperr.Externalf(err, "gateway push")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		pushErr := apperr.Externalf(nil, "gateway push returned %d: %s", resp.StatusCode, snippet)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return "", retry.Permanent(pushErr)
		}
		return "", pushErr
	}

	var pr pushResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return "", retry.Permanent(apperr.Externalf(err, "decode push response"))
	}
	if pr.RequestRef == "" {
		return "", retry.Permanent(apperr.Externalf(nil, "gateway push response missing requestRef"))
	}
	return pr.RequestRef, nil
}

// VerifyCallback authenticates a callback body against the shared
// secret using the signature header the gateway sends.
func VerifyCallback(body []byte, signature, secret string) error {
	if secret == "" {
		return nil
	}
	if signature == "" {
		return apperr.Forbiddenf("callback signature missing")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return apperr.Forbiddenf("callback signature mismatch")
	}
	return nil
}
