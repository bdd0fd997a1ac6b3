package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jkimani/pesalock/internal/apperr"
	"github.com/jkimani/pesalock/internal/retry"
	"github.com/jkimani/pesalock/internal/syncutil"
)

// Subscription is a webhook registration for one user.
type Subscription struct {
	ID          string      `json:"id"`
	UserID      string      `json:"userId"`
	URL         string      `json:"url"`
	Secret      string      `json:"-"` // Used for HMAC signing
	Events      []EventType `json:"events"`
	Active      bool        `json:"active"`
	CreatedAt   time.Time   `json:"createdAt"`
	LastSuccess *time.Time  `json:"lastSuccess,omitempty"`
	LastError   string      `json:"lastError,omitempty"`
}

// SubscriptionStore persists webhook subscriptions.
type SubscriptionStore interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	ListByUser(ctx context.Context, userID string) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id string) error
}

// WebhookSink posts events to subscribed URLs, signing payloads with the
// subscription's secret.
type WebhookSink struct {
	store  SubscriptionStore
	client *http.Client

	// Serializes deliveries per subscription so concurrent events do
	// not interleave LastSuccess/LastError updates.
	locks syncutil.ShardedMutex
}

// NewWebhookSink creates a webhook sink over the given store.
func NewWebhookSink(store SubscriptionStore) *WebhookSink {
	return &WebhookSink{
		store: store,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (w *WebhookSink) Name() string { return "webhook" }

// Deliver sends the event to every active matching subscription of the
// addressed user. HTTP posts run async so a slow receiver never blocks
// the emitter.
func (w *WebhookSink) Deliver(ctx context.Context, event *Event) error {
	subs, err := w.store.ListByUser(ctx, event.UserID)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}

	for _, sub := range subs {
		if !sub.Active {
			continue
		}
		for _, et := range sub.Events {
			if et == event.Type {
				// The goroutine outlives the request that emitted
				// the event.
				go w.send(context.WithoutCancel(ctx), sub, event)
				break
			}
		}
	}
	return nil
}

func (w *WebhookSink) send(ctx context.Context, sub *Subscription, event *Event) {
	unlock := w.locks.Lock(sub.ID)
	defer unlock()

	payload, err := json.Marshal(event)
	if err != nil {
		w.updateError(ctx, sub, "failed to marshal event")
		return
	}

	err = retry.Do(ctx, 3, 500*time.Millisecond, func() error {
		return w.post(ctx, sub, event, payload)
	})
	if err != nil {
		w.updateError(ctx, sub, err.Error())
		return
	}
	w.updateSuccess(ctx, sub)
}

// post performs one delivery attempt. 4xx responses are permanent: the
// receiver rejected the payload and resending the same bytes cannot help.
func (w *WebhookSink) post(ctx context.Context, sub *Subscription, event *Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, "POST", sub.URL, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pesalock-Event", string(event.Type))
	req.Header.Set("X-Pesalock-Timestamp", fmt.Sprintf("%d", event.Timestamp.Unix()))

	if sub.Secret != "" {
		req.Header.Set("X-Pesalock-Signature", Sign(payload, sub.Secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return retry.Permanent(fmt.Errorf("status %d", resp.StatusCode))
	}
	return fmt.Errorf("status %d", resp.StatusCode)
}

// Sign computes the hex HMAC-SHA256 of payload under secret. Receivers
// recompute it to authenticate deliveries.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func (w *WebhookSink) updateSuccess(ctx context.Context, sub *Subscription) {
	now := time.Now().UTC()
	sub.LastSuccess = &now
	sub.LastError = ""
	w.store.Update(ctx, sub)
}

func (w *WebhookSink) updateError(ctx context.Context, sub *Subscription, errMsg string) {
	sub.LastError = errMsg
	w.store.Update(ctx, sub)
}

// MemorySubscriptionStore is an in-memory store for demo mode and tests.
type MemorySubscriptionStore struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

// NewMemorySubscriptionStore creates an empty in-memory store.
func NewMemorySubscriptionStore() *MemorySubscriptionStore {
	return &MemorySubscriptionStore{subs: make(map[string]*Subscription)}
}

func (m *MemorySubscriptionStore) Create(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = sub
	return nil
}

func (m *MemorySubscriptionStore) Get(_ context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sub, ok := m.subs[id]; ok {
		return sub, nil
	}
	return nil, apperr.NotFoundf("subscription %s", id)
}

func (m *MemorySubscriptionStore) ListByUser(_ context.Context, userID string) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Subscription
	for _, sub := range m.subs {
		if sub.UserID == userID {
			result = append(result, sub)
		}
	}
	return result, nil
}

func (m *MemorySubscriptionStore) Update(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = sub
	return nil
}

func (m *MemorySubscriptionStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
	return nil
}
