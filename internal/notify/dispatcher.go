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

	"github.com/quadmarket/quadmarket/internal/logging"
	"github.com/quadmarket/quadmarket/internal/metrics"
	"github.com/quadmarket/quadmarket/internal/retry"
)

const (
	signatureHeader = "X-Quadmarket-Signature"
	eventHeader     = "X-Quadmarket-Event"
	deliveryHeader  = "X-Quadmarket-Delivery"
)

type delivery struct {
	sub   Subscription
	event Event
}

// Dispatcher delivers events to webhook subscribers from a bounded
// queue. When the queue is full new deliveries are dropped and counted;
// a slow subscriber must never back-pressure a state transition.
type Dispatcher struct {
	store  SubscriptionStore
	client *http.Client
	queue  chan delivery
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher creates a dispatcher with the given worker count and
// queue capacity.
func NewDispatcher(store SubscriptionStore, workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	d := &Dispatcher{
		store:  store,
		client: &http.Client{Timeout: 10 * time.Second},
		queue:  make(chan delivery, queueSize),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Publish fans the event out to all interested subscriptions. It never
// blocks the caller. After Close it is a no-op.
func (d *Dispatcher) Publish(event Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	subs, err := d.store.ListActive(ctx)
	if err != nil {
		logging.L(ctx).Error("list webhook subscriptions", "event", event.Type, "error", err)
		metrics.NotificationDeliveriesTotal.WithLabelValues("error").Inc()
		return
	}

	for _, sub := range subs {
		if !sub.Wants(event.Type) {
			continue
		}
		select {
		case d.queue <- delivery{sub: *sub, event: event}:
		default:
			logging.L(ctx).Warn("webhook queue full, dropping delivery",
				"subscriptionId", sub.ID, "event", event.Type)
			metrics.NotificationDeliveriesTotal.WithLabelValues("dropped").Inc()
		}
	}
}

// Close drains in-flight deliveries and stops the workers. It waits
// for any concurrent Publish to finish enqueueing before closing the
// queue, so Close and Publish may race safely.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for del := range d.queue {
		d.deliver(del)
	}
}

func (d *Dispatcher) deliver(del delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	body, err := json.Marshal(del.event)
	if err != nil {
		metrics.NotificationDeliveriesTotal.WithLabelValues("error").Inc()
		return
	}

	err = retry.Do(ctx, 3, 500*time.Millisecond, func() error {
		return d.post(ctx, del.sub, del.event, body)
	})
	if err != nil {
		logging.L(ctx).Warn("webhook delivery failed",
			"subscriptionId", del.sub.ID, "url", del.sub.URL,
			"event", del.event.Type, "error", err)
		metrics.NotificationDeliveriesTotal.WithLabelValues("failed").Inc()
		return
	}
	metrics.NotificationDeliveriesTotal.WithLabelValues("delivered").Inc()
}

func (d *Dispatcher) post(ctx context.Context, sub Subscription, event Event, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(eventHeader, event.Type)
	req.Header.Set(deliveryHeader, event.ID)
	req.Header.Set(signatureHeader, Sign(sub.Secret, body))

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	err = fmt.Errorf("subscriber returned %d", resp.StatusCode)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return retry.Permanent(err)
	}
	return err
}

// Sign computes the hex HMAC-SHA256 a subscriber verifies against.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
