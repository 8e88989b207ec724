package repeater

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"idproof/internal/webhook/models"
	"idproof/internal/webhook/signature"
	"idproof/pkg/requestcontext"
)

// HTTPListener POSTs signed envelopes to a fixed URL.
type HTTPListener struct {
	url    string
	secret []byte
	client *http.Client
}

func NewHTTPListener(url, secret string, client *http.Client) *HTTPListener {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPListener{url: url, secret: []byte(secret), client: client}
}

func (l *HTTPListener) Name() string {
	return "http:" + l.url
}

func (l *HTTPListener) Deliver(ctx context.Context, env models.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if len(l.secret) > 0 {
		req.Header.Set(signature.Header, signature.Sign(l.secret, body))
	}
	if rid := requestcontext.RequestID(ctx); rid != "" {
		req.Header.Set("X-Request-ID", rid)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", l.url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post %s: unexpected status %d", l.url, resp.StatusCode)
	}
	return nil
}

// Producer is the slice of the Kafka producer the listener needs.
type Producer interface {
	Produce(ctx context.Context, key, value []byte) error
	Topic() string
}

// KafkaListener publishes envelopes keyed by vendor and token.
type KafkaListener struct {
	producer Producer
}

func NewKafkaListener(p Producer) *KafkaListener {
	return &KafkaListener{producer: p}
}

func (l *KafkaListener) Name() string {
	return "kafka:" + l.producer.Topic()
}

func (l *KafkaListener) Deliver(ctx context.Context, env models.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return l.producer.Produce(ctx, []byte(env.Key()), body)
}
