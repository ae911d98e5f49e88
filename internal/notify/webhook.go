package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tphakala/rodentwatch/internal/errors"
)

// WebhookProvider POSTs a JSON alert payload to an HTTP endpoint.
// Responses are classified for the retry machinery: 5xx and 429 are
// transient, other 4xx are terminal, network errors are transient.
type WebhookProvider struct {
	name     string
	endpoint string
	method   string
	headers  map[string]string
	client   *http.Client
}

// webhookPayload is the JSON body sent to the endpoint.
type webhookPayload struct {
	ID         string  `json:"id"`
	Species    string  `json:"species"`
	Confidence float64 `json:"confidence"`
	Timestamp  string  `json:"timestamp"`
	Source     string  `json:"source"`
	Evidence   string  `json:"evidence,omitempty"`
	Title      string  `json:"title"`
	Message    string  `json:"message"`
}

func NewWebhookProvider(name, endpoint, method string, headers map[string]string, timeout time.Duration) *WebhookProvider {
	if method == "" {
		method = http.MethodPost
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookProvider{
		name:     name,
		endpoint: endpoint,
		method:   strings.ToUpper(method),
		headers:  headers,
		client:   &http.Client{Timeout: timeout},
	}
}

func (w *WebhookProvider) Name() string { return w.name }

func (w *WebhookProvider) ValidateConfig() error {
	u, err := url.Parse(w.endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.Newf("channel %s: invalid webhook endpoint %q", w.name, w.endpoint).
			Component("notify").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

func (w *WebhookProvider) Send(ctx context.Context, alert *Alert) error {
	payload := webhookPayload{
		ID:         alert.ID,
		Species:    alert.Species,
		Confidence: alert.Confidence,
		Timestamp:  alert.Timestamp.Format(time.RFC3339),
		Source:     alert.SourceID,
		Evidence:   alert.EvidencePath,
		Title:      Title(alert),
		Message:    Body(alert),
	}

	body, err := json.Marshal(&payload)
	if err != nil {
		return errors.New(err).
			Component("notify").
			Category(errors.CategoryValidation).
			Context("channel", w.name).
			Build()
	}

	req, err := http.NewRequestWithContext(ctx, w.method, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.New(err).
			Component("notify").
			Category(errors.CategoryValidation).
			Context("channel", w.name).
			Build()
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return errors.New(err).
			Component("notify").
			Category(errors.CategoryNetwork).
			Context("channel", w.name).
			Retryable(true).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	return w.classifyResponse(resp.StatusCode)
}

func (w *WebhookProvider) classifyResponse(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests || status >= 500:
		return errors.New(fmt.Errorf("webhook returned status %d", status)).
			Component("notify").
			Category(errors.CategoryDelivery).
			Context("channel", w.name).
			Context("status", status).
			Retryable(true).
			Build()
	default:
		// Other 4xx codes mean the request itself is rejected; retrying
		// the same payload cannot succeed.
		return errors.New(fmt.Errorf("webhook returned status %d", status)).
			Component("notify").
			Category(errors.CategoryDelivery).
			Context("channel", w.name).
			Context("status", status).
			Retryable(false).
			Build()
	}
}
