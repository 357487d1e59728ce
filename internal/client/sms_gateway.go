package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// SMSGateway delivers queued SMS messages via an HTTP provider. Sends pass
// through a rate limiter so a large drain cannot exceed the provider quota.
type SMSGateway struct {
	endpoint string
	apiKey   string
	senderID string
	client   *http.Client
	limiter  *rate.Limiter
}

// NewSMSGateway creates an HTTP SMS gateway limited to perSecond sends.
func NewSMSGateway(endpoint, apiKey, senderID string, perSecond float64) *SMSGateway {
	if perSecond <= 0 {
		perSecond = 5
	}
	return &SMSGateway{
		endpoint: endpoint,
		apiKey:   apiKey,
		senderID: senderID,
		client:   &http.Client{Timeout: 10 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

type smsPayload struct {
	To      string `json:"to"`
	Message string `json:"message"`
	Sender  string `json:"sender"`
}

// Send delivers one SMS.
func (g *SMSGateway) Send(ctx context.Context, phone, message string) error {
	if g.endpoint == "" {
		return fmt.Errorf("sms gateway not configured")
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(smsPayload{To: phone, Message: message, Sender: g.senderID})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms send to %s: %w", phone, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("sms provider returned %d for %s", resp.StatusCode, phone)
	}
	return nil
}
