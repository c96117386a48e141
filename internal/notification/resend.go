package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"parking-status-backend/config"
)

// ResendGateway delivers mail through the Resend HTTP API.
type ResendGateway struct {
	url    string
	apiKey string
	from   string
	client *http.Client
}

func NewResendGateway(cfg config.ResendConfig, from string) *ResendGateway {
	return &ResendGateway{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		from:   from,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
	}
}

type resendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html,omitempty"`
	Text    string `json:"text,omitempty"`
}

func (g *ResendGateway) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(resendRequest{
		From: g.from, To: msg.To, Subject: msg.Subject, HTML: msg.HTML, Text: msg.Text,
	})
	if err != nil {
		return fmt.Errorf("failed to encode resend request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create resend request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call resend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("resend error %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}
