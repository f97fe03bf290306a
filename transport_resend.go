package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const resendEndpoint = "https://api.resend.com/emails"

// ResendTransport delivers messages through the Resend HTTPS API. It holds
// no state beyond the API key and a shared HTTP client, so a single instance
// serves all requests.
type ResendTransport struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewResendTransport builds a transport for the given API key.
func NewResendTransport(apiKey string) *ResendTransport {
	return &ResendTransport{
		apiKey:   apiKey,
		endpoint: resendEndpoint,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// WithEndpoint overrides the API endpoint. Tests point it at a local server.
func (t *ResendTransport) WithEndpoint(endpoint string) *ResendTransport {
	t.endpoint = endpoint
	return t
}

// Send posts the message to the API and fails on any non-2xx response.
func (t *ResendTransport) Send(ctx context.Context, msg EmailMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode mail payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build mail request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("mail transport request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mail transport rejected message: status %d: %s", resp.StatusCode, detail)
	}

	return nil
}
