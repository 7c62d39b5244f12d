package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const pushbulletPushURL = "https://api.pushbullet.com/v2/pushes"

// Pushbullet sends notes through the Pushbullet push API.
type Pushbullet struct {
	token      string
	device     string // optional device iden; empty pushes to all devices
	url        string // overridable for tests
	httpClient *http.Client
}

// NewPushbullet creates a Pushbullet backend.
func NewPushbullet(token, device string) *Pushbullet {
	return &Pushbullet{
		token:  token,
		device: device,
		url:    pushbulletPushURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name implements Notifier.
func (p *Pushbullet) Name() string { return "pushbullet" }

// Send implements Notifier.
func (p *Pushbullet) Send(ctx context.Context, title, body, site string) error {
	push := map[string]string{
		"type":  "note",
		"title": title,
		"body":  body,
	}
	if p.device != "" {
		push["device_iden"] = p.device
	}

	payload, err := json.Marshal(push)
	if err != nil {
		return fmt.Errorf("failed to marshal push: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Access-Token", p.token)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pushbullet request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("pushbullet returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
