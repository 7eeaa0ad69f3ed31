// Package webhook delivers the signed outbound "auth" webhook (§4.7 step 5,
// §6): a JSON POST to the tenant's registered receiver, HMAC-SHA256 signed
// with the tenant's webhook secret in the X-Nango-Signature header —
// mirroring internal/hmacguard's verification side of the same scheme.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dropDatabas3/authbroker/internal/metrics"
	"go.uber.org/zap"
)

// Payload is the wire shape of the outbound auth webhook (§6).
type Payload struct {
	Type              string `json:"type"`
	ConnectionID      string `json:"connectionId"`
	ProviderConfigKey string `json:"providerConfigKey"`
	AuthMode          string `json:"authMode"`
	Provider          string `json:"provider"`
	Operation         string `json:"operation"`
	Success           bool   `json:"success"`
	Error             string `json:"error,omitempty"`
}

// Dispatcher posts signed auth webhooks to tenant-registered receivers.
type Dispatcher struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *zap.Logger
}

func (d *Dispatcher) httpClient() *http.Client {
	if d.HTTPClient != nil {
		return d.HTTPClient
	}
	return http.DefaultClient
}

func (d *Dispatcher) timeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return 10 * time.Second
}

// Send delivers payload to url, signed with secret. A zero url is treated
// as "no webhook registered" and is a silent no-op, not an error — most
// tenants never configure one.
func (d *Dispatcher) Send(ctx context.Context, url, secret string, payload Payload) error {
	if url == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		metrics.WebhooksSentTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	sig := sign(secret, body)

	callCtx, cancel := context.WithTimeout(ctx, d.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		metrics.WebhooksSentTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Nango-Signature", sig)

	resp, err := d.httpClient().Do(req)
	if err != nil {
		metrics.WebhooksSentTotal.WithLabelValues("error").Inc()
		if d.Logger != nil {
			d.Logger.Warn("webhook delivery failed", zap.String("url", url), zap.Error(err))
		}
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.WebhooksSentTotal.WithLabelValues("error").Inc()
		if d.Logger != nil {
			d.Logger.Warn("webhook receiver rejected delivery", zap.String("url", url), zap.Int("status", resp.StatusCode))
		}
		return fmt.Errorf("webhook: receiver returned status %d", resp.StatusCode)
	}

	metrics.WebhooksSentTotal.WithLabelValues("success").Inc()
	return nil
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
