// Package notifier adapts the core's terminal auth outcomes to the
// originating UI client: a websocket-style publish (§2 "Notifier") plus a
// structured log line and a telemetry event, matching the "200-and-
// published-error pattern" callback policy from §7.
package notifier

import (
	"context"

	"go.uber.org/zap"
)

// Event is a single terminal (success or failure) notification addressed
// to the UI client that initiated the flow.
type Event struct {
	WebSocketClientID string
	EnvironmentID     string
	ProviderConfigKey string
	ConnectionID      string
	Provider          string
	AuthMode          string
	Success           bool
	ErrorCode         string
	ErrorMessage      string
}

// Publisher is the external transport the Notifier hands events to — a
// websocket hub in a real deployment. Out of scope per §2 Non-goals (UI
// rendering); only the publish contract lives here.
type Publisher interface {
	Publish(ctx context.Context, wsClientID string, event any) error
}

// TelemetrySink receives one structured event per notification, independent
// of the websocket publish outcome — so a dashboard can be built against it
// even when no UI client is attached to a given flow (e.g. the CLI).
type TelemetrySink interface {
	Record(ctx context.Context, name string, attrs map[string]any)
}

// Notifier fans a terminal Event out to the websocket publisher, the
// structured logger, and the telemetry sink. All three are best-effort:
// a publish failure is logged but never turns a successful auth into an
// error response.
type Notifier struct {
	Publisher Publisher
	Telemetry TelemetrySink
	Logger    *zap.Logger
}

func (n *Notifier) Notify(ctx context.Context, ev Event) {
	if n.Logger != nil {
		fields := []zap.Field{
			zap.String("environment_id", ev.EnvironmentID),
			zap.String("provider_config_key", ev.ProviderConfigKey),
			zap.String("connection_id", ev.ConnectionID),
			zap.String("provider", ev.Provider),
			zap.String("auth_mode", ev.AuthMode),
			zap.Bool("success", ev.Success),
		}
		if ev.Success {
			n.Logger.Info("auth flow completed", fields...)
		} else {
			n.Logger.Warn("auth flow failed", append(fields, zap.String("error_code", ev.ErrorCode), zap.String("error_message", ev.ErrorMessage))...)
		}
	}

	if n.Telemetry != nil {
		n.Telemetry.Record(ctx, "auth.terminal", map[string]any{
			"environment_id":      ev.EnvironmentID,
			"provider_config_key": ev.ProviderConfigKey,
			"connection_id":       ev.ConnectionID,
			"provider":            ev.Provider,
			"auth_mode":           ev.AuthMode,
			"success":             ev.Success,
			"error_code":          ev.ErrorCode,
		})
	}

	if n.Publisher == nil || ev.WebSocketClientID == "" {
		return
	}
	if err := n.Publisher.Publish(ctx, ev.WebSocketClientID, ev); err != nil && n.Logger != nil {
		n.Logger.Warn("websocket publish failed", zap.String("ws_client_id", ev.WebSocketClientID), zap.Error(err))
	}
}

// NoopTelemetrySink discards every event; used where no telemetry backend
// is wired (tests, the CLI).
type NoopTelemetrySink struct{}

func (NoopTelemetrySink) Record(context.Context, string, map[string]any) {}
