// Package hooks implements the Post-Connection Hook Runner (§4.7): an
// ordered, best-effort sequence fired after every terminal auth-flow
// transition. Failures are logged, never rolled back into the connection
// upsert that already committed.
package hooks

import (
	"context"
	"time"

	"github.com/dropDatabas3/authbroker/internal/cache"
	"github.com/dropDatabas3/authbroker/internal/domain"
	"github.com/dropDatabas3/authbroker/internal/domain/repository"
	"github.com/dropDatabas3/authbroker/internal/engine"
	"github.com/dropDatabas3/authbroker/internal/metrics"
	"github.com/dropDatabas3/authbroker/internal/notifier"
	"github.com/dropDatabas3/authbroker/internal/webhook"
	"go.uber.org/zap"
)

// InternalScript runs a hook built into the broker itself for a given
// provider (as opposed to a tenant-supplied external script). Distinct from
// WebhookSandbox, which always runs out-of-process.
type InternalScript interface {
	Run(ctx context.Context, hc engine.HookContext) error
}

// Runner fires every step of §4.7 in order, best-effort: a failed step is
// logged and does not stop the rest from running.
type Runner struct {
	Connections  repository.ConnectionStore
	Configs      repository.IntegrationConfigRepository
	Orchestrator repository.SyncOrchestrator
	Sandbox      repository.WebhookSandbox
	Internal     InternalScript
	Webhooks     *webhook.Dispatcher
	Notifier     *notifier.Notifier

	// Dedup, when set, suppresses a repeat webhook delivery for the same
	// connection/operation pair within DedupTTL: a driver's upstream call
	// can be retried (e.g. a duplicated provider callback) and re-run the
	// whole hook sequence, which must not double-fire a tenant's webhook.
	Dedup    cache.Client
	DedupTTL time.Duration

	Logger *zap.Logger

	// Timeout bounds the whole best-effort sequence so one stuck
	// collaborator can never wedge a driver's response indefinitely.
	Timeout time.Duration
}

const defaultRunTimeout = 20 * time.Second
const defaultDedupTTL = 30 * time.Second

func (r *Runner) dedupTTL() time.Duration {
	if r.DedupTTL > 0 {
		return r.DedupTTL
	}
	return defaultDedupTTL
}

func (r *Runner) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return defaultRunTimeout
}

// Run executes the hook sequence for hc. It always uses its own background
// context (bounded by Timeout) rather than inheriting a request context, so
// a disconnected caller never truncates hook dispatch (§5: "the connection
// upsert and hook dispatch must still run to completion").
func (r *Runner) Run(hc engine.HookContext) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout())
	defer cancel()

	if !hc.Success {
		r.notify(ctx, hc, "", "")
		return
	}

	connID := domain.ConnectionID{
		EnvironmentID:     hc.EnvironmentID,
		ProviderConfigKey: hc.ProviderConfigKey,
		ConnectionID:      hc.ConnectionID,
	}
	cfg, cfgErr := r.Configs.Get(ctx, hc.EnvironmentID, hc.ProviderConfigKey)

	// Step 1: initial sync, capped per integration, else resource_capped.
	r.step(ctx, "initial_sync", func() error {
		if !hc.NewConnection && hc.Operation != string(domain.OperationUpdate) {
			return nil
		}
		if !hc.NewConnection {
			return nil
		}
		if cfgErr == nil && cfg.ConnectionsWithScriptsCapLimit > 0 {
			n, err := r.Connections.CountForProviderConfig(ctx, hc.EnvironmentID, hc.ProviderConfigKey)
			if err != nil {
				return err
			}
			if n > cfg.ConnectionsWithScriptsCapLimit {
				if r.Logger != nil {
					r.Logger.Info("resource_capped",
						zap.String("environment_id", hc.EnvironmentID),
						zap.String("provider_config_key", hc.ProviderConfigKey),
						zap.Int("cap", cfg.ConnectionsWithScriptsCapLimit))
				}
				return nil
			}
		}
		if r.Orchestrator == nil {
			return nil
		}
		return r.Orchestrator.TriggerInitialSync(ctx, hc.EnvironmentID, hc.ProviderConfigKey, hc.ConnectionID)
	})

	// Step 2: registered internal post-connection script.
	r.step(ctx, "internal_script", func() error {
		if r.Internal == nil {
			return nil
		}
		return r.Internal.Run(ctx, hc)
	})

	// Step 3: tenant-defined external post-connection script, sandboxed.
	r.step(ctx, "external_script", func() error {
		if r.Sandbox == nil {
			return nil
		}
		return r.Sandbox.RunPostConnectionScript(ctx, hc.EnvironmentID, hc.ProviderConfigKey, map[string]any{
			"connection_id": hc.ConnectionID,
			"provider":      hc.Provider,
			"auth_mode":     hc.AuthMode,
			"operation":     hc.Operation,
		})
	})

	// Step 4: clear prior auth-failure state.
	r.step(ctx, "clear_failure_state", func() error {
		return r.Connections.MarkFailing(ctx, connID, false)
	})

	// Step 5: signed outbound webhook, deduplicated against a recent
	// identical delivery for this connection/operation.
	r.step(ctx, "webhook", func() error {
		if r.Webhooks == nil || cfgErr != nil || cfg.WebhookURL == "" {
			return nil
		}
		dedupKey := "webhook:" + hc.EnvironmentID + ":" + hc.ProviderConfigKey + ":" + hc.ConnectionID + ":" + hc.Operation
		if r.Dedup != nil {
			if seen, err := r.Dedup.Exists(ctx, dedupKey); err == nil && seen {
				return nil
			}
		}
		if err := r.Webhooks.Send(ctx, cfg.WebhookURL, cfg.WebhookSecret, webhook.Payload{
			Type:              "auth",
			ConnectionID:      hc.ConnectionID,
			ProviderConfigKey: hc.ProviderConfigKey,
			AuthMode:          hc.AuthMode,
			Provider:          hc.Provider,
			Operation:         hc.Operation,
			Success:           true,
		}); err != nil {
			return err
		}
		if r.Dedup != nil {
			_ = r.Dedup.Set(ctx, dedupKey, "1", r.dedupTTL())
		}
		return nil
	})

	r.notify(ctx, hc, "", "")
}

// step runs fn, recording its outcome to HookRunsTotal and logging failures
// without propagating them — every step is best-effort by design (§4.7).
func (r *Runner) step(ctx context.Context, kind string, fn func() error) {
	if err := fn(); err != nil {
		metrics.HookRunsTotal.WithLabelValues(kind, "error").Inc()
		if r.Logger != nil {
			r.Logger.Warn("post-connection hook step failed", zap.String("step", kind), zap.Error(err))
		}
		return
	}
	metrics.HookRunsTotal.WithLabelValues(kind, "success").Inc()
}

func (r *Runner) notify(ctx context.Context, hc engine.HookContext, code, msg string) {
	if r.Notifier == nil {
		return
	}
	if hc.Err != nil && msg == "" {
		msg = hc.Err.Error()
	}
	r.Notifier.Notify(ctx, notifier.Event{
		WebSocketClientID: hc.WebSocketClientID,
		EnvironmentID:     hc.EnvironmentID,
		ProviderConfigKey: hc.ProviderConfigKey,
		ConnectionID:      hc.ConnectionID,
		Provider:          hc.Provider,
		AuthMode:          hc.AuthMode,
		Success:           hc.Success,
		ErrorCode:         code,
		ErrorMessage:      msg,
	})
}

var _ engine.HookRunner = (*Runner)(nil)
