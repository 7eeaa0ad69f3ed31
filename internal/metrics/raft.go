// Package metrics holds every Prometheus collector the broker exports, kept
// standalone to avoid import cycles between engine/refresh/hooks and the
// HTTP layer that registers them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RaftLeadershipChanges = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "broker_raft_leadership_changes_total",
		Help: "Leadership role transitions in the sweeper's raft group.",
	})

	RaftLogSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "broker_raft_log_size_bytes",
		Help: "Size in bytes of the sweeper raft group's BoltDB log/stable file.",
	})

	AuthAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_auth_attempts_total",
		Help: "Authorization handshakes completed, by auth mode and outcome.",
	}, []string{"auth_mode", "outcome"})

	RefreshAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_refresh_attempts_total",
		Help: "Credential refresh attempts, by auth mode and outcome.",
	}, []string{"auth_mode", "outcome"})

	RefreshLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "broker_refresh_latency_ms",
		Help:    "Refresh exchange latency in milliseconds.",
		Buckets: prometheus.ExponentialBuckets(10, 2, 12),
	})

	HookRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_post_connection_hook_runs_total",
		Help: "Post-connection hook invocations, by kind and outcome.",
	}, []string{"kind", "outcome"})

	WebhooksSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_webhooks_sent_total",
		Help: "Outbound webhook deliveries, by outcome.",
	}, []string{"outcome"})

	SessionsSweptTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "broker_sessions_swept_total",
		Help: "Expired OAuth sessions removed by the sweeper.",
	})
)

// Register registers every broker collector on reg (or the default
// registerer when reg is nil), tolerating re-registration so callers can
// call it from tests without tracking global state themselves.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{
		RaftLeadershipChanges,
		RaftLogSizeBytes,
		AuthAttemptsTotal,
		RefreshAttemptsTotal,
		RefreshLatency,
		HookRunsTotal,
		WebhooksSentTotal,
		SessionsSweptTotal,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
