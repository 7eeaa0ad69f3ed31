// Package config loads broker configuration from a YAML file, then lets
// environment variables override individual fields so the same config.yaml
// can be shared across dev/staging/prod with only env diffs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"app_env"`
	} `yaml:"app"`

	Server struct {
		Addr               string        `yaml:"addr"`
		CORSAllowedOrigins []string      `yaml:"cors_allowed_origins"`
		RequestTimeout     time.Duration `yaml:"request_timeout"`
	} `yaml:"server"`

	Storage struct {
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxOpenConns    int    `yaml:"max_open_conns"`
			MaxIdleConns    int    `yaml:"max_idle_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Cache struct {
		// memory | redis — backs both the webhook-dedup cache and the
		// refresh coordinator's cross-process advisory lock.
		Kind  string `yaml:"kind"`
		Redis struct {
			Host   string `yaml:"host"`
			Port   int    `yaml:"port"`
			DB     int    `yaml:"db"`
			Prefix string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Session struct {
		TTL time.Duration `yaml:"ttl"`
	} `yaml:"session"`

	Refresh struct {
		Skew    time.Duration `yaml:"skew"`
		LockTTL time.Duration `yaml:"lock_ttl"`
	} `yaml:"refresh"`

	HMAC struct {
		Secret string `yaml:"secret"`
	} `yaml:"hmac"`

	Webhook struct {
		SigningSecret string `yaml:"signing_secret"`
	} `yaml:"webhook"`

	Security struct {
		// base64(32 bytes), consumed directly by internal/security/secretbox
		// via the SECRETBOX_MASTER_KEY env var — listed here for discoverability.
		SecretBoxMasterKey string `yaml:"secretbox_master_key"`
	} `yaml:"security"`

	// Cluster holds the embedded-Raft leader-election settings used to gate
	// the session-expiry sweeper to a single elected node per environment.
	Cluster struct {
		Mode     string            `yaml:"mode"` // off | embedded
		NodeID   string            `yaml:"node_id"`
		RaftAddr string            `yaml:"raft_addr"`
		RaftDir  string            `yaml:"raft_dir"`
		Peers    map[string]string `yaml:"peers"` // nodeID -> host:port
	} `yaml:"cluster"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	c.applyDefaults()
	c.applyEnvOverrides()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 15 * time.Second
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Redis.Port == 0 {
		c.Cache.Redis.Port = 6379
	}
	if c.Session.TTL == 0 {
		c.Session.TTL = 15 * time.Minute
	}
	if c.Refresh.Skew == 0 {
		c.Refresh.Skew = 15 * time.Minute
	}
	if c.Refresh.LockTTL == 0 {
		c.Refresh.LockTTL = 30 * time.Second
	}
	if c.Cluster.Mode == "" {
		c.Cluster.Mode = "off"
	}
	if c.Cluster.Peers == nil {
		c.Cluster.Peers = map[string]string{}
	}
}

// Validate performs validation of critical configuration values.
func (c *Config) Validate() error {
	if c.Storage.DSN == "" {
		return fmt.Errorf("config: storage.dsn is required")
	}
	if c.Cache.Kind != "memory" && c.Cache.Kind != "redis" {
		return fmt.Errorf("config: cache.kind must be memory or redis, got %q", c.Cache.Kind)
	}
	if c.Cluster.Mode != "off" && c.Cluster.Mode != "embedded" {
		return fmt.Errorf("config: cluster.mode must be off or embedded, got %q", c.Cluster.Mode)
	}
	return nil
}

// ---- env overrides ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}
func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		if strings.TrimSpace(s) == "" {
			return []string{}, true
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvCSV("SERVER_CORS_ALLOWED_ORIGINS"); ok {
		c.Server.CORSAllowedOrigins = v
	}
	if v, ok := getEnvDur("SERVER_REQUEST_TIMEOUT"); ok {
		c.Server.RequestTimeout = v
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_OPEN_CONNS"); ok {
		c.Storage.Postgres.MaxOpenConns = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_IDLE_CONNS"); ok {
		c.Storage.Postgres.MaxIdleConns = v
	}
	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = v
	}
	if v, ok := getEnvStr("REDIS_HOST"); ok {
		c.Cache.Redis.Host = v
	}
	if v, ok := getEnvInt("REDIS_PORT"); ok {
		c.Cache.Redis.Port = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}
	if v, ok := getEnvDur("SESSION_TTL"); ok {
		c.Session.TTL = v
	}
	if v, ok := getEnvDur("REFRESH_SKEW"); ok {
		c.Refresh.Skew = v
	}
	if v, ok := getEnvDur("REFRESH_LOCK_TTL"); ok {
		c.Refresh.LockTTL = v
	}
	if v, ok := getEnvStr("HMAC_SECRET"); ok {
		c.HMAC.Secret = v
	}
	if v, ok := getEnvStr("WEBHOOK_SIGNING_SECRET"); ok {
		c.Webhook.SigningSecret = v
	}
	if v, ok := getEnvStr("CLUSTER_MODE"); ok {
		c.Cluster.Mode = v
	}
	if v, ok := getEnvStr("CLUSTER_NODE_ID"); ok {
		c.Cluster.NodeID = v
	}
	if v, ok := getEnvStr("CLUSTER_RAFT_ADDR"); ok {
		c.Cluster.RaftAddr = v
	}
	if v, ok := getEnvStr("CLUSTER_RAFT_DIR"); ok {
		c.Cluster.RaftDir = v
	}
	if v, ok := getEnvStr("CLUSTER_PEERS"); ok {
		c.Cluster.Peers = parseKVList(v, ",")
	}
}

// parseKVList parses env of form "k1=v1,k2=v2" into a map.
func parseKVList(s, sep string) map[string]string {
	s = strings.TrimSpace(s)
	if s == "" {
		return map[string]string{}
	}
	items := strings.Split(s, sep)
	out := make(map[string]string, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		if i := strings.IndexRune(it, '='); i > 0 {
			k := strings.TrimSpace(it[:i])
			v := strings.TrimSpace(it[i+1:])
			if k != "" && v != "" {
				out[k] = v
			}
		}
	}
	return out
}
