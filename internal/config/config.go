package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port    int
	GinMode string

	TLSCertFile string
	TLSKeyFile  string

	// GatewayToken protects the local API; empty disables the check.
	GatewayToken string

	// DevSecret signs the dev certifier's session certificates.
	DevSecret string

	// SealPackageID scopes session credentials; credentials minted for
	// one package never unlock another.
	SealPackageID string
	SessionTTL    time.Duration

	// KVBackend selects where flags and cached credentials live:
	// "memory", "file" or "redis".
	KVBackend string
	DataDir   string
	RedisAddr string

	ChannelRefresh time.Duration
	MessageRefresh time.Duration

	FeedbackRecipient string
	AppVersion        string
}

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

func LoadConfig() (Config, error) {
	return LoadConfigFromEnv(osEnv{})
}

func LoadConfigFromEnv(env Env) (Config, error) {
	cfg := Config{
		Port:           3000,
		GinMode:        "release",
		SessionTTL:     30 * time.Minute,
		KVBackend:      "file",
		DataDir:        "data",
		RedisAddr:      "localhost:6379",
		ChannelRefresh: 60 * time.Second,
		MessageRefresh: 60 * time.Second,
		AppVersion:     "0.1.0",
	}

	if raw := env.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return Config{}, fmt.Errorf("invalid PORT")
		}
		cfg.Port = port
	}

	if raw := env.Getenv("GIN_MODE"); raw != "" {
		cfg.GinMode = raw
	}

	cfg.TLSCertFile = env.Getenv("TLS_CERT_FILE")
	cfg.TLSKeyFile = env.Getenv("TLS_KEY_FILE")
	cfg.GatewayToken = env.Getenv("GATEWAY_TOKEN")

	cfg.DevSecret = env.Getenv("DEV_SECRET")
	if cfg.DevSecret == "" {
		return Config{}, fmt.Errorf("DEV_SECRET is required")
	}

	cfg.SealPackageID = env.Getenv("SEAL_PACKAGE_ID")
	if cfg.SealPackageID == "" {
		return Config{}, fmt.Errorf("SEAL_PACKAGE_ID is required")
	}

	if raw := env.Getenv("SESSION_TTL_MINUTES"); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes <= 0 {
			return Config{}, fmt.Errorf("invalid SESSION_TTL_MINUTES")
		}
		cfg.SessionTTL = time.Duration(minutes) * time.Minute
	}

	if raw := env.Getenv("KV_BACKEND"); raw != "" {
		switch raw {
		case "memory", "file", "redis":
			cfg.KVBackend = raw
		default:
			return Config{}, fmt.Errorf("invalid KV_BACKEND %q", raw)
		}
	}
	if raw := env.Getenv("DATA_DIR"); raw != "" {
		cfg.DataDir = raw
	}
	if raw := env.Getenv("REDIS_ADDR"); raw != "" {
		cfg.RedisAddr = raw
	}

	if raw := env.Getenv("CHANNEL_REFRESH_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return Config{}, fmt.Errorf("invalid CHANNEL_REFRESH_SECONDS")
		}
		cfg.ChannelRefresh = time.Duration(seconds) * time.Second
	}
	if raw := env.Getenv("MESSAGE_REFRESH_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return Config{}, fmt.Errorf("invalid MESSAGE_REFRESH_SECONDS")
		}
		cfg.MessageRefresh = time.Duration(seconds) * time.Second
	}

	cfg.FeedbackRecipient = env.Getenv("FEEDBACK_RECIPIENT")
	if raw := env.Getenv("APP_VERSION"); raw != "" {
		cfg.AppVersion = raw
	}

	return cfg, nil
}
