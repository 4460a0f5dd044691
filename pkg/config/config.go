// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env"
)

// Bus backends.
const (
	BusRedis = "redis"
	BusKafka = "kafka"
)

// Auth backends.
const (
	AuthModeJWT    = "jwt"
	AuthModeRemote = "remote"
)

type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":7770" envDocs:"address of the websocket session listener"`
	AdminAddr  string `env:"ADMIN_ADDR"  envDefault:":7771" envDocs:"address of the admin and metrics listener"`

	RedisAddr              string `env:"REDIS_ADDR"                envDefault:"localhost:6379" envDocs:"address of the shared queue store"`
	RedisPassword          string `env:"REDIS_PASSWORD"            envDefault:""               envDocs:"password of the shared queue store"`
	RedisDB                int    `env:"REDIS_DB"                  envDefault:"0"              envDocs:"database index of the shared queue store"`
	RedisPoolSize          int    `env:"REDIS_POOL_SIZE"           envDefault:"32"             envDocs:"connection pool size for the shared queue store"`
	RedisPoolTimeoutSecond int    `env:"REDIS_POOL_TIMEOUT_SECOND" envDefault:"5"              envDocs:"seconds to wait for a pooled store connection"`

	EventBus     string   `env:"EVENT_BUS"     envDefault:"redis"          envDocs:"cross instance event bus backend: redis or kafka"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:"," envDocs:"kafka broker list when EVENT_BUS is kafka"`
	KafkaTopic   string   `env:"KAFKA_TOPIC"   envDefault:"mm-events"      envDocs:"kafka topic carrying match events"`
	KafkaGroupID string   `env:"KAFKA_GROUP"   envDefault:""               envDocs:"kafka consumer group id, empty means one group per instance"`

	AuthMode          string `env:"AUTH_MODE"           envDefault:"jwt" envDocs:"token verification backend: jwt or remote"`
	AuthRemoteURL     string `env:"AUTH_REMOTE_URL"     envDefault:""    envDocs:"verification endpoint when AUTH_MODE is remote"`
	AuthTimeoutSecond int    `env:"AUTH_TIMEOUT_SECOND" envDefault:"5"   envDocs:"seconds allowed for one token verification"`
	JWTSecret         string `env:"JWT_SECRET"          envDefault:""    envDocs:"hmac secret when AUTH_MODE is jwt"`

	HeartbeatTimeoutSecond int `env:"HEARTBEAT_TIMEOUT_SECOND" envDefault:"30"   envDocs:"seconds without a client frame before the session closes"`
	MaxFrameBytes          int `env:"MAX_FRAME_BYTES"          envDefault:"4096" envDocs:"maximum accepted inbound frame size"`

	ModeSettingsJSON         string  `env:"MATCH_MODES_JSON"            envDefault:""     envDocs:"per-mode settings override, JSON object keyed by mode"`
	DispatchAckTimeoutSecond int     `env:"DISPATCH_ACK_TIMEOUT_SECOND" envDefault:"10"   envDocs:"seconds allowed for a popped group to get its server slot"`
	SkillMax                 float64 `env:"SKILL_MAX"                   envDefault:"5000" envDocs:"upper bound accepted for the skill scalar"`

	BreakerFailureThreshold int `env:"BREAKER_FAILURE_THRESHOLD" envDefault:"5"   envDocs:"consecutive transient store failures before the breaker opens"`
	ReconnectBaseMs         int `env:"RECONNECT_BASE_MS"         envDefault:"500" envDocs:"base delay of the reconnect backoff"`
	ReconnectCapSecond      int `env:"RECONNECT_CAP_SECOND"      envDefault:"30"  envDocs:"upper bound of the reconnect backoff delay"`
	ReconnectMaxAttempts    int `env:"RECONNECT_MAX_ATTEMPTS"    envDefault:"10"  envDocs:"reconnect attempts before the process gives up on the store"`

	DSHeartbeatTTLSecond  int `env:"DS_HEARTBEAT_TTL_SECOND"  envDefault:"15" envDocs:"seconds a dedicated server stays eligible after its last heartbeat"`
	DSSweepIntervalSecond int `env:"DS_SWEEP_INTERVAL_SECOND" envDefault:"10" envDocs:"seconds between stale server sweeps"`
}

// ParseConfig reads the configuration from the environment.
func ParseConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.EventBus != BusRedis && c.EventBus != BusKafka {
		return fmt.Errorf("unknown event bus backend %q", c.EventBus)
	}
	if c.EventBus == BusKafka && len(c.KafkaBrokers) == 0 {
		return errors.New("kafka event bus needs at least one broker")
	}

	switch c.AuthMode {
	case AuthModeJWT:
		if c.JWTSecret == "" {
			return errors.New("jwt auth needs JWT_SECRET")
		}
	case AuthModeRemote:
		if c.AuthRemoteURL == "" {
			return errors.New("remote auth needs AUTH_REMOTE_URL")
		}
	default:
		return fmt.Errorf("unknown auth mode %q", c.AuthMode)
	}

	if c.HeartbeatTimeoutSecond < 1 {
		return errors.New("heartbeat timeout second cannot be lower than 1")
	}
	if c.DispatchAckTimeoutSecond < 1 {
		return errors.New("dispatch ack timeout second cannot be lower than 1")
	}
	if c.SkillMax <= 0 {
		return errors.New("skill max must be greater than 0")
	}
	if c.BreakerFailureThreshold < 1 {
		return errors.New("breaker failure threshold cannot be lower than 1")
	}
	if c.ReconnectBaseMs < 1 {
		return errors.New("reconnect base ms cannot be lower than 1")
	}
	if c.ReconnectCapSecond < 1 {
		return errors.New("reconnect cap second cannot be lower than 1")
	}
	if c.ReconnectMaxAttempts < 1 {
		return errors.New("reconnect max attempts cannot be lower than 1")
	}
	if c.DSHeartbeatTTLSecond < 1 {
		return errors.New("ds heartbeat ttl second cannot be lower than 1")
	}
	if c.DSSweepIntervalSecond < 1 {
		return errors.New("ds sweep interval second cannot be lower than 1")
	}

	return nil
}

func (c *Config) RedisPoolTimeout() time.Duration {
	return time.Duration(c.RedisPoolTimeoutSecond) * time.Second
}

func (c *Config) AuthTimeout() time.Duration {
	return time.Duration(c.AuthTimeoutSecond) * time.Second
}

func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutSecond) * time.Second
}

func (c *Config) DispatchAckTimeout() time.Duration {
	return time.Duration(c.DispatchAckTimeoutSecond) * time.Second
}

func (c *Config) ReconnectBase() time.Duration {
	return time.Duration(c.ReconnectBaseMs) * time.Millisecond
}

func (c *Config) ReconnectCap() time.Duration {
	return time.Duration(c.ReconnectCapSecond) * time.Second
}

func (c *Config) DSHeartbeatTTL() time.Duration {
	return time.Duration(c.DSHeartbeatTTLSecond) * time.Second
}

func (c *Config) DSSweepInterval() time.Duration {
	return time.Duration(c.DSSweepIntervalSecond) * time.Second
}
