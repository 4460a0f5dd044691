// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		ListenAddr:               ":7770",
		AdminAddr:                ":7771",
		RedisAddr:                "localhost:6379",
		RedisPoolSize:            32,
		RedisPoolTimeoutSecond:   5,
		EventBus:                 BusRedis,
		KafkaBrokers:             []string{"localhost:9092"},
		KafkaTopic:               "mm-events",
		AuthMode:                 AuthModeJWT,
		JWTSecret:                "secret",
		AuthTimeoutSecond:        5,
		HeartbeatTimeoutSecond:   30,
		MaxFrameBytes:            4096,
		DispatchAckTimeoutSecond: 10,
		SkillMax:                 5000,
		BreakerFailureThreshold:  5,
		ReconnectBaseMs:          500,
		ReconnectCapSecond:       30,
		ReconnectMaxAttempts:     10,
		DSHeartbeatTTLSecond:     15,
		DSSweepIntervalSecond:    10,
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		Name    string
		Mutate  func(c *Config)
		WantErr string
	}{
		{
			Name:   "valid config passes",
			Mutate: func(c *Config) {},
		},
		{
			Name:    "unknown event bus backend",
			Mutate:  func(c *Config) { c.EventBus = "nats" },
			WantErr: `unknown event bus backend "nats"`,
		},
		{
			Name: "kafka bus without brokers",
			Mutate: func(c *Config) {
				c.EventBus = BusKafka
				c.KafkaBrokers = nil
			},
			WantErr: "kafka event bus needs at least one broker",
		},
		{
			Name:   "kafka bus with brokers passes",
			Mutate: func(c *Config) { c.EventBus = BusKafka },
		},
		{
			Name:    "jwt auth without secret",
			Mutate:  func(c *Config) { c.JWTSecret = "" },
			WantErr: "jwt auth needs JWT_SECRET",
		},
		{
			Name: "remote auth without endpoint",
			Mutate: func(c *Config) {
				c.AuthMode = AuthModeRemote
				c.AuthRemoteURL = ""
			},
			WantErr: "remote auth needs AUTH_REMOTE_URL",
		},
		{
			Name:    "unknown auth mode",
			Mutate:  func(c *Config) { c.AuthMode = "ldap" },
			WantErr: `unknown auth mode "ldap"`,
		},
		{
			Name:    "zero heartbeat timeout",
			Mutate:  func(c *Config) { c.HeartbeatTimeoutSecond = 0 },
			WantErr: "heartbeat timeout second cannot be lower than 1",
		},
		{
			Name:    "zero dispatch ack timeout",
			Mutate:  func(c *Config) { c.DispatchAckTimeoutSecond = 0 },
			WantErr: "dispatch ack timeout second cannot be lower than 1",
		},
		{
			Name:    "non positive skill max",
			Mutate:  func(c *Config) { c.SkillMax = 0 },
			WantErr: "skill max must be greater than 0",
		},
		{
			Name:    "zero breaker threshold",
			Mutate:  func(c *Config) { c.BreakerFailureThreshold = 0 },
			WantErr: "breaker failure threshold cannot be lower than 1",
		},
		{
			Name:    "zero reconnect attempts",
			Mutate:  func(c *Config) { c.ReconnectMaxAttempts = 0 },
			WantErr: "reconnect max attempts cannot be lower than 1",
		},
		{
			Name:    "zero sweep interval",
			Mutate:  func(c *Config) { c.DSSweepIntervalSecond = 0 },
			WantErr: "ds sweep interval second cannot be lower than 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.Name, func(t *testing.T) {
			cfg := validConfig()
			tt.Mutate(&cfg)

			err := cfg.Validate()

			if tt.WantErr == "" {
				require.NoError(t, err)
			} else {
				require.EqualError(t, err, tt.WantErr)
			}
		})
	}
}

func TestParseConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := ParseConfig()

	require.NoError(t, err)
	require.Equal(t, ":7770", cfg.ListenAddr)
	require.Equal(t, ":7771", cfg.AdminAddr)
	require.Equal(t, BusRedis, cfg.EventBus)
	require.Equal(t, AuthModeJWT, cfg.AuthMode)
	require.Equal(t, 30*time.Second, cfg.HeartbeatTimeout())
	require.Equal(t, 10*time.Second, cfg.DispatchAckTimeout())
	require.Equal(t, 500*time.Millisecond, cfg.ReconnectBase())
	require.Equal(t, 30*time.Second, cfg.ReconnectCap())
	require.Equal(t, 15*time.Second, cfg.DSHeartbeatTTL())
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("EVENT_BUS", "kafka")
	t.Setenv("KAFKA_BROKERS", "b1:9092,b2:9092")
	t.Setenv("SKILL_MAX", "3000")

	cfg, err := ParseConfig()

	require.NoError(t, err)
	require.Equal(t, BusKafka, cfg.EventBus)
	require.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.KafkaBrokers)
	require.Equal(t, float64(3000), cfg.SkillMax)
}
