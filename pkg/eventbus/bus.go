// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

// Package eventbus carries match events across matchmaker instances. A match
// formed on one instance reaches sessions held anywhere through this channel.
// Delivery is fire and forget: events published while a subscriber is away
// are gone, clients reconnect and resync.
package eventbus

import (
	"context"

	"github.com/go-redis/redis/v8"

	"github.com/AccelByte/realtime-matchmaker/pkg/common"
	"github.com/AccelByte/realtime-matchmaker/pkg/config"
	"github.com/AccelByte/realtime-matchmaker/pkg/models"
)

type Bus interface {
	// Publish fans one match event out to every instance.
	Publish(ctx context.Context, event models.MatchEvent) error

	// Subscribe returns the stream of events published anywhere in the
	// cluster. The channel closes when ctx ends.
	Subscribe(ctx context.Context) (<-chan models.MatchEvent, error)

	Close() error
	Type() string
}

// NewBus selects the bus backend from configuration. Kafka consumers get a
// unique group per instance so every instance sees every event.
func NewBus(cfg *config.Config, redisClient redis.UniversalClient) (Bus, error) {
	switch cfg.EventBus {
	case config.BusKafka:
		groupID := cfg.KafkaGroupID
		if groupID == "" {
			groupID = "mm-" + common.GenerateUUID()
		}
		return NewKafkaBus(cfg.KafkaBrokers, cfg.KafkaTopic, groupID)
	default:
		return NewRedisBus(redisClient), nil
	}
}
