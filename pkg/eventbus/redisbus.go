// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/AccelByte/realtime-matchmaker/pkg/config"
	"github.com/AccelByte/realtime-matchmaker/pkg/constants"
	"github.com/AccelByte/realtime-matchmaker/pkg/models"
)

// RedisBus broadcasts match events over a pub/sub channel on the shared
// store. The store client is owned by the caller.
type RedisBus struct {
	client redis.UniversalClient
}

var _ Bus = (*RedisBus)(nil)

func NewRedisBus(client redis.UniversalClient) *RedisBus {
	return &RedisBus{client: client}
}

func (b *RedisBus) Publish(ctx context.Context, event models.MatchEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal match event: %w", err)
	}
	return b.client.Publish(ctx, constants.EventChannelName, payload).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context) (<-chan models.MatchEvent, error) {
	sub := b.client.Subscribe(ctx, constants.EventChannelName)
	if _, err := sub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", constants.EventChannelName, err)
	}

	events := make(chan models.MatchEvent, 100)
	go func() {
		defer close(events)
		defer func() {
			if err := sub.Close(); err != nil {
				logrus.Warnf("closing event subscription: %s", err)
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var event models.MatchEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					logrus.Warnf("dropping undecodable match event: %s", err)
					continue
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events, nil
}

func (b *RedisBus) Close() error {
	return nil
}

func (b *RedisBus) Type() string {
	return config.BusRedis
}
