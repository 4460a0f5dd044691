// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package queuestore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"

	"github.com/AccelByte/realtime-matchmaker/pkg/constants"
	"github.com/AccelByte/realtime-matchmaker/pkg/envelope"
	"github.com/AccelByte/realtime-matchmaker/pkg/models"
)

// RedisQueueStore runs the queue scripts against the shared store.
type RedisQueueStore struct {
	client redis.UniversalClient
}

var _ QueueStore = (*RedisQueueStore)(nil)

func NewRedisQueueStore(client redis.UniversalClient) *RedisQueueStore {
	return &RedisQueueStore{client: client}
}

func (s *RedisQueueStore) Enqueue(rootScope *envelope.Scope, mode models.GameMode, playerID string, metadata string, nowMs int64) (models.EnqueueOutcome, error) {
	scope := rootScope.NewChildScope("RedisQueueStore.Enqueue")
	defer scope.Finish()
	scope.SetAttributes(envelope.GameModeTag, mode.String())
	scope.SetAttributes(envelope.PlayerIDTag, playerID)

	keys := []string{models.OwnerKey(playerID), mode.QueueKey(), mode.MetaKey(playerID)}
	replaced, err := enqueueScript.Run(scope.Ctx, s.client, keys, playerID, mode.String(), nowMs, metadata).Int()
	if err != nil {
		return "", models.ClassifyStoreError(err)
	}

	if replaced == 1 {
		return models.EnqueueOutcomeReplaced, nil
	}
	return models.EnqueueOutcomeAdded, nil
}

func (s *RedisQueueStore) Dequeue(rootScope *envelope.Scope, mode models.GameMode, playerID string) (models.DequeueOutcome, error) {
	scope := rootScope.NewChildScope("RedisQueueStore.Dequeue")
	defer scope.Finish()
	scope.SetAttributes(envelope.GameModeTag, mode.String())
	scope.SetAttributes(envelope.PlayerIDTag, playerID)

	keys := []string{models.OwnerKey(playerID), mode.QueueKey(), mode.MetaKey(playerID)}
	removed, err := dequeueScript.Run(scope.Ctx, s.client, keys, playerID, mode.String()).Int()
	if err != nil {
		return "", models.ClassifyStoreError(err)
	}

	if removed == 1 {
		return models.DequeueOutcomeRemoved, nil
	}
	return models.DequeueOutcomeNotPresent, nil
}

func (s *RedisQueueStore) TryMatchPop(rootScope *envelope.Scope, mode models.GameMode, settings models.ModeSettings, nowMs int64) ([]models.QueueEntry, error) {
	scope := rootScope.NewChildScope("RedisQueueStore.TryMatchPop")
	defer scope.Finish()
	scope.SetAttributes(envelope.GameModeTag, mode.String())

	raw, err := tryMatchPopScript.Run(scope.Ctx, s.client, []string{mode.QueueKey()},
		mode.String(), settings.GroupSize, settings.WindowWidth, settings.MaxQueueWaitMs, nowMs, constants.PopScanLimit).Slice()
	if err != nil {
		return nil, models.ClassifyStoreError(err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	if len(raw)%3 != 0 {
		return nil, models.NewFatalStoreFailure(fmt.Errorf("pop returned %d values", len(raw)))
	}

	entries := make([]models.QueueEntry, 0, len(raw)/3)
	for i := 0; i < len(raw); i += 3 {
		playerID, _ := raw[i].(string)
		enqueuedAtRaw, _ := raw[i+1].(string)
		metadata, _ := raw[i+2].(string)

		enqueuedAt, parseErr := strconv.ParseFloat(enqueuedAtRaw, 64)
		if parseErr != nil {
			scope.Log.WithField("value", enqueuedAtRaw).Warn("pop returned unparseable enqueue time")
		}

		entries = append(entries, models.QueueEntry{
			PlayerID:     playerID,
			EnqueuedAtMs: int64(enqueuedAt),
			Metadata:     metadata,
		})
	}

	return entries, nil
}

func (s *RedisQueueStore) QueueLen(rootScope *envelope.Scope, mode models.GameMode) (int64, error) {
	scope := rootScope.NewChildScope("RedisQueueStore.QueueLen")
	defer scope.Finish()

	depth, err := s.client.ZCard(scope.Ctx, mode.QueueKey()).Result()
	if err != nil {
		return 0, models.ClassifyStoreError(err)
	}
	return depth, nil
}

func (s *RedisQueueStore) Reset(rootScope *envelope.Scope) error {
	scope := rootScope.NewChildScope("RedisQueueStore.Reset")
	defer scope.Finish()

	var cursor uint64
	for {
		keys, next, err := s.client.Scan(scope.Ctx, cursor, "mm:*", 256).Result()
		if err != nil {
			return models.ClassifyStoreError(err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(scope.Ctx, keys...).Err(); err != nil {
				return models.ClassifyStoreError(err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (s *RedisQueueStore) SetRunToken(rootScope *envelope.Scope, runID string) error {
	scope := rootScope.NewChildScope("RedisQueueStore.SetRunToken")
	defer scope.Finish()

	if err := s.client.Set(scope.Ctx, constants.RunTokenKey, runID, 0).Err(); err != nil {
		return models.ClassifyStoreError(err)
	}
	return nil
}

func (s *RedisQueueStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
