// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"github.com/AccelByte/realtime-matchmaker/pkg/config"
	"github.com/AccelByte/realtime-matchmaker/pkg/models"
)

const consumerReadyTimeout = 10 * time.Second

// KafkaBus broadcasts match events over a kafka topic. Each instance consumes
// with its own group id, so the topic behaves as a broadcast channel.
type KafkaBus struct {
	topic         string
	producer      sarama.SyncProducer
	consumerGroup sarama.ConsumerGroup

	mu     sync.RWMutex
	closed bool
}

var _ Bus = (*KafkaBus)(nil)

func NewKafkaBus(brokers []string, topic string, groupID string) (*KafkaBus, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Version = sarama.V2_8_0_0

	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true
	kafkaConfig.Producer.Compression = sarama.CompressionSnappy

	kafkaConfig.Consumer.Return.Errors = true
	kafkaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	kafkaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}

	producer, err := sarama.NewSyncProducer(brokers, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	consumerGroup, err := sarama.NewConsumerGroup(brokers, groupID, kafkaConfig)
	if err != nil {
		_ = producer.Close()
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}

	return &KafkaBus{
		topic:         topic,
		producer:      producer,
		consumerGroup: consumerGroup,
	}, nil
}

func (b *KafkaBus) Publish(ctx context.Context, event models.MatchEvent) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return fmt.Errorf("kafka bus is closed")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal match event: %w", err)
	}

	_, _, err = b.producer.SendMessage(&sarama.ProducerMessage{
		Topic:     b.topic,
		Key:       sarama.StringEncoder(event.PlayerID),
		Value:     sarama.ByteEncoder(payload),
		Timestamp: time.Now(),
	})
	return err
}

func (b *KafkaBus) Subscribe(ctx context.Context) (<-chan models.MatchEvent, error) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("kafka bus is closed")
	}

	events := make(chan models.MatchEvent, 100)
	handler := &eventConsumerHandler{
		events: events,
		ready:  make(chan struct{}),
	}

	go func() {
		defer close(events)
		for {
			if ctx.Err() != nil {
				return
			}
			// Consume returns on every rebalance and must run in a loop.
			if err := b.consumerGroup.Consume(ctx, []string{b.topic}, handler); err != nil {
				logrus.Warnf("kafka consume stopped: %s", err)
				return
			}
		}
	}()

	go func() {
		for err := range b.consumerGroup.Errors() {
			logrus.Warnf("kafka consumer error: %s", err)
		}
	}()

	select {
	case <-handler.ready:
		return events, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(consumerReadyTimeout):
		return nil, fmt.Errorf("timeout waiting for kafka consumer")
	}
}

func (b *KafkaBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	producerErr := b.producer.Close()
	consumerErr := b.consumerGroup.Close()
	if producerErr != nil {
		return producerErr
	}
	return consumerErr
}

func (b *KafkaBus) Type() string {
	return config.BusKafka
}

type eventConsumerHandler struct {
	events chan<- models.MatchEvent
	ready  chan struct{}
	once   sync.Once
}

func (h *eventConsumerHandler) Setup(sarama.ConsumerGroupSession) error {
	h.once.Do(func() {
		close(h.ready)
	})
	return nil
}

func (h *eventConsumerHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *eventConsumerHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		var event models.MatchEvent
		if err := json.Unmarshal(message.Value, &event); err != nil {
			logrus.Warnf("dropping undecodable match event: %s", err)
			session.MarkMessage(message, "")
			continue
		}
		h.events <- event
		session.MarkMessage(message, "")
	}
	return nil
}
