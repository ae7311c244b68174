// Package intake consumes chat messages from Kafka and turns them into trade
// intents.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"signaltrader/internal/domain"
	"signaltrader/internal/parser"
)

// ChatMessage is the JSON value of one Kafka message.
type ChatMessage struct {
	Channel       string `json:"channel"`
	Content       string `json:"content"`
	ParentContent string `json:"parentContent,omitempty"`
}

// Decode parses a Kafka message value.
func Decode(value []byte) (ChatMessage, error) {
	var msg ChatMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return ChatMessage{}, fmt.Errorf("decode chat message: %w", err)
	}
	if msg.Content == "" {
		return ChatMessage{}, errors.New("decode chat message: empty content")
	}
	return msg, nil
}

// Handler processes one parsed message. err is the parse error, in which case
// intent only carries the message text.
type Handler func(ctx context.Context, intent domain.Intent, err error)

// Reader is the subset of *kafka.Reader used by the consumer.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config holds configuration for the consumer.
type Config struct {
	// Brokers are the Kafka bootstrap addresses.
	Brokers []string
	// Topic carries the chat messages.
	Topic string
	// GroupID is the consumer group.
	GroupID string
	// Channels restricts the accepted chat channels. Empty accepts all.
	Channels []string
	// Reader replaces the Kafka group reader built from the fields above.
	Reader Reader
	// Logger is the logger instance.
	Logger *zap.Logger
}

// Consumer reads chat messages one at a time and commits each offset after
// its message has been handled.
type Consumer struct {
	reader   Reader
	channels map[string]struct{}
	logger   *zap.Logger
}

// NewConsumer creates a consumer.
func NewConsumer(cfg Config) (*Consumer, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	reader := cfg.Reader
	if reader == nil {
		if len(cfg.Brokers) == 0 || cfg.Topic == "" || cfg.GroupID == "" {
			return nil, errors.New("kafka brokers, topic and group id are required")
		}
		reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			GroupID:     cfg.GroupID,
			Topic:       cfg.Topic,
			StartOffset: kafka.LastOffset,
			MaxWait:     500 * time.Millisecond,
			MinBytes:    1,
			MaxBytes:    1 << 20,
		})
	}

	channels := make(map[string]struct{}, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		channels[ch] = struct{}{}
	}

	return &Consumer{reader: reader, channels: channels, logger: logger.Named("intake")}, nil
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		c.dispatch(ctx, m, handle)

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit offset %d: %w", m.Offset, err)
		}
	}
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) dispatch(ctx context.Context, m kafka.Message, handle Handler) {
	msg, err := Decode(m.Value)
	if err != nil {
		c.logger.Warn("skipping undecodable message",
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Error(err))
		return
	}

	if !c.accepts(msg.Channel) {
		c.logger.Debug("skipping message from unwatched channel", zap.String("channel", msg.Channel))
		return
	}

	intent, err := parser.Parse(msg.Content, msg.ParentContent)
	intent.Channel = msg.Channel

	c.logger.Info("chat message received",
		zap.String("channel", msg.Channel),
		zap.String("kind", string(intent.Kind)),
		zap.String("symbol", intent.Symbol),
		zap.Int64("offset", m.Offset))

	handle(ctx, intent, err)
}

func (c *Consumer) accepts(channel string) bool {
	if len(c.channels) == 0 {
		return true
	}
	_, ok := c.channels[channel]
	return ok
}
