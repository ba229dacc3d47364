// Package publish forwards engine trades to external consumers.
package publish

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"orderbooks/internal/common"
)

const defaultWriteTimeout = time.Second

// MessageWriter is the part of *kafka.Writer the listener needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter returns an asynchronous writer, so publishing from inside
// the engine's critical section only costs an enqueue. Delivery failures
// are logged from the writer's completion callback.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		BatchTimeout: 10 * time.Millisecond,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Error().Err(err).Int("messages", len(messages)).Msg("unable to deliver trades")
			}
		},
	}
}

// TradeMessage is the JSON payload of one published trade.
type TradeMessage struct {
	ID        uint64    `json:"id"`
	Taker     string    `json:"taker"`
	Maker     string    `json:"maker"`
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Size      uint64    `json:"size"`
}

func NewTradeMessage(trade common.Trade) TradeMessage {
	return TradeMessage{
		ID:        trade.ID,
		Taker:     trade.Taker,
		Maker:     trade.Maker,
		Timestamp: trade.Timestamp,
		Price:     trade.Price,
		Size:      trade.Size,
	}
}

// KafkaTradeListener publishes every trade as one JSON message keyed by the
// trade id. A failed write is logged and never interrupts matching.
type KafkaTradeListener struct {
	writer  MessageWriter
	timeout time.Duration
	logger  zerolog.Logger
}

func NewKafkaTradeListener(writer MessageWriter) *KafkaTradeListener {
	return &KafkaTradeListener{
		writer:  writer,
		timeout: defaultWriteTimeout,
		logger:  log.With().Str("component", "publisher").Logger(),
	}
}

func (l *KafkaTradeListener) OnTrade(trade common.Trade) {
	value, err := json.Marshal(NewTradeMessage(trade))
	if err != nil {
		l.logger.Error().Err(err).Uint64("trade", trade.ID).Msg("unable to encode trade")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	err = l.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatUint(trade.ID, 10)),
		Value: value,
	})
	if err != nil {
		l.logger.Error().Err(err).Uint64("trade", trade.ID).Msg("unable to publish trade")
	}
}

func (l *KafkaTradeListener) Close() error {
	return l.writer.Close()
}
