// Package events publishes order lifecycle messages to Kafka. The producer
// is optional: without configured brokers every publish is a no-op, so the
// API can run standalone.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/safar/go-cart-engine/internal/models"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type OrderCreatedEvent struct {
	OrderID        int64     `json:"order_id"`
	OrderNumber    string    `json:"order_number"`
	UserID         int64     `json:"user_id"`
	Subtotal       string    `json:"subtotal"`
	DiscountAmount string    `json:"discount_amount"`
	Total          string    `json:"total"`
	CreatedAt      time.Time `json:"created_at"`
}

type Producer struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewProducer returns a disabled producer when brokers is empty.
func NewProducer(brokers []string, topic string, logger *zap.Logger) *Producer {
	if len(brokers) == 0 {
		return &Producer{logger: logger}
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
	}

	return &Producer{writer: writer, logger: logger}
}

func (p *Producer) Enabled() bool {
	return p.writer != nil
}

func (p *Producer) PublishOrderCreated(ctx context.Context, order *models.Order) error {
	if p.writer == nil {
		return nil
	}

	event := OrderCreatedEvent{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		Subtotal:       order.Subtotal.String(),
		DiscountAmount: order.DiscountAmount.String(),
		Total:          order.Total.String(),
		CreatedAt:      order.CreatedAt,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(order.OrderNumber),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}

	p.logger.Info("published order created event",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber))

	return nil
}

func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
