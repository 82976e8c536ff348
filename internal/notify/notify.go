// Package notify delivers user pushes, staff alerts and receipt emails.
// Delivery is fire-and-forget: messages are handed to Kafka for the push and
// mail workers, or logged when no broker is configured.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// PushMessage targets one user's devices.
type PushMessage struct {
	UserID    string            `json:"userId"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
	ProjectID string            `json:"projectId,omitempty"`
}

// EmailMessage is a rendered email ready for the mail worker.
type EmailMessage struct {
	To        string `json:"to"`
	Subject   string `json:"subject"`
	HTML      string `json:"html"`
	Reference string `json:"reference"`
}

// KafkaPublisher writes push and email messages to their topics, keyed by
// the recipient so one user's messages stay ordered on a partition.
type KafkaPublisher struct {
	writer     *kafka.Writer
	pushTopic  string
	emailTopic string
}

func NewKafkaPublisher(brokers []string, pushTopic, emailTopic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
			ErrorLogger:  kafka.LoggerFunc(logger.Sugar().Named("kafka").Errorf),
		},
		pushTopic:  pushTopic,
		emailTopic: emailTopic,
	}
}

func (p *KafkaPublisher) Push(ctx context.Context, msg PushMessage) error {
	return p.write(ctx, p.pushTopic, msg.UserID, msg)
}

func (p *KafkaPublisher) SendEmail(ctx context.Context, msg EmailMessage) error {
	return p.write(ctx, p.emailTopic, msg.To, msg)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func (p *KafkaPublisher) write(ctx context.Context, topic, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// LogPublisher records messages instead of delivering them.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.Named("notify")}
}

func (p *LogPublisher) Push(_ context.Context, msg PushMessage) error {
	p.logger.Info("push",
		zap.String("user_id", msg.UserID),
		zap.String("title", msg.Title),
		zap.String("body", msg.Body),
	)
	return nil
}

func (p *LogPublisher) SendEmail(_ context.Context, msg EmailMessage) error {
	p.logger.Info("email",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("reference", msg.Reference),
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
