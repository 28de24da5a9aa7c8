// Package kafka implements the external audit sink. Kafka carries the
// durable cross-service audit trail; the in-process store remains the
// authoritative local copy.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "examtrack/pkg/platform/audit"
)

// AuditSink publishes audit events to a Kafka topic, keyed by session ID so
// one session's funnel history stays ordered within a partition.
type AuditSink struct {
	client *kgo.Client
	topic  string
}

// NewAuditSink connects to the brokers and ensures the audit topic exists.
func NewAuditSink(ctx context.Context, brokers []string, topic string) (*AuditSink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerLinger(50*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}

	admin := kadm.NewClient(client)
	_, err = admin.CreateTopic(ctx, 3, 1, nil, topic)
	if err != nil && !errors.Is(err, kerr.TopicAlreadyExists) {
		client.Close()
		return nil, fmt.Errorf("ensure audit topic %q: %w", topic, err)
	}

	return &AuditSink{client: client, topic: topic}, nil
}

type auditPayload struct {
	Timestamp string `json:"timestamp"`
	Category  string `json:"category"`
	SessionID string `json:"session_id,omitempty"`
	TenantID  string `json:"tenant_id,omitempty"`
	Action    string `json:"action"`
	Step      string `json:"step,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Email     string `json:"email,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	ClientIP  string `json:"client_ip,omitempty"`
	Device    string `json:"device,omitempty"`
}

// Publish produces one event synchronously. The audit worker calls this off
// the request path, so the produce latency never blocks a registration.
func (s *AuditSink) Publish(ctx context.Context, event audit.Event) error {
	payload := auditPayload{
		Timestamp: event.Timestamp.Format(time.RFC3339Nano),
		Category:  string(audit.AuditEvent(event.Action).Category()),
		SessionID: event.SessionID,
		TenantID:  event.TenantID,
		Action:    event.Action,
		Step:      event.Step,
		Reason:    event.Reason,
		Email:     event.Email,
		RequestID: event.RequestID,
		ClientIP:  event.ClientIP,
		Device:    event.Device,
	}
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.SessionID),
		Value: value,
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

// Close flushes pending records and releases the client.
func (s *AuditSink) Close() {
	s.client.Close()
}
