// Package audit defines the audit trail emitted from registration domain
// logic. Events stay transport-agnostic so stores and sinks can fan out.
package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies and routing per category.
type EventCategory string

const (
	// CategoryCompliance covers events with contractual/regulatory
	// significance: a school signed up, paid, was provisioned, cancelled.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to abuse monitoring:
	// failed verification attempts, code resend throttling.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine funnel activity useful for
	// debugging and conversion analysis; can be sampled.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key funnel actions.
type Event struct {
	Timestamp time.Time
	SessionID string
	TenantID  string
	Action    string
	Step      string
	Reason    string
	// Email is stored masked (see pkg/email.Mask); raw addresses never
	// enter the audit trail.
	Email     string
	RequestID string
	ClientIP  string
	Device    string
}

type AuditEvent string

const (
	EventSessionStarted    AuditEvent = "session_started"
	EventSessionResumed    AuditEvent = "session_resumed"
	EventStepAdvanced      AuditEvent = "step_advanced"
	EventStepRewound       AuditEvent = "step_rewound"
	EventSessionSaved      AuditEvent = "session_saved"
	EventCodeSent          AuditEvent = "verification_code_sent"
	EventCodeThrottled     AuditEvent = "verification_code_throttled"
	EventEmailVerified     AuditEvent = "email_verified"
	EventVerifyFailed      AuditEvent = "email_verification_failed"
	EventPlanSelected      AuditEvent = "plan_selected"
	EventPaymentRecorded   AuditEvent = "payment_recorded"
	EventSessionCompleted  AuditEvent = "session_completed"
	EventSessionCancelled  AuditEvent = "session_cancelled"
	EventTenantProvisioned AuditEvent = "tenant_provisioned"
)

var eventCategories = map[AuditEvent]EventCategory{
	// Compliance events: the subscription contract trail.
	EventPaymentRecorded:   CategoryCompliance,
	EventSessionCompleted:  CategoryCompliance,
	EventSessionCancelled:  CategoryCompliance,
	EventTenantProvisioned: CategoryCompliance,

	// Security events: abuse of the verification path.
	EventVerifyFailed:  CategorySecurity,
	EventCodeThrottled: CategorySecurity,

	// Operations events: routine funnel progress, can be sampled.
	EventSessionStarted: CategoryOperations,
	EventSessionResumed: CategoryOperations,
	EventStepAdvanced:   CategoryOperations,
	EventStepRewound:    CategoryOperations,
	EventSessionSaved:   CategoryOperations,
	EventCodeSent:       CategoryOperations,
	EventEmailVerified:  CategoryOperations,
	EventPlanSelected:   CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events. Implementations must be safe for concurrent
// use by the worker and test assertions.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Sink forwards audit events to an external system (Kafka). Sinks are
// best-effort: the worker logs failures and keeps draining.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}
