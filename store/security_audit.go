package store

import (
	"context"
	"time"
)

// Security audit event types.
const (
	AuditDecryptFailure    = "decrypt_failure"
	AuditOwnershipMismatch = "ownership_mismatch"
	AuditEmbeddingAccess   = "embedding_access"
	AuditAuthFailure       = "auth_failure"
)

// SecurityAuditEvent represents a security-related event for audit logging.
// The true reason for a normalized client response (e.g. an ownership
// mismatch surfaced as "not found") is recorded here.
type SecurityAuditEvent struct {
	ID           int64
	TenantHandle string
	RequestID    string
	EventType    string
	Resource     string
	Detail       string
	OccurredAt   time.Time
}

// SecurityAuditStore defines the interface for security audit logging.
type SecurityAuditStore interface {
	// LogSecurityEvent saves a security event.
	LogSecurityEvent(ctx context.Context, event *SecurityAuditEvent) error

	// ListSecurityEvents retrieves security events for a tenant with pagination.
	ListSecurityEvents(ctx context.Context, tenantHandle string, limit, offset int) ([]*SecurityAuditEvent, int64, error)
}
