package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/memvault/store"
)

// securityAuditStore persists security-relevant events. Audit writes run
// outside the tenant scope on purpose: an isolation breach must be recorded
// even when the scoped transaction that detected it rolls back.
type securityAuditStore struct {
	db *sql.DB
}

func (s *securityAuditStore) LogSecurityEvent(ctx context.Context, event *store.SecurityAuditEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	stmt := `
		INSERT INTO security_audit_event (tenant_handle, request_id, event_type, resource, detail, occurred_at)
		VALUES (` + placeholders(6) + `)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, stmt,
		event.TenantHandle,
		event.RequestID,
		event.EventType,
		event.Resource,
		event.Detail,
		event.OccurredAt,
	).Scan(&event.ID)
	if err != nil {
		return errors.Wrap(err, "failed to log security event")
	}
	return nil
}

func (s *securityAuditStore) ListSecurityEvents(ctx context.Context, tenantHandle string, limit, offset int) ([]*store.SecurityAuditEvent, int64, error) {
	if limit <= 0 {
		limit = 50
	}

	var total int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM security_audit_event WHERE tenant_handle = "+placeholder(1), tenantHandle,
	).Scan(&total)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to count security events")
	}

	query := `
		SELECT id, tenant_handle, request_id, event_type, resource, detail, occurred_at
		FROM security_audit_event
		WHERE tenant_handle = $1
		ORDER BY occurred_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := s.db.QueryContext(ctx, query, tenantHandle, limit, offset)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list security events")
	}
	defer rows.Close()

	list := []*store.SecurityAuditEvent{}
	for rows.Next() {
		var event store.SecurityAuditEvent
		err := rows.Scan(
			&event.ID,
			&event.TenantHandle,
			&event.RequestID,
			&event.EventType,
			&event.Resource,
			&event.Detail,
			&event.OccurredAt,
		)
		if err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan security event")
		}
		list = append(list, &event)
	}

	return list, total, rows.Err()
}
