package store

import (
	"context"

	"github.com/hrygo/memvault/internal/profile"
)

// Store provides tenant-scoped database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver

	// Store services
	SecurityAuditStore SecurityAuditStore // security audit logging
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:             driver,
		profile:            profile,
		SecurityAuditStore: driver.SecurityAuditStore(),
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}

// WithTenantScope runs fn within a unit of work scoped to tenantHandle.
func (s *Store) WithTenantScope(ctx context.Context, tenantHandle string, fn func(ScopedSession) error) error {
	return s.driver.WithTenantScope(ctx, tenantHandle, fn)
}

// ExplainVectorSearch exposes the driver's plan output for acceptance checks.
func (s *Store) ExplainVectorSearch(ctx context.Context, tenantHandle string, vector []float32, limit int) (string, error) {
	return s.driver.ExplainVectorSearch(ctx, tenantHandle, vector, limit)
}
