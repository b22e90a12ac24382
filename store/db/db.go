package db

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hrygo/memvault/internal/profile"
	"github.com/hrygo/memvault/store"
	"github.com/hrygo/memvault/store/db/postgres"
)

// NewDBDriver creates the application-role store driver.
//
// Only PostgreSQL is supported: the tenant-isolation contract requires
// engine-level row security, which embedded engines cannot provide.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	return postgres.NewDB(profile)
}

// Migrate applies the schema through the privileged admin connection and
// closes it. In dev mode AdminDSN may fall back to DSN; in prod the two
// roles must differ so request traffic can never bypass row security.
func Migrate(ctx context.Context, profile *profile.Profile) error {
	adminDSN := profile.AdminDSN
	if adminDSN == "" {
		if !profile.IsDev() {
			return errors.New("admin dsn required for migration in prod mode")
		}
		adminDSN = profile.DSN
	}

	admin, err := postgres.NewAdminDB(adminDSN)
	if err != nil {
		return err
	}
	defer admin.Close()

	return admin.Migrate(ctx)
}
