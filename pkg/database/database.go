package database

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"golang-pos-backend/configs"
	"golang-pos-backend/internal/tenant"
)

// requiredSchemaVersion must match the newest migration shipped under
// migrations/. The schema itself is applied by the external migration tool;
// the core only verifies and refuses to start against anything else.
const requiredSchemaVersion = 7

type Database struct {
	Postgres *gorm.DB
}

func NewDatabase(cfg configs.DatabaseConfig) (*Database, error) {
	config := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	db, err := gorm.Open(postgres.Open(cfg.PostgresURL), config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		return nil, err
	}

	d := &Database{Postgres: db}
	if err := d.checkSchemaVersion(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Database) checkSchemaVersion() error {
	var row struct {
		Version int64
		Dirty   bool
	}
	err := d.Postgres.Raw("SELECT version, dirty FROM schema_migrations ORDER BY version DESC LIMIT 1").Scan(&row).Error
	if err != nil {
		return fmt.Errorf("schema version check failed (run migrations first): %w", err)
	}
	if row.Dirty {
		return fmt.Errorf("database schema is dirty at version %d", row.Version)
	}
	if row.Version != requiredSchemaVersion {
		return fmt.Errorf("database schema version %d does not match required %d", row.Version, requiredSchemaVersion)
	}
	return nil
}

type txKey struct{}

// RunInTenantTx executes fn inside a transaction whose first statement binds
// the request's tenant context into transaction-local session variables. The
// row-level security policies reference those variables, so every query in
// fn is scoped to the caller's restaurant. Commit and rollback both discard
// the SET LOCAL values, so nothing leaks when the connection returns to the
// pool.
func (d *Database) RunInTenantTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tc, err := tenant.Require(ctx)
	if err != nil {
		return err
	}
	return d.runBound(ctx, tc, fn)
}

// RunAsSystem executes fn under a synthetic platform-owner context. Used by
// background jobs (intent sweeper, archival) and webhook handlers that act
// without a user request.
func (d *Database) RunAsSystem(ctx context.Context, fn func(ctx context.Context) error) error {
	system := &tenant.Context{
		UserID:          uuid.Nil,
		Email:           "system",
		Role:            "system",
		IsPlatformOwner: true,
	}
	return d.runBound(tenant.NewContext(ctx, system), system, fn)
}

func (d *Database) runBound(ctx context.Context, tc *tenant.Context, fn func(ctx context.Context) error) error {
	return d.Postgres.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Exec(
			`SELECT set_config('app.current_user_id', ?, true),
			        set_config('app.current_user_email', ?, true),
			        set_config('app.current_user_role', ?, true),
			        set_config('app.current_restaurant_id', ?, true),
			        set_config('app.is_platform_owner', ?, true)`,
			tc.UserID.String(), tc.Email, tc.Role, tc.RestaurantIDString(),
			strconv.FormatBool(tc.IsPlatformOwner),
		).Error
		if err != nil {
			return err
		}
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// Conn returns the transaction bound to ctx when running inside
// RunInTenantTx/RunAsSystem, otherwise the base handle. Repositories always
// go through here so multi-repository operations share one transaction.
func (d *Database) Conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return d.Postgres.WithContext(ctx)
}

// Health pings the database; used by the health endpoint.
func (d *Database) Health(ctx context.Context) error {
	sqlDB, err := d.Postgres.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (d *Database) Close() error {
	sqlDB, err := d.Postgres.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
