package tenantscope

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/eventstack/identity/pkg/database"
)

// WithScope runs fn inside a transaction whose connection carries the scope
// as transaction-local settings. Row-level security policies read them back
// through app_current_tenant_id() and app_is_system_admin(), so every query
// fn issues is filtered at the storage boundary.
//
// set_config(..., true) is transaction-local: commit and rollback both clear
// the markers, so a pooled connection can never leak one request's tenant
// into the next.
func WithScope(ctx context.Context, db database.DBTX, scope Scope, fn func(tx pgx.Tx) error) error {
	if !scope.Resolved() {
		return fmt.Errorf("scoped transaction without a resolved scope")
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin scoped transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tenantID := ""
	if scope.TenantID != uuid.Nil {
		tenantID = scope.TenantID.String()
	}

	if _, err := tx.Exec(ctx,
		`SELECT set_config('app.tenant_id', $1, true), set_config('app.is_system_admin', $2, true)`,
		tenantID,
		fmt.Sprintf("%t", scope.SystemAdmin),
	); err != nil {
		return fmt.Errorf("set tenant scope: %w", err)
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit scoped transaction: %w", err)
	}

	return nil
}
