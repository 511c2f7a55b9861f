// Package directory resolves projects, users and linked wallets from the
// platform database. These tables are owned by the project-management and
// account domains; the ledger only reads them.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"karbon/internal/credit/service"
	id "karbon/pkg/domain"
	"karbon/pkg/platform/sentinel"
)

// Directory is the postgres-backed lookup implementation.
type Directory struct {
	db *sql.DB
}

// New creates a Directory over the shared database pool.
func New(db *sql.DB) *Directory {
	return &Directory{db: db}
}

// FindByID returns a project or sentinel.ErrNotFound.
func (d *Directory) FindByID(ctx context.Context, projectID id.ProjectID) (*service.Project, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, name, developer_id, verified, emissions_target, created_at
		FROM projects WHERE id = $1`, projectID.String())

	var (
		p             service.Project
		rawID, rawDev string
		target        decimal.Decimal
	)
	if err := row.Scan(&rawID, &p.Name, &rawDev, &p.Verified, &target, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find project: %w", err)
	}
	pid, err := id.ParseProjectID(rawID)
	if err != nil {
		return nil, fmt.Errorf("project row %s: %w", rawID, err)
	}
	dev, err := id.ParseUserID(rawDev)
	if err != nil {
		return nil, fmt.Errorf("project row %s developer: %w", rawID, err)
	}
	p.ID = pid
	p.DeveloperID = dev
	p.EmissionsTarget = target
	return &p, nil
}

// CountCreatedBefore counts projects created strictly before the instant.
func (d *Directory) CountCreatedBefore(ctx context.Context, createdAt time.Time) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM projects WHERE created_at < $1`, createdAt).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count projects: %w", err)
	}
	return n, nil
}

// Exists reports whether the user account exists.
func (d *Directory) Exists(ctx context.Context, userID id.UserID) (bool, error) {
	var ok bool
	err := d.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID.String()).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check user: %w", err)
	}
	return ok, nil
}

// FindAddressByUser returns the user's linked chain address or
// sentinel.ErrNotFound when no wallet is linked.
func (d *Directory) FindAddressByUser(ctx context.Context, userID id.UserID) (string, error) {
	var address string
	err := d.db.QueryRowContext(ctx,
		`SELECT address FROM wallets WHERE user_id = $1`, userID.String()).Scan(&address)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", sentinel.ErrNotFound
		}
		return "", fmt.Errorf("find wallet: %w", err)
	}
	return address, nil
}

var (
	_ service.ProjectRepository = (*Directory)(nil)
	_ service.UserRepository    = (*Directory)(nil)
	_ service.WalletRepository  = (*Directory)(nil)
)
