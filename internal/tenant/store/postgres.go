package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"framelight/internal/sentinel"
	"framelight/internal/tenant/models"
)

// Postgres persists tenants in PostgreSQL.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed tenant store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Create inserts the tenant; the unique index on slug turns races into
// sentinel.ErrConflict.
func (s *Postgres) Create(ctx context.Context, t *models.Tenant) error {
	if t == nil {
		return fmt.Errorf("tenant is required")
	}
	query := `
		INSERT INTO tenants (id, slug, name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		t.ID, strings.ToLower(t.Slug), t.Name, string(t.Status), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("tenant slug must be unique: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("create tenant: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	return s.findOne(ctx, `WHERE id = $1`, id)
}

func (s *Postgres) FindBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	return s.findOne(ctx, `WHERE slug = lower($1)`, slug)
}

// FindByDomain resolves the tenant owning a verified custom domain.
func (s *Postgres) FindByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	return s.findOne(ctx,
		`WHERE id = (SELECT tenant_id FROM tenant_domains WHERE domain = lower($1))`, domain)
}

func (s *Postgres) findOne(ctx context.Context, where string, arg any) (*models.Tenant, error) {
	query := `SELECT id, slug, name, status, created_at, updated_at FROM tenants ` + where
	row := s.db.QueryRowContext(ctx, query, arg)

	var t models.Tenant
	var status string
	if err := row.Scan(&t.ID, &t.Slug, &t.Name, &status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find tenant: %w", err)
	}
	t.Status = models.TenantStatus(status)

	domains, err := s.domainsFor(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	t.CustomDomains = domains
	return &t, nil
}

func (s *Postgres) domainsFor(ctx context.Context, id uuid.UUID) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT domain FROM tenant_domains WHERE tenant_id = $1 ORDER BY domain`, id)
	if err != nil {
		return nil, fmt.Errorf("load tenant domains: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var domains []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan tenant domain: %w", err)
		}
		domains = append(domains, d)
	}
	return domains, rows.Err()
}

// ActivateIfPending performs the single atomic conditional update that makes
// concurrent double-finalization impossible: the status guard is part of the
// UPDATE itself, and the loser observes zero rows affected.
func (s *Postgres) ActivateIfPending(ctx context.Context, id uuid.UUID, name string) (bool, error) {
	query := `
		UPDATE tenants
		SET status = $2, name = COALESCE(NULLIF($3, ''), name), updated_at = $4
		WHERE id = $1 AND status = $5
	`
	res, err := s.db.ExecContext(ctx, query,
		id, string(models.TenantStatusActive), name, time.Now(), string(models.TenantStatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("activate tenant: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("activate tenant rows: %w", err)
	}
	if rows > 0 {
		return true, nil
	}
	// Distinguish "lost the race" from "no such tenant".
	if _, err := s.FindByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Postgres) AttachDomain(ctx context.Context, id uuid.UUID, domain string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenant_domains (tenant_id, domain) VALUES ($1, lower($2))`, id, domain)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("domain already attached: %w", sentinel.ErrConflict)
		}
		if isForeignKeyViolation(err) {
			return sentinel.ErrNotFound
		}
		return fmt.Errorf("attach domain: %w", err)
	}
	return nil
}

func (s *Postgres) DetachDomain(ctx context.Context, id uuid.UUID, domain string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM tenant_domains WHERE tenant_id = $1 AND domain = lower($2)`, id, domain)
	if err != nil {
		return fmt.Errorf("detach domain: %w", err)
	}
	return nil
}

// Delete removes the tenant row; identity rows cascade via foreign keys.
func (s *Postgres) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete tenant: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete tenant rows: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
