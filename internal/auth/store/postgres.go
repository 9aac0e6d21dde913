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

	"framelight/internal/auth/models"
	"framelight/internal/sentinel"
)

// Postgres implements Adapter on PostgreSQL.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) CreateUser(ctx context.Context, u *models.User) error {
	query := `
		INSERT INTO users (id, tenant_id, email, name, password_hash, role, created_at, updated_at)
		VALUES ($1, $2, lower($3), $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		u.ID, u.TenantID, u.Email, u.Name, u.PasswordHash, u.Role, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if pgUniqueViolation(err) {
			return fmt.Errorf("email already registered in tenant: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *Postgres) FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, email, name, password_hash, role, created_at, updated_at
		 FROM users WHERE id = $1`, id))
}

func (s *Postgres) FindUserByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*models.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, email, name, password_hash, role, created_at, updated_at
		 FROM users WHERE tenant_id = $1 AND email = lower($2)`, tenantID, strings.TrimSpace(email)))
}

func (s *Postgres) scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &u, nil
}

func (s *Postgres) UpdateUserRole(ctx context.Context, id uuid.UUID, role string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET role = $2, updated_at = $3 WHERE id = $1`, id, role, time.Now())
	if err != nil {
		return fmt.Errorf("update user role: %w", err)
	}
	return requireRow(res, "update user role")
}

func (s *Postgres) DeleteUser(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return requireRow(res, "delete user")
}

func (s *Postgres) CreateAccount(ctx context.Context, a *models.Account) error {
	query := `
		INSERT INTO accounts (id, user_id, tenant_id, provider, provider_account_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.UserID, a.TenantID, a.Provider, a.ProviderAccountID, a.CreatedAt)
	if err != nil {
		if pgUniqueViolation(err) {
			return fmt.Errorf("account already linked: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (s *Postgres) FindAccount(ctx context.Context, tenantID uuid.UUID, provider, providerAccountID string) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, tenant_id, provider, provider_account_id, created_at
		 FROM accounts WHERE tenant_id = $1 AND provider = $2 AND provider_account_id = $3`,
		tenantID, provider, providerAccountID)
	var a models.Account
	err := row.Scan(&a.ID, &a.UserID, &a.TenantID, &a.Provider, &a.ProviderAccountID, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find account: %w", err)
	}
	return &a, nil
}

func (s *Postgres) CreateSession(ctx context.Context, sess *models.Session) error {
	query := `
		INSERT INTO sessions (id, user_id, tenant_id, device_fingerprint, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		sess.ID, sess.UserID, sess.TenantID, sess.DeviceFingerprint, sess.ExpiresAt, sess.CreatedAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *Postgres) FindSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, tenant_id, device_fingerprint, expires_at, created_at
		 FROM sessions WHERE id = $1`, id)
	var sess models.Session
	err := row.Scan(&sess.ID, &sess.UserID, &sess.TenantID, &sess.DeviceFingerprint, &sess.ExpiresAt, &sess.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	return &sess, nil
}

func (s *Postgres) DeleteSession(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return requireRow(res, "delete session")
}

func (s *Postgres) DeleteSessionsByUser(ctx context.Context, userID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete sessions by user: %w", err)
	}
	return nil
}

func (s *Postgres) CreateVerification(ctx context.Context, v *models.Verification) error {
	query := `
		INSERT INTO verifications (id, tenant_id, identifier, value, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		v.ID, v.TenantID, v.Identifier, v.Value, v.ExpiresAt, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("create verification: %w", err)
	}
	return nil
}

// ConsumeVerification deletes and returns the record in one statement so a
// value can be redeemed at most once even under concurrent callbacks.
func (s *Postgres) ConsumeVerification(ctx context.Context, identifier, value string) (*models.Verification, error) {
	row := s.db.QueryRowContext(ctx, `
		DELETE FROM verifications
		WHERE identifier = $1 AND value = $2
		RETURNING id, tenant_id, identifier, value, expires_at, created_at
	`, identifier, value)
	var v models.Verification
	err := row.Scan(&v.ID, &v.TenantID, &v.Identifier, &v.Value, &v.ExpiresAt, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("consume verification: %w", err)
	}
	if time.Now().After(v.ExpiresAt) {
		return nil, sentinel.ErrExpired
	}
	return &v, nil
}

func requireRow(res sql.Result, op string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func pgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
