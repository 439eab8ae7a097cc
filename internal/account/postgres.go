package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store against the shared (public-schema)
// accounts and sessions tables — shared the same way tenant.PostgresStore's
// `tenants` registry is, since an account exists before any tenant
// namespace is provisioned for it.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureRegistry creates the accounts and sessions tables if absent.
func (s *PostgresStore) EnsureRegistry(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			id             text PRIMARY KEY,
			email          text UNIQUE NOT NULL,
			password_hash  text NOT NULL,
			display_name   text NOT NULL,
			email_verified boolean NOT NULL DEFAULT false,
			created_at     timestamptz NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("create accounts table: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS account_sessions (
			token_hash text PRIMARY KEY,
			account_id text NOT NULL REFERENCES accounts(id),
			created_at timestamptz NOT NULL DEFAULT now(),
			expires_at timestamptz NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("create account_sessions table: %w", err)
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_account_sessions_account ON account_sessions (account_id)`)
	return err
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a *Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, email, password_hash, display_name, email_verified, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		a.ID, a.Email, a.PasswordHash, a.DisplayName, a.EmailVerified, a.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	return err
}

func (s *PostgresStore) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	a := &Account{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, display_name, email_verified, created_at
		 FROM accounts WHERE email = $1`, email,
	).Scan(&a.ID, &a.Email, &a.PasswordHash, &a.DisplayName, &a.EmailVerified, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account by email: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) GetAccountByID(ctx context.Context, id string) (*Account, error) {
	a := &Account{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, display_name, email_verified, created_at
		 FROM accounts WHERE id = $1`, id,
	).Scan(&a.ID, &a.Email, &a.PasswordHash, &a.DisplayName, &a.EmailVerified, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account by id: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) SetEmailVerified(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE accounts SET email_verified = true WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess *Session) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO account_sessions (token_hash, account_id, created_at, expires_at) VALUES ($1,$2,$3,$4)`,
		sess.TokenHash, sess.AccountID, sess.CreatedAt, sess.ExpiresAt)
	return err
}

func (s *PostgresStore) GetSession(ctx context.Context, tokenHash string) (*Session, error) {
	sess := &Session{}
	err := s.pool.QueryRow(ctx,
		`SELECT token_hash, account_id, created_at, expires_at FROM account_sessions WHERE token_hash = $1`, tokenHash,
	).Scan(&sess.TokenHash, &sess.AccountID, &sess.CreatedAt, &sess.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, tokenHash string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM account_sessions WHERE token_hash = $1`, tokenHash)
	return err
}

// isUniqueViolation reports whether err is a Postgres unique_violation
// (SQLSTATE 23505), the code returned when a concurrent signup loses the
// race on the accounts.email unique constraint.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
