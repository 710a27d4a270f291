// Package postgres is a PostgreSQL AccountStore. Single-row state changes
// are conditional UPDATE or DELETE statements, so the "did this call change
// state" results the engine relies on hold across concurrent servers.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	goReauth "github.com/MrEthical07/goReauth"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// ErrDuplicateIdentifier is returned by CreateUser when the username or email
// is already taken.
var ErrDuplicateIdentifier = errors.New("identifier already in use")

type Store struct {
	db *sql.DB
}

var _ goReauth.AccountStore = (*Store)(nil)

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects through the pgx database/sql driver and checks the
// connection.
func Open(ctx context.Context, dsn string, maxOpenConns int) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return db, nil
}

func (s *Store) CreateUser(ctx context.Context, username, email, passwordHash string) (int64, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" {
		return 0, goReauth.ErrInvalidRequest
	}
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO accounts (username, email, password_hash) VALUES ($1, $2, $3) RETURNING id`,
		username, email, passwordHash,
	).Scan(&id)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return 0, ErrDuplicateIdentifier
		}
		return 0, fmt.Errorf("postgres: create user: %w", err)
	}
	return id, nil
}

const selectAccount = `SELECT id, username, email, password_hash, totp_secret, totp_pending_secret, totp_enabled, totp_last_counter FROM accounts`

func (s *Store) GetUserByID(ctx context.Context, userID int64) (*goReauth.UserRecord, error) {
	return s.load(ctx, s.db.QueryRowContext(ctx, selectAccount+` WHERE id = $1`, userID))
}

// GetUserByIdentifier matches username or email, case-insensitively.
func (s *Store) GetUserByIdentifier(ctx context.Context, identifier string) (*goReauth.UserRecord, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, goReauth.ErrUserNotFound
	}
	return s.load(ctx, s.db.QueryRowContext(ctx,
		selectAccount+` WHERE lower(username) = lower($1) OR (email <> '' AND lower(email) = lower($1)) LIMIT 1`,
		identifier))
}

func (s *Store) load(ctx context.Context, row *sql.Row) (*goReauth.UserRecord, error) {
	u := &goReauth.UserRecord{}
	err := row.Scan(&u.UserID, &u.Username, &u.Email, &u.PasswordHash,
		&u.TOTPSecret, &u.TOTPPendingSecret, &u.TOTPEnabled, &u.TOTPLastCounter)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, goReauth.ErrUserNotFound
		}
		return nil, fmt.Errorf("postgres: read account: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM backup_codes WHERE account_id = $1`, u.UserID,
	).Scan(&u.BackupCodesRemaining); err != nil {
		return nil, fmt.Errorf("postgres: count backup codes: %w", err)
	}
	if u.LinkedProviders, err = s.providers(ctx, u.UserID); err != nil {
		return nil, err
	}
	if u.Passkeys, err = s.passkeys(ctx, u.UserID); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) providers(ctx context.Context, userID int64) ([]goReauth.LinkedProvider, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, external_id, email, linked_at FROM linked_providers WHERE account_id = $1 ORDER BY linked_at`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: read providers: %w", err)
	}
	defer rows.Close()

	var out []goReauth.LinkedProvider
	for rows.Next() {
		var p goReauth.LinkedProvider
		if err := rows.Scan(&p.Provider, &p.ExternalID, &p.Email, &p.LinkedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan provider: %w", err)
		}
		p.LinkedAt = p.LinkedAt.UTC()
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: read providers: %w", err)
	}
	return out, nil
}

func (s *Store) passkeys(ctx context.Context, userID int64) ([]goReauth.PasskeyCredential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, public_key, created_at FROM passkeys WHERE account_id = $1 ORDER BY created_at, id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: read passkeys: %w", err)
	}
	defer rows.Close()

	var out []goReauth.PasskeyCredential
	for rows.Next() {
		var c goReauth.PasskeyCredential
		if err := rows.Scan(&c.ID, &c.Name, &c.PublicKey, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan passkey: %w", err)
		}
		c.CreatedAt = c.CreatedAt.UTC()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: read passkeys: %w", err)
	}
	return out, nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, userID int64, hash string) error {
	return s.updateOne(ctx, "update password",
		`UPDATE accounts SET password_hash = $2 WHERE id = $1`, userID, hash)
}

func (s *Store) SetPendingTOTPSecret(ctx context.Context, userID int64, secret string) error {
	return s.updateOne(ctx, "set pending totp",
		`UPDATE accounts SET totp_pending_secret = $2 WHERE id = $1`, userID, secret)
}

// EnableTOTP promotes the pending secret and replaces the backup codes in one
// transaction. The update matches only while the pending secret is still the
// one the caller verified.
func (s *Store) EnableTOTP(ctx context.Context, userID int64, secret string, counter int64, backupHashes [][32]byte) error {
	if secret == "" {
		return goReauth.ErrTOTPNotPending
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE accounts SET totp_secret = totp_pending_secret, totp_pending_secret = '', totp_enabled = TRUE, totp_last_counter = $2 WHERE id = $1 AND totp_pending_secret = $3`,
			userID, counter, secret)
		if err != nil {
			return fmt.Errorf("postgres: enable totp: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("postgres: enable totp: %w", err)
		} else if n == 0 {
			exists, err := s.exists(ctx, tx, userID)
			if err != nil {
				return err
			}
			if !exists {
				return goReauth.ErrUserNotFound
			}
			return goReauth.ErrTOTPNotPending
		}
		return replaceBackups(ctx, tx, userID, backupHashes)
	})
}

func (s *Store) DisableTOTP(ctx context.Context, userID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE accounts SET totp_secret = '', totp_pending_secret = '', totp_enabled = FALSE, totp_last_counter = 0 WHERE id = $1`,
			userID)
		if err := affectedOne(res, err, "disable totp"); err != nil {
			return err
		}
		return replaceBackups(ctx, tx, userID, nil)
	})
}

// AdvanceTOTPCounter succeeds only for a strictly greater counter. A missing
// account also reports false; the engine has loaded it just before.
func (s *Store) AdvanceTOTPCounter(ctx context.Context, userID int64, counter int64) (bool, error) {
	return s.changed(ctx, "advance totp counter",
		`UPDATE accounts SET totp_last_counter = $2 WHERE id = $1 AND totp_last_counter < $2`, userID, counter)
}

func (s *Store) ReplaceBackupCodes(ctx context.Context, userID int64, hashes [][32]byte) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		exists, err := s.exists(ctx, tx, userID)
		if err != nil {
			return err
		}
		if !exists {
			return goReauth.ErrUserNotFound
		}
		return replaceBackups(ctx, tx, userID, hashes)
	})
}

func (s *Store) ConsumeBackupCode(ctx context.Context, userID int64, hash [32]byte) (bool, error) {
	return s.changed(ctx, "consume backup code",
		`DELETE FROM backup_codes WHERE account_id = $1 AND code_hash = $2`, userID, hash[:])
}

func (s *Store) LinkProvider(ctx context.Context, userID int64, link goReauth.LinkedProvider) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO linked_providers (account_id, provider, external_id, email, linked_at) VALUES ($1, $2, $3, $4, $5)`,
		userID, link.Provider, link.ExternalID, link.Email, link.LinkedAt.UTC())
	switch pgCode(err) {
	case "":
		if err != nil {
			return fmt.Errorf("postgres: link provider: %w", err)
		}
		return nil
	case pgUniqueViolation:
		return goReauth.ErrProviderAlreadyLinked
	case pgForeignKeyViolation:
		return goReauth.ErrUserNotFound
	default:
		return fmt.Errorf("postgres: link provider: %w", err)
	}
}

func (s *Store) UnlinkProvider(ctx context.Context, userID int64, provider string) (bool, error) {
	return s.changed(ctx, "unlink provider",
		`DELETE FROM linked_providers WHERE account_id = $1 AND provider = $2`, userID, provider)
}

func (s *Store) AddPasskey(ctx context.Context, userID int64, cred goReauth.PasskeyCredential) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO passkeys (id, account_id, name, public_key, created_at) VALUES ($1, $2, $3, $4, $5)`,
		cred.ID, userID, cred.Name, cred.PublicKey, cred.CreatedAt.UTC())
	if pgCode(err) == pgForeignKeyViolation {
		return goReauth.ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("postgres: add passkey: %w", err)
	}
	return nil
}

func (s *Store) RemovePasskey(ctx context.Context, userID int64, credentialID string) (bool, error) {
	return s.changed(ctx, "remove passkey",
		`DELETE FROM passkeys WHERE account_id = $1 AND id = $2`, userID, credentialID)
}

func (s *Store) updateOne(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	return affectedOne(res, err, op)
}

// changed runs a conditional statement and reports whether it touched a row.
func (s *Store) changed(ctx context.Context, op, query string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("postgres: %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: %s: %w", op, err)
	}
	return n > 0, nil
}

func (s *Store) exists(ctx context.Context, tx *sql.Tx, userID int64) (bool, error) {
	var ok bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("postgres: account lookup: %w", err)
	}
	return ok, nil
}

// withTx commits when fn succeeds and rolls back otherwise.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func replaceBackups(ctx context.Context, tx *sql.Tx, userID int64, hashes [][32]byte) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM backup_codes WHERE account_id = $1`, userID); err != nil {
		return fmt.Errorf("postgres: clear backup codes: %w", err)
	}
	for _, h := range hashes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO backup_codes (account_id, code_hash) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			userID, h[:]); err != nil {
			return fmt.Errorf("postgres: store backup code: %w", err)
		}
	}
	return nil
}

func affectedOne(res sql.Result, err error, op string) error {
	if err != nil {
		return fmt.Errorf("postgres: %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: %s: %w", op, err)
	}
	if n == 0 {
		return goReauth.ErrUserNotFound
	}
	return nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
