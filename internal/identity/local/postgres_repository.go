package local

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"todoapp/internal/identity"
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindAccountByEmail looks up an account by its email address.
func (r *PostgresRepository) FindAccountByEmail(ctx context.Context, email string) (*Account, error) {
	const query = `
		SELECT id, email, password_hash, confirmed, email_verified, created_at, updated_at, last_login_at
		FROM accounts
		WHERE email = $1
	`

	var row accountRow
	if err := r.db.GetContext(ctx, &row, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return row.toAccount(), nil
}

// CreateAccount inserts a new account into the database.
func (r *PostgresRepository) CreateAccount(ctx context.Context, account Account) (Account, error) {
	const query = `
		INSERT INTO accounts (id, email, password_hash, confirmed, email_verified, created_at, updated_at, last_login_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		account.ID,
		account.Email,
		account.PasswordHash,
		account.Confirmed,
		account.EmailVerified,
		account.CreatedAt,
		account.UpdatedAt,
		account.LastLoginAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return Account{}, identity.NewError("UsernameExistsException", identity.ErrUsernameExists, "An account with the given email already exists.")
		}
		return Account{}, err
	}

	return account, nil
}

// UpdateAccount writes the mutable account fields.
func (r *PostgresRepository) UpdateAccount(ctx context.Context, account Account) error {
	const query = `
		UPDATE accounts
		SET password_hash = $2, confirmed = $3, email_verified = $4, updated_at = $5, last_login_at = $6
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		account.ID,
		account.PasswordHash,
		account.Confirmed,
		account.EmailVerified,
		account.UpdatedAt,
		account.LastLoginAt,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

// SaveCode upserts the pending code for an account and purpose.
func (r *PostgresRepository) SaveCode(ctx context.Context, code Code) error {
	const query = `
		INSERT INTO account_codes (account_id, purpose, code_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id, purpose)
		DO UPDATE SET code_hash = EXCLUDED.code_hash, expires_at = EXCLUDED.expires_at, created_at = EXCLUDED.created_at
	`

	_, err := r.db.ExecContext(ctx, query, code.AccountID, string(code.Purpose), code.CodeHash, code.ExpiresAt, code.CreatedAt)
	return err
}

// FindCode returns the pending code for an account and purpose.
func (r *PostgresRepository) FindCode(ctx context.Context, accountID uuid.UUID, purpose CodePurpose) (*Code, error) {
	const query = `
		SELECT account_id, purpose, code_hash, expires_at, created_at
		FROM account_codes
		WHERE account_id = $1 AND purpose = $2
	`

	var row codeRow
	if err := r.db.GetContext(ctx, &row, query, accountID, string(purpose)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &Code{
		AccountID: row.AccountID,
		Purpose:   CodePurpose(row.Purpose),
		CodeHash:  row.CodeHash,
		ExpiresAt: row.ExpiresAt,
		CreatedAt: row.CreatedAt,
	}, nil
}

// DeleteCode removes a pending code.
func (r *PostgresRepository) DeleteCode(ctx context.Context, accountID uuid.UUID, purpose CodePurpose) error {
	const query = `DELETE FROM account_codes WHERE account_id = $1 AND purpose = $2`
	_, err := r.db.ExecContext(ctx, query, accountID, string(purpose))
	return err
}

// CreateSession inserts a new session into the database.
func (r *PostgresRepository) CreateSession(ctx context.Context, session Session, tokenHash string) error {
	const query = `
		INSERT INTO account_sessions (id, account_id, session_token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.ExecContext(ctx, query,
		session.ID,
		session.AccountID,
		tokenHash,
		session.ExpiresAt,
		session.CreatedAt,
	)
	return err
}

// FindSessionByTokenHash looks up a session and its account by token hash.
func (r *PostgresRepository) FindSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, *Account, error) {
	const query = `
		SELECT
			s.id, s.account_id, s.expires_at, s.created_at,
			a.email, a.password_hash, a.confirmed, a.email_verified,
			a.created_at AS account_created_at, a.updated_at AS account_updated_at, a.last_login_at
		FROM account_sessions s
		JOIN accounts a ON s.account_id = a.id
		WHERE s.session_token_hash = $1
	`

	var row sessionAccountRow
	if err := r.db.GetContext(ctx, &row, query, tokenHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	return row.toSession(), row.toAccount(), nil
}

// DeleteSession removes a session from the database.
func (r *PostgresRepository) DeleteSession(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM account_sessions WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// DeleteAccountSessions removes every session belonging to an account.
func (r *PostgresRepository) DeleteAccountSessions(ctx context.Context, accountID uuid.UUID) error {
	const query = `DELETE FROM account_sessions WHERE account_id = $1`
	_, err := r.db.ExecContext(ctx, query, accountID)
	return err
}

// DeleteExpired removes all expired sessions and codes.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for _, query := range []string{
		`DELETE FROM account_sessions WHERE expires_at < $1`,
		`DELETE FROM account_codes WHERE expires_at < $1`,
	} {
		result, err := tx.ExecContext(ctx, query, now)
		if err != nil {
			return 0, err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, err
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

// accountRow is a database row representation of Account.
type accountRow struct {
	ID            uuid.UUID    `db:"id"`
	Email         string       `db:"email"`
	PasswordHash  string       `db:"password_hash"`
	Confirmed     bool         `db:"confirmed"`
	EmailVerified bool         `db:"email_verified"`
	CreatedAt     time.Time    `db:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at"`
	LastLoginAt   sql.NullTime `db:"last_login_at"`
}

func (r *accountRow) toAccount() *Account {
	account := &Account{
		ID:            r.ID,
		Email:         r.Email,
		PasswordHash:  r.PasswordHash,
		Confirmed:     r.Confirmed,
		EmailVerified: r.EmailVerified,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.LastLoginAt.Valid {
		t := r.LastLoginAt.Time
		account.LastLoginAt = &t
	}
	return account
}

type codeRow struct {
	AccountID uuid.UUID `db:"account_id"`
	Purpose   string    `db:"purpose"`
	CodeHash  string    `db:"code_hash"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}

// sessionAccountRow is a database row for the session + account join query.
type sessionAccountRow struct {
	// Session fields
	ID        uuid.UUID `db:"id"`
	AccountID uuid.UUID `db:"account_id"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`

	// Account fields
	Email            string       `db:"email"`
	PasswordHash     string       `db:"password_hash"`
	Confirmed        bool         `db:"confirmed"`
	EmailVerified    bool         `db:"email_verified"`
	AccountCreatedAt time.Time    `db:"account_created_at"`
	AccountUpdatedAt time.Time    `db:"account_updated_at"`
	LastLoginAt      sql.NullTime `db:"last_login_at"`
}

func (r *sessionAccountRow) toSession() *Session {
	return &Session{
		ID:        r.ID,
		AccountID: r.AccountID,
		ExpiresAt: r.ExpiresAt,
		CreatedAt: r.CreatedAt,
	}
}

func (r *sessionAccountRow) toAccount() *Account {
	row := accountRow{
		ID:            r.AccountID,
		Email:         r.Email,
		PasswordHash:  r.PasswordHash,
		Confirmed:     r.Confirmed,
		EmailVerified: r.EmailVerified,
		CreatedAt:     r.AccountCreatedAt,
		UpdatedAt:     r.AccountUpdatedAt,
		LastLoginAt:   r.LastLoginAt,
	}
	return row.toAccount()
}
