package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/whatsapp-relay/internal/model"
)

type PostgresContactRepo struct {
	db *sql.DB
}

func NewPostgresContactRepo(db *sql.DB) *PostgresContactRepo {
	return &PostgresContactRepo{db: db}
}

func (r *PostgresContactRepo) Get(ctx context.Context, companyID, id string) (*model.Contact, error) {
	var (
		c    model.Contact
		last sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, company_id, phone, name, last_message_at, created_at
		FROM contacts
		WHERE id = $1 AND company_id = $2
	`, id, companyID).Scan(&c.ID, &c.CompanyID, &c.Phone, &c.Name, &last, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if last.Valid {
		t := last.Time
		c.LastMessageAt = &t
	}
	return &c, nil
}

// FindOrCreateByPhone returns the company's contact for phone, creating it
// on first use. phone must already be normalized.
func (r *PostgresContactRepo) FindOrCreateByPhone(ctx context.Context, companyID, phone string) (*model.Contact, error) {
	var (
		c    model.Contact
		last sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO contacts (id, company_id, phone, name)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (company_id, phone) DO UPDATE SET phone = EXCLUDED.phone
		RETURNING id, company_id, phone, name, last_message_at, created_at
	`, uuid.NewString(), companyID, phone).Scan(&c.ID, &c.CompanyID, &c.Phone, &c.Name, &last, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if last.Valid {
		t := last.Time
		c.LastMessageAt = &t
	}
	return &c, nil
}

func (r *PostgresContactRepo) TouchLastMessage(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE contacts SET last_message_at = $2 WHERE id = $1
	`, id, at.UTC())
	return err
}

type PostgresTenantRepo struct {
	db *sql.DB
}

func NewPostgresTenantRepo(db *sql.DB) *PostgresTenantRepo {
	return &PostgresTenantRepo{db: db}
}

// CompanyForToken looks the token up by its SHA-256 hash.
func (r *PostgresTenantRepo) CompanyForToken(ctx context.Context, token string) (string, error) {
	var companyID string
	err := r.db.QueryRowContext(ctx, `
		SELECT company_id FROM api_tokens WHERE token_hash = $1
	`, HashToken(token)).Scan(&companyID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return companyID, err
}

func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

type PostgresCredentialRepo struct {
	db *sql.DB
}

func NewPostgresCredentialRepo(db *sql.DB) *PostgresCredentialRepo {
	return &PostgresCredentialRepo{db: db}
}

// Credentials returns the company's provider settings. A company without a
// row gets empty credentials, not an error.
func (r *PostgresCredentialRepo) Credentials(ctx context.Context, companyID string) (model.Credentials, error) {
	var c model.Credentials
	err := r.db.QueryRowContext(ctx, `
		SELECT access_token, phone_number_id FROM whatsapp_credentials WHERE company_id = $1
	`, companyID).Scan(&c.AccessToken, &c.PhoneNumberID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Credentials{}, nil
	}
	return c, err
}
