package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/whatsapp-relay/internal/model"
)

type PostgresMessageRepo struct {
	db *sql.DB
}

func NewPostgresMessageRepo(db *sql.DB) *PostgresMessageRepo {
	return &PostgresMessageRepo{db: db}
}

const messageColumns = `
	id, company_id, contact_id, content, direction, status, message_type,
	media_url, media_filename, audio_duration, remote_message_id, last_error,
	sent_at, created_at, updated_at`

func (r *PostgresMessageRepo) Create(ctx context.Context, m *model.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Direction == "" {
		m.Direction = model.Outbound
	}
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, company_id, contact_id, content, direction, status, message_type,
		                      media_url, media_filename, audio_duration, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
	`, m.ID, m.CompanyID, m.ContactID, m.Content, string(m.Direction), string(m.Status), string(m.Type),
		m.MediaURL, m.MediaFilename, m.AudioDuration, now)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *PostgresMessageRepo) Get(ctx context.Context, companyID, id string) (*model.Message, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE id = $1 AND company_id = $2
	`, id, companyID)

	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

func (r *PostgresMessageRepo) MarkProcessing(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET status = 'processing', updated_at = now()
		WHERE id = $1 AND status = ANY($2)
	`, id, transitionSources(model.Processing))
	return r.guarded(ctx, res, err, id)
}

func (r *PostgresMessageRepo) MarkSent(ctx context.Context, id string, remoteMessageID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET status = 'sent',
		    sent_at = now(),
		    remote_message_id = $2,
		    updated_at = now()
		WHERE id = $1 AND status = ANY($3)
	`, id, remoteMessageID, transitionSources(model.Sent))
	return r.guarded(ctx, res, err, id)
}

func (r *PostgresMessageRepo) MarkFailed(ctx context.Context, id string, reason string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET status = 'failed',
		    last_error = $2,
		    updated_at = now()
		WHERE id = $1 AND status = ANY($3)
	`, id, reason, transitionSources(model.Failed))
	return r.guarded(ctx, res, err, id)
}

// transitionSources lists the statuses a record may leave for to.
func transitionSources(to model.Status) []string {
	var from []string
	for _, s := range []model.Status{model.Pending, model.Processing, model.Sent, model.Failed} {
		if s.CanTransition(to) {
			from = append(from, string(s))
		}
	}
	return from
}

// guarded turns a zero-row status update into ErrNotFound or
// ErrInvalidTransition.
func (r *PostgresMessageRepo) guarded(ctx context.Context, res sql.Result, err error, id string) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var status string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM messages WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: message %s is %s", ErrInvalidTransition, id, status)
}

func (r *PostgresMessageRepo) ListSent(ctx context.Context, companyID string, limit, offset int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE company_id = $1 AND status = 'sent'
		ORDER BY sent_at DESC
		LIMIT $2 OFFSET $3
	`, companyID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// FailStale marks processing records untouched since olderThan as failed.
// Those belong to delivery tasks lost to a restart.
func (r *PostgresMessageRepo) FailStale(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET status = 'failed',
		    last_error = 'delivery interrupted',
		    updated_at = now()
		WHERE status = 'processing' AND updated_at < $1
	`, olderThan.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*model.Message, error) {
	var (
		m             model.Message
		contactID     sql.NullString
		direction     string
		status        string
		msgType       string
		mediaURL      sql.NullString
		mediaFilename sql.NullString
		duration      sql.NullFloat64
		remoteID      sql.NullString
		lastErr       sql.NullString
		sentAt        sql.NullTime
	)

	if err := row.Scan(
		&m.ID,
		&m.CompanyID,
		&contactID,
		&m.Content,
		&direction,
		&status,
		&msgType,
		&mediaURL,
		&mediaFilename,
		&duration,
		&remoteID,
		&lastErr,
		&sentAt,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return nil, err
	}

	m.Direction = model.Direction(direction)
	m.Status = model.Status(status)
	m.Type = model.MessageType(msgType)
	m.ContactID = nullString(contactID)
	m.MediaURL = nullString(mediaURL)
	m.MediaFilename = nullString(mediaFilename)
	m.ProviderMessageID = nullString(remoteID)
	m.LastError = nullString(lastErr)
	if duration.Valid {
		d := duration.Float64
		m.AudioDuration = &d
	}
	if sentAt.Valid {
		t := sentAt.Time
		m.SentAt = &t
	}
	return &m, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
