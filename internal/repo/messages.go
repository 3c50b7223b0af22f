package repo

import (
	"context"
	"errors"
	"time"

	"github.com/LeventeLantos/whatsapp-relay/internal/model"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// MessageRepository persists message records. Status updates never move a
// record out of sent or failed; such attempts return ErrInvalidTransition.
type MessageRepository interface {
	Create(ctx context.Context, m *model.Message) error
	Get(ctx context.Context, companyID, id string) (*model.Message, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkSent(ctx context.Context, id string, remoteMessageID string) error
	MarkFailed(ctx context.Context, id string, reason string) error
	ListSent(ctx context.Context, companyID string, limit, offset int) ([]model.Message, error)
	FailStale(ctx context.Context, olderThan time.Time) (int64, error)
}

type ContactRepository interface {
	Get(ctx context.Context, companyID, id string) (*model.Contact, error)
	FindOrCreateByPhone(ctx context.Context, companyID, phone string) (*model.Contact, error)
	TouchLastMessage(ctx context.Context, id string, at time.Time) error
}

// TenantRepository maps an API token to the company it acts for.
type TenantRepository interface {
	CompanyForToken(ctx context.Context, token string) (string, error)
}

type CredentialRepository interface {
	Credentials(ctx context.Context, companyID string) (model.Credentials, error)
}
