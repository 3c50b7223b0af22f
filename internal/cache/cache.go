package cache

import (
	"context"
	"time"

	"github.com/LeventeLantos/whatsapp-relay/internal/model"
)

type MessageCache interface {
	StoreSent(ctx context.Context, messageID string, remoteMessageID string, sentAt time.Time) error
}

// CredentialSource is the backing store a CredentialCache reads through to.
type CredentialSource interface {
	Credentials(ctx context.Context, companyID string) (model.Credentials, error)
}
