package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/LeventeLantos/whatsapp-relay/internal/cache"
	"github.com/LeventeLantos/whatsapp-relay/internal/client"
	"github.com/LeventeLantos/whatsapp-relay/internal/metrics"
	"github.com/LeventeLantos/whatsapp-relay/internal/model"
	"github.com/LeventeLantos/whatsapp-relay/internal/phone"
	"github.com/LeventeLantos/whatsapp-relay/internal/repo"
)

// MaxTextLength is the provider's limit for a text body.
const MaxTextLength = 4096

// Provider is the messaging API the relay talks to.
type Provider interface {
	PhoneNumber(ctx context.Context, creds model.Credentials) (*client.PhoneNumberInfo, error)
	SendText(ctx context.Context, creds model.Credentials, to, body string) (string, error)
	SendMediaLink(ctx context.Context, creds model.Credentials, to string, mt model.MessageType, link, caption, filename string) (string, error)
	UploadMedia(ctx context.Context, creds model.Credentials, data []byte, mimeType, filename string) (string, error)
	SendAudio(ctx context.Context, creds model.Credentials, to, mediaID string) (string, error)
	Download(ctx context.Context, url string) ([]byte, string, error)
}

// TaskRunner starts work that outlives the request.
type TaskRunner interface {
	Go(name string, fn func(ctx context.Context)) error
}

type credentialInvalidator interface {
	Invalidate(ctx context.Context, companyID string) error
}

// Outcome is a successful relay answer and the HTTP status it is sent with.
type Outcome struct {
	StatusCode int
	Response   model.SendResponse
}

type Relay struct {
	tenants  repo.TenantRepository
	creds    repo.CredentialRepository
	contacts repo.ContactRepository
	messages repo.MessageRepository
	provider Provider
	tasks    TaskRunner

	sentCache cache.MessageCache
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewRelay(
	tenants repo.TenantRepository,
	creds repo.CredentialRepository,
	contacts repo.ContactRepository,
	messages repo.MessageRepository,
	provider Provider,
	tasks TaskRunner,
) *Relay {
	return &Relay{
		tenants:  tenants,
		creds:    creds,
		contacts: contacts,
		messages: messages,
		provider: provider,
		tasks:    tasks,
		now:      time.Now,
	}
}

func (r *Relay) WithCache(c cache.MessageCache) *Relay {
	r.sentCache = c
	return r
}

func (r *Relay) WithMetrics(m *metrics.Metrics) *Relay {
	r.metrics = m
	return r
}

// Authenticate resolves the company an API token belongs to.
func (r *Relay) Authenticate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrUnauthorized
	}
	companyID, err := r.tenants.CompanyForToken(ctx, token)
	if errors.Is(err, repo.ErrNotFound) {
		return "", ErrUnauthorized
	}
	if err != nil {
		return "", fmt.Errorf("resolve tenant: %w", err)
	}
	return companyID, nil
}

// Handle runs one relay request for the holder of token.
func (r *Relay) Handle(ctx context.Context, token string, req model.SendRequest) (*Outcome, error) {
	companyID, err := r.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}

	creds, err := r.creds.Credentials(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	if req.Action == model.ActionCheckToken {
		configured := creds.Complete()
		return &Outcome{
			StatusCode: http.StatusOK,
			Response:   model.SendResponse{Success: true, TokenConfigured: &configured},
		}, nil
	}
	if !creds.Complete() {
		return nil, ErrMissingCredentials
	}

	switch req.Action {
	case model.ActionTest:
		return r.test(ctx, companyID, creds)
	case "", model.ActionSend:
		return r.send(ctx, companyID, creds, req)
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrValidation, req.Action)
	}
}

func (r *Relay) test(ctx context.Context, companyID string, creds model.Credentials) (*Outcome, error) {
	info, err := r.provider.PhoneNumber(ctx, creds)
	if err != nil {
		r.invalidateOnAuthError(ctx, companyID, err)
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}
	return &Outcome{
		StatusCode: http.StatusOK,
		Response: model.SendResponse{
			Success:            true,
			DisplayPhoneNumber: info.DisplayPhoneNumber,
			VerifiedName:       info.VerifiedName,
		},
	}, nil
}

func (r *Relay) send(ctx context.Context, companyID string, creds model.Credentials, req model.SendRequest) (*Outcome, error) {
	msgType := req.MessageType
	if msgType == "" {
		msgType = model.Text
	}
	if err := validate(msgType, req); err != nil {
		return nil, err
	}

	contact, err := r.resolveContact(ctx, companyID, req)
	if err != nil {
		return nil, err
	}
	to := phone.Normalize(contact.Phone)

	msg := &model.Message{
		CompanyID: companyID,
		ContactID: &contact.ID,
		Content:   messageContent(msgType, req),
		Direction: model.Outbound,
		Status:    model.Pending,
		Type:      msgType,
	}
	if msgType.IsMedia() {
		msg.MediaURL = &req.MediaURL
		if req.MediaFilename != "" {
			msg.MediaFilename = &req.MediaFilename
		}
	}
	if msgType == model.Audio {
		msg.Status = model.Processing
		if req.AudioDuration > 0 {
			d := req.AudioDuration
			msg.AudioDuration = &d
		}
	}

	if err := r.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	if msgType == model.Audio {
		return r.scheduleAudio(ctx, msg, audioDelivery{
			MessageID: msg.ID,
			CompanyID: companyID,
			ContactID: contact.ID,
			To:        to,
			MediaURL:  req.MediaURL,
			Filename:  req.MediaFilename,
			Duration:  req.AudioDuration,
			Creds:     creds,
		})
	}

	var remoteID string
	if msgType == model.Text {
		remoteID, err = r.provider.SendText(ctx, creds, to, req.Content)
	} else {
		remoteID, err = r.provider.SendMediaLink(ctx, creds, to, msgType, req.MediaURL, req.MediaCaption, req.MediaFilename)
	}
	if err != nil {
		slog.Error("provider send failed", "messageID", msg.ID, "type", msgType, "err", err)
		r.invalidateOnAuthError(ctx, companyID, err)
		r.markFailed(ctx, msg.ID, msgType, err.Error())
		return nil, &SendError{MessageID: msg.ID, Err: fmt.Errorf("%w: %w", ErrProvider, err)}
	}

	if err := r.markSent(ctx, msg.ID, contact.ID, msgType, remoteID); err != nil {
		return nil, &SendError{MessageID: msg.ID, Err: err}
	}

	return &Outcome{
		StatusCode: http.StatusOK,
		Response: model.SendResponse{
			Success:           true,
			MessageID:         msg.ID,
			ProviderMessageID: remoteID,
		},
	}, nil
}

func (r *Relay) scheduleAudio(ctx context.Context, msg *model.Message, d audioDelivery) (*Outcome, error) {
	err := r.tasks.Go("audio-delivery "+msg.ID, func(taskCtx context.Context) {
		r.deliverAudio(taskCtx, d)
	})
	if err != nil {
		r.markFailed(ctx, msg.ID, model.Audio, err.Error())
		return nil, &SendError{MessageID: msg.ID, Err: fmt.Errorf("schedule audio delivery: %w", err)}
	}

	return &Outcome{
		StatusCode: http.StatusAccepted,
		Response: model.SendResponse{
			Success:   true,
			MessageID: msg.ID,
			Status:    model.Processing,
		},
	}, nil
}

func validate(msgType model.MessageType, req model.SendRequest) error {
	if !msgType.Valid() {
		return fmt.Errorf("%w: unsupported message_type %q", ErrValidation, msgType)
	}
	if req.ContactID == "" && req.Phone == "" {
		return fmt.Errorf("%w: contact_id or phone is required", ErrValidation)
	}
	if msgType == model.Text {
		if strings.TrimSpace(req.Content) == "" {
			return fmt.Errorf("%w: content is required", ErrValidation)
		}
		if utf8.RuneCountInString(req.Content) > MaxTextLength {
			return fmt.Errorf("%w: content exceeds %d chars", ErrValidation, MaxTextLength)
		}
		return nil
	}
	if req.MediaURL == "" {
		return fmt.Errorf("%w: media_url is required for %s", ErrValidation, msgType)
	}
	if req.AudioDuration < 0 {
		return fmt.Errorf("%w: audio_duration must not be negative", ErrValidation)
	}
	return nil
}

func (r *Relay) resolveContact(ctx context.Context, companyID string, req model.SendRequest) (*model.Contact, error) {
	if req.ContactID != "" {
		c, err := r.contacts.Get(ctx, companyID, req.ContactID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrContactNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("load contact: %w", err)
		}
		return c, nil
	}

	normalized := phone.Normalize(req.Phone)
	if normalized == "" {
		return nil, fmt.Errorf("%w: phone has no digits", ErrValidation)
	}
	c, err := r.contacts.FindOrCreateByPhone(ctx, companyID, normalized)
	if err != nil {
		return nil, fmt.Errorf("resolve contact: %w", err)
	}
	return c, nil
}

func messageContent(msgType model.MessageType, req model.SendRequest) string {
	switch {
	case req.Content != "":
		return req.Content
	case req.MediaCaption != "":
		return req.MediaCaption
	case msgType == model.Audio:
		return "[audio]"
	case req.MediaFilename != "":
		return req.MediaFilename
	default:
		return "[" + string(msgType) + "]"
	}
}

func (r *Relay) markSent(ctx context.Context, messageID, contactID string, msgType model.MessageType, remoteID string) error {
	if err := r.messages.MarkSent(ctx, messageID, remoteID); err != nil {
		slog.Error("mark sent failed", "messageID", messageID, "err", err)
		return fmt.Errorf("mark sent: %w", err)
	}
	r.metrics.MessageDone(string(msgType), string(model.Sent))

	now := r.now()
	if err := r.contacts.TouchLastMessage(ctx, contactID, now); err != nil {
		slog.Warn("touch contact failed", "contactID", contactID, "err", err)
	}
	if r.sentCache != nil {
		if err := r.sentCache.StoreSent(ctx, messageID, remoteID, now); err != nil {
			slog.Warn("redis cache write failed", "messageID", messageID, "err", err)
		}
	}
	return nil
}

func (r *Relay) markFailed(ctx context.Context, messageID string, msgType model.MessageType, reason string) {
	if err := r.messages.MarkFailed(ctx, messageID, reason); err != nil {
		slog.Error("mark failed failed", "messageID", messageID, "err", err)
		return
	}
	r.metrics.MessageDone(string(msgType), string(model.Failed))
}

// invalidateOnAuthError drops cached credentials the provider just refused.
func (r *Relay) invalidateOnAuthError(ctx context.Context, companyID string, err error) {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		return
	}
	inv, ok := r.creds.(credentialInvalidator)
	if !ok {
		return
	}
	if err := inv.Invalidate(ctx, companyID); err != nil {
		slog.Warn("credential cache invalidate failed", "companyID", companyID, "err", err)
	}
}
