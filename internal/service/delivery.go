package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/LeventeLantos/whatsapp-relay/internal/audio"
	"github.com/LeventeLantos/whatsapp-relay/internal/model"
	"github.com/LeventeLantos/whatsapp-relay/internal/repo"
)

const (
	// MinDeliveryDuration is the shortest voice note the relay forwards.
	MinDeliveryDuration = time.Second

	statusWriteTimeout = 10 * time.Second
	defaultAudioName   = "audio.ogg"
)

type audioDelivery struct {
	MessageID string
	CompanyID string
	ContactID string
	To        string
	MediaURL  string
	Filename  string
	Duration  float64
	Creds     model.Credentials
}

// deliverAudio runs detached from the request that created the message. Any
// failing step ends in a single failed update; nothing is retried.
func (r *Relay) deliverAudio(ctx context.Context, d audioDelivery) {
	start := r.now()
	log := slog.With("messageID", d.MessageID, "companyID", d.CompanyID)

	remoteID, err := r.deliver(ctx, log, d)

	// Final status writes must land even when shutdown cancels ctx.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()

	if errors.Is(err, repo.ErrInvalidTransition) || errors.Is(err, repo.ErrNotFound) {
		log.Warn("audio delivery skipped", "err", err)
		return
	}
	if err != nil {
		log.Error("audio delivery failed", "err", err)
		r.markFailed(writeCtx, d.MessageID, model.Audio, err.Error())
		return
	}

	if err := r.markSent(writeCtx, d.MessageID, d.ContactID, model.Audio, remoteID); err != nil {
		return
	}
	if r.metrics != nil {
		r.metrics.AudioDeliverySeconds.Observe(r.now().Sub(start).Seconds())
	}
	log.Info("audio delivered", "remoteMessageID", remoteID, "duration_ms", r.now().Sub(start).Milliseconds())
}

func (r *Relay) deliver(ctx context.Context, log *slog.Logger, d audioDelivery) (string, error) {
	if err := r.messages.MarkProcessing(ctx, d.MessageID); err != nil {
		return "", fmt.Errorf("reassert processing: %w", err)
	}

	// Zero means the client could not measure the note; only known lengths are checked.
	if d.Duration > 0 && time.Duration(d.Duration*float64(time.Second)) < MinDeliveryDuration {
		return "", fmt.Errorf("%w: got %.2fs", ErrAudioTooShort, d.Duration)
	}

	data, contentType, err := r.provider.Download(ctx, d.MediaURL)
	if err != nil {
		return "", fmt.Errorf("download audio: %w", err)
	}

	mimeType, exact := audio.DeliveryMIME(contentType)
	if !exact {
		log.Warn("audio is not audio/ogg, provider may reject it", "contentType", contentType, "resolved", mimeType)
	}

	filename := d.Filename
	if filename == "" {
		filename = defaultAudioName
	}

	mediaID, err := r.provider.UploadMedia(ctx, d.Creds, data, mimeType, filename)
	if err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}

	remoteID, err := r.provider.SendAudio(ctx, d.Creds, d.To, mediaID)
	if err != nil {
		return "", fmt.Errorf("send audio: %w", err)
	}
	return remoteID, nil
}
