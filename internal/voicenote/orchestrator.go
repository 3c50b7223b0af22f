// Package voicenote prepares captured voice notes for delivery: it converts
// them to Ogg/Opus when needed, validates the result, uploads it to object
// storage and asks the relay to send it.
package voicenote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/whatsapp-relay/internal/audio"
	"github.com/LeventeLantos/whatsapp-relay/internal/model"
	"github.com/LeventeLantos/whatsapp-relay/internal/transcode"
)

const DefaultTranscodeTimeout = 120 * time.Second

var (
	ErrCanceled         = errors.New("audio processing canceled")
	ErrTranscodeTimeout = errors.New("audio transcode timed out")
	ErrDuplicateJob     = errors.New("audio job already in progress")
)

type Uploader interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) (publicURL string, err error)
}

type Relay interface {
	Send(ctx context.Context, req model.SendRequest) (*model.SendResponse, error)
}

type Result struct {
	TempMessageID string
	Response      *model.SendResponse
	Err           error
}

type Orchestrator struct {
	tc      *transcode.Transcoder
	store   Uploader
	relay   Relay
	timeout time.Duration
	now     func() time.Time
	log     *slog.Logger

	mu   sync.Mutex
	jobs map[string]*jobEntry
}

type jobEntry struct {
	cancel context.CancelFunc
}

type Option func(*Orchestrator)

func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func New(tc *transcode.Transcoder, store Uploader, relay Relay, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		tc:      tc,
		store:   store,
		relay:   relay,
		timeout: DefaultTranscodeTimeout,
		now:     time.Now,
		log:     slog.Default(),
		jobs:    make(map[string]*jobEntry),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit registers the job and runs it in the background. Failures are
// logged; the message status is finalized by the relay.
func (o *Orchestrator) Submit(ctx context.Context, job model.AudioJob) (<-chan Result, error) {
	if job.TempMessageID == "" {
		job.TempMessageID = uuid.NewString()
	}

	ctx, done, err := o.register(ctx, job.TempMessageID)
	if err != nil {
		return nil, err
	}

	out := make(chan Result, 1)
	go func() {
		defer close(out)
		defer done()

		resp, err := o.run(ctx, job)
		if err != nil {
			o.log.Error("audio job failed", "temp_message_id", job.TempMessageID, "error", err)
		}
		out <- Result{TempMessageID: job.TempMessageID, Response: resp, Err: err}
	}()
	return out, nil
}

// Process converts, uploads and relays one voice note, blocking until done.
func (o *Orchestrator) Process(ctx context.Context, job model.AudioJob) (*model.SendResponse, error) {
	if job.TempMessageID == "" {
		job.TempMessageID = uuid.NewString()
	}

	ctx, done, err := o.register(ctx, job.TempMessageID)
	if err != nil {
		return nil, err
	}
	defer done()

	return o.run(ctx, job)
}

func (o *Orchestrator) run(ctx context.Context, job model.AudioJob) (*model.SendResponse, error) {
	data := job.Data
	var info audio.Info

	if audio.IsOgg(job.MimeType) {
		o.log.Debug("ogg input, skipping transcode", "temp_message_id", job.TempMessageID)
		info = audio.Inspect(data)
		if err := audio.ValidateUpload(info); err != nil {
			return nil, err
		}
	} else {
		var err error
		data, err = o.transcode(ctx, job)
		if err != nil {
			return nil, err
		}
		info = audio.Inspect(data)
		if err := audio.ValidateTranscoded(info); err != nil {
			return nil, err
		}
	}

	duration := job.Duration
	if info.Decoded {
		duration = info.Duration
	}

	path, filename := ObjectPath(job.CompanyID, o.now(), "ogg")
	url, err := o.store.Upload(ctx, path, data, audio.OggMIME)
	if err != nil {
		return nil, o.wrapCanceled(ctx, fmt.Errorf("upload audio: %w", err))
	}

	resp, err := o.relay.Send(ctx, model.SendRequest{
		ContactID:     job.ContactID,
		Phone:         job.Phone,
		Action:        model.ActionSend,
		MessageType:   model.Audio,
		MediaURL:      url,
		MediaFilename: filename,
		AudioDuration: duration.Seconds(),
	})
	if err != nil {
		return nil, o.wrapCanceled(ctx, fmt.Errorf("send audio: %w", err))
	}
	return resp, nil
}

// transcode runs the conversion in a dedicated worker. On timeout or
// cancellation the worker is terminated rather than awaited.
func (o *Orchestrator) transcode(ctx context.Context, job model.AudioJob) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	w := transcode.Spawn(o.tc)
	defer w.Terminate()

	if err := w.Post(transcode.Request{
		Type:     transcode.RequestTranscode,
		Input:    job.Data,
		MimeType: job.MimeType,
	}); err != nil {
		return nil, err
	}

	for {
		select {
		case <-ctx.Done():
			return nil, o.wrapCanceled(ctx, ctx.Err())
		case ev := <-w.Events():
			switch ev.Type {
			case transcode.EventProgress:
				o.log.Debug("transcode progress", "temp_message_id", job.TempMessageID, "message", ev.Message)
			case transcode.EventResult:
				return ev.Ogg, nil
			case transcode.EventError:
				return nil, fmt.Errorf("transcode: %w", ev.Err)
			}
		}
	}
}

func (o *Orchestrator) wrapCanceled(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTranscodeTimeout, err)
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %w", ErrCanceled, err)
	default:
		return err
	}
}

// Cancel aborts the job registered under tempMessageID.
func (o *Orchestrator) Cancel(tempMessageID string) bool {
	o.mu.Lock()
	e, ok := o.jobs[tempMessageID]
	delete(o.jobs, tempMessageID)
	o.mu.Unlock()

	if ok {
		e.cancel()
	}
	return ok
}

func (o *Orchestrator) IsProcessing(tempMessageID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.jobs[tempMessageID]
	return ok
}

func (o *Orchestrator) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.jobs)
}

// register adds the job to the registry and returns its context and a func
// that removes exactly this entry.
func (o *Orchestrator) register(ctx context.Context, id string) (context.Context, func(), error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.jobs[id]; ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrDuplicateJob, id)
	}
	ctx, cancel := context.WithCancel(ctx)
	e := &jobEntry{cancel: cancel}
	o.jobs[id] = e

	return ctx, func() {
		o.mu.Lock()
		if o.jobs[id] == e {
			delete(o.jobs, id)
		}
		o.mu.Unlock()
		cancel()
	}, nil
}

// ObjectPath returns "{companyID}/audio/{unixMillis}-{suffix}.{ext}" and the
// bare file name.
func ObjectPath(companyID string, now time.Time, ext string) (path, filename string) {
	suffix := uuid.NewString()[:8]
	filename = fmt.Sprintf("%d-%s.%s", now.UnixMilli(), suffix, ext)
	return companyID + "/audio/" + filename, filename
}
