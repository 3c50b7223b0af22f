package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/LeventeLantos/whatsapp-relay/internal/background"
	"github.com/LeventeLantos/whatsapp-relay/internal/client"
	"github.com/LeventeLantos/whatsapp-relay/internal/model"
	"github.com/LeventeLantos/whatsapp-relay/internal/repo"
)

const (
	testToken   = "secret-token"
	testCompany = "company-1"
)

type fakeTenants struct{}

func (fakeTenants) CompanyForToken(ctx context.Context, token string) (string, error) {
	if token == testToken {
		return testCompany, nil
	}
	return "", repo.ErrNotFound
}

type fakeCreds struct {
	creds       model.Credentials
	invalidated int
}

func (f *fakeCreds) Credentials(ctx context.Context, companyID string) (model.Credentials, error) {
	return f.creds, nil
}

func (f *fakeCreds) Invalidate(ctx context.Context, companyID string) error {
	f.invalidated++
	return nil
}

type fakeContacts struct {
	mu      sync.Mutex
	byPhone map[string]*model.Contact
	byID    map[string]*model.Contact
	touched map[string]time.Time
}

func newFakeContacts() *fakeContacts {
	return &fakeContacts{
		byPhone: map[string]*model.Contact{},
		byID:    map[string]*model.Contact{},
		touched: map[string]time.Time{},
	}
}

func (f *fakeContacts) Get(ctx context.Context, companyID, id string) (*model.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[id]
	if !ok || c.CompanyID != companyID {
		return nil, repo.ErrNotFound
	}
	return c, nil
}

func (f *fakeContacts) FindOrCreateByPhone(ctx context.Context, companyID, phone string) (*model.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.byPhone[phone]; ok {
		return c, nil
	}
	c := &model.Contact{ID: "contact-" + phone, CompanyID: companyID, Phone: phone}
	f.byPhone[phone] = c
	f.byID[c.ID] = c
	return c, nil
}

func (f *fakeContacts) TouchLastMessage(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched[id] = at
	return nil
}

// fakeMessages enforces the same status rule as the Postgres repo and keeps
// every status a record went through.
type fakeMessages struct {
	mu      sync.Mutex
	seq     int
	records map[string]*model.Message
	history map[string][]model.Status
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{records: map[string]*model.Message{}, history: map[string][]model.Status{}}
}

func (f *fakeMessages) Create(ctx context.Context, m *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	m.ID = fmt.Sprintf("msg-%d", f.seq)
	cp := *m
	f.records[m.ID] = &cp
	f.history[m.ID] = []model.Status{m.Status}
	return nil
}

func (f *fakeMessages) Get(ctx context.Context, companyID, id string) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.records[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeMessages) transition(id string, next model.Status, apply func(m *model.Message)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.records[id]
	if !ok {
		return repo.ErrNotFound
	}
	if !m.Status.CanTransition(next) {
		return repo.ErrInvalidTransition
	}
	m.Status = next
	if apply != nil {
		apply(m)
	}
	f.history[id] = append(f.history[id], next)
	return nil
}

func (f *fakeMessages) MarkProcessing(ctx context.Context, id string) error {
	return f.transition(id, model.Processing, nil)
}

func (f *fakeMessages) MarkSent(ctx context.Context, id string, remoteID string) error {
	return f.transition(id, model.Sent, func(m *model.Message) { m.ProviderMessageID = &remoteID })
}

func (f *fakeMessages) MarkFailed(ctx context.Context, id string, reason string) error {
	return f.transition(id, model.Failed, func(m *model.Message) { m.LastError = &reason })
}

func (f *fakeMessages) ListSent(ctx context.Context, companyID string, limit, offset int) ([]model.Message, error) {
	return nil, nil
}

func (f *fakeMessages) FailStale(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeMessages) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func (f *fakeMessages) status(id string) model.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[id].Status
}

func (f *fakeMessages) statuses(id string) []model.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Status(nil), f.history[id]...)
}

type fakeProvider struct {
	mu sync.Mutex

	phoneErr error
	sendErr  error

	downloadData []byte
	downloadType string
	downloadErr  error

	uploadGate chan struct{}
	uploadErr  error
	uploadMIME string

	audioErr error

	sentTo   []string
	sentLink string
}

func (f *fakeProvider) PhoneNumber(ctx context.Context, creds model.Credentials) (*client.PhoneNumberInfo, error) {
	if f.phoneErr != nil {
		return nil, f.phoneErr
	}
	return &client.PhoneNumberInfo{DisplayPhoneNumber: "+55 11 4000-0000", VerifiedName: "Acme"}, nil
}

func (f *fakeProvider) SendText(ctx context.Context, creds model.Credentials, to, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentTo = append(f.sentTo, to)
	return "wamid.text", f.sendErr
}

func (f *fakeProvider) SendMediaLink(ctx context.Context, creds model.Credentials, to string, mt model.MessageType, link, caption, filename string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentTo = append(f.sentTo, to)
	f.sentLink = link
	return "wamid.media", f.sendErr
}

func (f *fakeProvider) UploadMedia(ctx context.Context, creds model.Credentials, data []byte, mimeType, filename string) (string, error) {
	if f.uploadGate != nil {
		<-f.uploadGate
	}
	f.mu.Lock()
	f.uploadMIME = mimeType
	f.mu.Unlock()
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	return "media-1", nil
}

func (f *fakeProvider) SendAudio(ctx context.Context, creds model.Credentials, to, mediaID string) (string, error) {
	if f.audioErr != nil {
		return "", f.audioErr
	}
	return "wamid.audio", nil
}

func (f *fakeProvider) Download(ctx context.Context, url string) ([]byte, string, error) {
	return f.downloadData, f.downloadType, f.downloadErr
}

// inlineRunner runs tasks synchronously.
type inlineRunner struct{}

func (inlineRunner) Go(name string, fn func(ctx context.Context)) error {
	fn(context.Background())
	return nil
}

type testRelay struct {
	relay    *Relay
	creds    *fakeCreds
	contacts *fakeContacts
	messages *fakeMessages
	provider *fakeProvider
}

func newTestRelay(t *testing.T, tasks TaskRunner) *testRelay {
	t.Helper()

	tr := &testRelay{
		creds:    &fakeCreds{creds: model.Credentials{AccessToken: "tok", PhoneNumberID: "123"}},
		contacts: newFakeContacts(),
		messages: newFakeMessages(),
		provider: &fakeProvider{downloadData: []byte("OggS-audio"), downloadType: "audio/ogg"},
	}
	if tasks == nil {
		tasks = inlineRunner{}
	}
	tr.relay = NewRelay(fakeTenants{}, tr.creds, tr.contacts, tr.messages, tr.provider, tasks)
	return tr
}

func TestHandle_Unauthorized(t *testing.T) {
	tr := newTestRelay(t, nil)

	for _, token := range []string{"", "wrong"} {
		_, err := tr.relay.Handle(context.Background(), token, model.SendRequest{Phone: "11999990000", Content: "hi"})
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("token %q: expected ErrUnauthorized, got %v", token, err)
		}
		if StatusCode(err) != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", StatusCode(err))
		}
	}
}

func TestHandle_MissingCredentials(t *testing.T) {
	tr := newTestRelay(t, nil)
	tr.creds.creds = model.Credentials{AccessToken: "tok"}

	_, err := tr.relay.Handle(context.Background(), testToken, model.SendRequest{Phone: "11999990000", Content: "hi"})
	if !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
	if StatusCode(err) != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", StatusCode(err))
	}
	if tr.messages.count() != 0 {
		t.Fatalf("expected no message records")
	}
}

func TestHandle_CheckToken(t *testing.T) {
	tr := newTestRelay(t, nil)

	out, err := tr.relay.Handle(context.Background(), testToken, model.SendRequest{Action: model.ActionCheckToken})
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if out.StatusCode != http.StatusOK || !out.Response.Success || out.Response.TokenConfigured == nil || !*out.Response.TokenConfigured {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestHandle_CheckTokenReportsMissingCredentials(t *testing.T) {
	tr := newTestRelay(t, nil)
	tr.creds.creds = model.Credentials{AccessToken: "tok"}

	out, err := tr.relay.Handle(context.Background(), testToken, model.SendRequest{Action: model.ActionCheckToken})
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if out.StatusCode != http.StatusOK || out.Response.TokenConfigured == nil || *out.Response.TokenConfigured {
		t.Fatalf("expected token_configured=false, got %+v", out.Response)
	}
}

func TestHandle_NegativeAudioDuration(t *testing.T) {
	tr := newTestRelay(t, nil)

	_, err := tr.relay.Handle(context.Background(), testToken, model.SendRequest{
		Phone:         "11999990000",
		MessageType:   model.Audio,
		MediaURL:      "https://media.example.com/c/audio/1-abc.ogg",
		AudioDuration: -1,
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if tr.messages.count() != 0 {
		t.Fatalf("expected no message records")
	}
}

func TestHandle_TestReturnsPhoneInfo(t *testing.T) {
	tr := newTestRelay(t, nil)

	out, err := tr.relay.Handle(context.Background(), testToken, model.SendRequest{Action: model.ActionTest})
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if out.Response.DisplayPhoneNumber != "+55 11 4000-0000" || out.Response.VerifiedName != "Acme" {
		t.Fatalf("unexpected response: %+v", out.Response)
	}
}

func TestHandle_TestProviderRejectsToken(t *testing.T) {
	tr := newTestRelay(t, nil)
	tr.provider.phoneErr = &client.APIError{StatusCode: http.StatusUnauthorized, Message: "Invalid OAuth access token"}

	_, err := tr.relay.Handle(context.Background(), testToken, model.SendRequest{Action: model.ActionTest})
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
	if !strings.Contains(err.Error(), "Invalid OAuth access token") {
		t.Fatalf("expected provider message in error, got %v", err)
	}
	if tr.creds.invalidated != 1 {
		t.Fatalf("expected credentials to be invalidated once, got %d", tr.creds.invalidated)
	}
}

func TestHandle_TextWithoutContentCreatesNoRecord(t *testing.T) {
	tr := newTestRelay(t, nil)

	for _, content := range []string{"", "   "} {
		_, err := tr.relay.Handle(context.Background(), testToken, model.SendRequest{Phone: "11999990000", Content: content})
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
		if StatusCode(err) != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", StatusCode(err))
		}
	}
	if tr.messages.count() != 0 {
		t.Fatalf("expected no message records, got %d", tr.messages.count())
	}
}

func TestHandle_MediaWithoutURL(t *testing.T) {
	tr := newTestRelay(t, nil)

	for _, mt := range []model.MessageType{model.Image, model.Audio, model.Document, model.Video} {
		_, err := tr.relay.Handle(context.Background(), testToken, model.SendRequest{Phone: "11999990000", MessageType: mt})
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected ErrValidation, got %v", mt, err)
		}
	}
	if tr.messages.count() != 0 {
		t.Fatalf("expected no message records")
	}
}

func TestHandle_UnknownContact(t *testing.T) {
	tr := newTestRelay(t, nil)

	_, err := tr.relay.Handle(context.Background(), testToken, model.SendRequest{ContactID: "nope", Content: "hi"})
	if StatusCode(err) != http.StatusNotFound {
		t.Fatalf("expected 404, got %d (%v)", StatusCode(err), err)
	}
}

func TestHandle_TextSent(t *testing.T) {
	tr := newTestRelay(t, nil)

	out, err := tr.relay.Handle(context.Background(), testToken, model.SendRequest{Phone: "(11) 99999-0000", Content: "hello"})
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if out.StatusCode != http.StatusOK || out.Response.ProviderMessageID != "wamid.text" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if got := tr.messages.statuses(out.Response.MessageID); len(got) != 2 || got[0] != model.Pending || got[1] != model.Sent {
		t.Fatalf("unexpected status history: %v", got)
	}
	if len(tr.provider.sentTo) != 1 || tr.provider.sentTo[0] != "5511999990000" {
		t.Fatalf("expected normalized recipient, got %v", tr.provider.sentTo)
	}
	if _, ok := tr.contacts.touched["contact-5511999990000"]; !ok {
		t.Fatalf("expected contact last_message_at to be touched")
	}
}

func TestHandle_MediaByLinkFailure(t *testing.T) {
	tr := newTestRelay(t, nil)
	tr.provider.sendErr = &client.APIError{StatusCode: http.StatusBadRequest, Message: "bad link"}

	_, err := tr.relay.Handle(context.Background(), testToken, model.SendRequest{
		Phone:       "11999990000",
		MessageType: model.Image,
		MediaURL:    "https://cdn.example.com/a.png",
	})

	var sendErr *SendError
	if !errors.As(err, &sendErr) || sendErr.MessageID == "" {
		t.Fatalf("expected SendError with message id, got %v", err)
	}
	if StatusCode(err) != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", StatusCode(err))
	}
	if st := tr.messages.status(sendErr.MessageID); st != model.Failed {
		t.Fatalf("expected failed, got %s", st)
	}
	if tr.provider.sentLink != "https://cdn.example.com/a.png" {
		t.Fatalf("expected media sent by link, got %q", tr.provider.sentLink)
	}
}

func TestHandle_AudioReturnsAcceptedBeforeDelivery(t *testing.T) {
	exec := background.NewExecutor(2)
	tr := newTestRelay(t, exec)
	tr.provider.uploadGate = make(chan struct{})

	out, err := tr.relay.Handle(context.Background(), testToken, model.SendRequest{
		Phone:         "11999990000",
		MessageType:   model.Audio,
		MediaURL:      "https://media.example.com/c/audio/1-abc.ogg",
		MediaFilename: "1-abc.ogg",
		AudioDuration: 3.2,
	})
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if out.StatusCode != http.StatusAccepted || !out.Response.Success || out.Response.Status != model.Processing {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if st := tr.messages.status(out.Response.MessageID); st != model.Processing {
		t.Fatalf("expected processing while upload blocks, got %s", st)
	}

	close(tr.provider.uploadGate)
	if err := exec.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if st := tr.messages.status(out.Response.MessageID); st != model.Sent {
		t.Fatalf("expected sent after delivery, got %s", st)
	}
}

func TestHandle_AudioScheduleRejected(t *testing.T) {
	exec := background.NewExecutor(1)
	_ = exec.Shutdown(context.Background())
	tr := newTestRelay(t, exec)

	_, err := tr.relay.Handle(context.Background(), testToken, model.SendRequest{
		Phone:         "11999990000",
		MessageType:   model.Audio,
		MediaURL:      "https://media.example.com/a.ogg",
		AudioDuration: 2,
	})

	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("expected SendError, got %v", err)
	}
	if st := tr.messages.status(sendErr.MessageID); st != model.Failed {
		t.Fatalf("expected failed, got %s", st)
	}
}
