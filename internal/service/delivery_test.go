package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/LeventeLantos/whatsapp-relay/internal/client"
	"github.com/LeventeLantos/whatsapp-relay/internal/model"
)

func sendAudio(t *testing.T, tr *testRelay, duration float64) string {
	t.Helper()

	out, err := tr.relay.Handle(context.Background(), testToken, model.SendRequest{
		Phone:         "11999990000",
		MessageType:   model.Audio,
		MediaURL:      "https://media.example.com/c/audio/1-abc.ogg",
		AudioDuration: duration,
	})
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if out.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", out.StatusCode)
	}
	return out.Response.MessageID
}

func assertHistory(t *testing.T, got []model.Status, want ...model.Status) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("expected history %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected history %v, got %v", want, got)
		}
	}
}

func TestDeliverAudio_Success(t *testing.T) {
	tr := newTestRelay(t, nil)

	id := sendAudio(t, tr, 3.2)

	assertHistory(t, tr.messages.statuses(id), model.Processing, model.Processing, model.Sent)
	m, _ := tr.messages.Get(context.Background(), testCompany, id)
	if m.ProviderMessageID == nil || *m.ProviderMessageID != "wamid.audio" {
		t.Fatalf("expected provider id wamid.audio, got %v", m.ProviderMessageID)
	}
	if tr.provider.uploadMIME != "audio/ogg" {
		t.Fatalf("expected audio/ogg upload, got %q", tr.provider.uploadMIME)
	}
	if _, ok := tr.contacts.touched["contact-5511999990000"]; !ok {
		t.Fatalf("expected contact to be touched")
	}
}

func TestDeliverAudio_TooShort(t *testing.T) {
	tr := newTestRelay(t, nil)

	id := sendAudio(t, tr, 0.8)

	assertHistory(t, tr.messages.statuses(id), model.Processing, model.Processing, model.Failed)
	m, _ := tr.messages.Get(context.Background(), testCompany, id)
	if m.LastError == nil || !strings.Contains(*m.LastError, ErrAudioTooShort.Error()) {
		t.Fatalf("expected too-short reason, got %v", m.LastError)
	}
}

func TestDeliverAudio_UnknownDurationIsDelivered(t *testing.T) {
	tr := newTestRelay(t, nil)

	id := sendAudio(t, tr, 0)

	assertHistory(t, tr.messages.statuses(id), model.Processing, model.Processing, model.Sent)
	m, _ := tr.messages.Get(context.Background(), testCompany, id)
	if m.AudioDuration != nil {
		t.Fatalf("expected no stored duration, got %v", *m.AudioDuration)
	}
}

func TestDeliverAudio_DownloadFails(t *testing.T) {
	tr := newTestRelay(t, nil)
	tr.provider.downloadErr = errors.New("download failed: status 404")

	id := sendAudio(t, tr, 2)

	assertHistory(t, tr.messages.statuses(id), model.Processing, model.Processing, model.Failed)
}

func TestDeliverAudio_UploadFailsNeverSent(t *testing.T) {
	tr := newTestRelay(t, nil)
	tr.provider.uploadErr = &client.APIError{StatusCode: http.StatusInternalServerError, Message: "upstream down"}

	id := sendAudio(t, tr, 2)

	assertHistory(t, tr.messages.statuses(id), model.Processing, model.Processing, model.Failed)

	// A late success for the same attempt must not resurrect the record.
	if err := tr.messages.MarkSent(context.Background(), id, "late"); err == nil {
		t.Fatalf("expected failed record to reject sent")
	}
	if st := tr.messages.status(id); st != model.Failed {
		t.Fatalf("expected failed, got %s", st)
	}
}

func TestDeliverAudio_SendFails(t *testing.T) {
	tr := newTestRelay(t, nil)
	tr.provider.audioErr = &client.APIError{StatusCode: http.StatusBadRequest, Message: "bad media"}

	id := sendAudio(t, tr, 2)

	assertHistory(t, tr.messages.statuses(id), model.Processing, model.Processing, model.Failed)
}

func TestDeliverAudio_CoercesMIME(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		want        string
	}{
		{name: "missing", contentType: "", want: "audio/ogg"},
		{name: "binary", contentType: "application/octet-stream", want: "audio/ogg"},
		{name: "ogg with params", contentType: "audio/ogg; codecs=opus", want: "audio/ogg"},
		{name: "webm kept with warning", contentType: "audio/webm", want: "audio/webm"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestRelay(t, nil)
			tr.provider.downloadType = tt.contentType

			id := sendAudio(t, tr, 2)

			if tr.provider.uploadMIME != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, tr.provider.uploadMIME)
			}
			if st := tr.messages.status(id); st != model.Sent {
				t.Fatalf("expected sent, got %s", st)
			}
		})
	}
}

func TestDeliverAudio_SkipsTerminalRecord(t *testing.T) {
	tr := newTestRelay(t, nil)
	ctx := context.Background()

	m := &model.Message{CompanyID: testCompany, Status: model.Processing, Type: model.Audio}
	_ = tr.messages.Create(ctx, m)
	_ = tr.messages.MarkFailed(ctx, m.ID, "swept")

	tr.relay.deliverAudio(ctx, audioDelivery{MessageID: m.ID, Duration: 2})

	assertHistory(t, tr.messages.statuses(m.ID), model.Processing, model.Failed)
}
