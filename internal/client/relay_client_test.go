package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/LeventeLantos/whatsapp-relay/internal/model"
)

func TestRelayClient_Send_Accepted(t *testing.T) {
	t.Parallel()

	var got model.SendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages/send" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer user-token" {
			t.Errorf("unexpected auth %q", r.Header.Get("Authorization"))
		}
		b, _ := ioReadAll(r)
		_ = json.Unmarshal(b, &got)

		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"success":true,"message_id":"m-1","status":"processing"}`))
	}))
	defer srv.Close()

	resp, err := NewRelayClient(srv.URL, "user-token").Send(context.Background(), model.SendRequest{
		ContactID:     "c-1",
		MessageType:   model.Audio,
		MediaURL:      "https://cdn/x.ogg",
		AudioDuration: 3.2,
	})
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if resp.MessageID != "m-1" || resp.Status != model.Processing {
		t.Fatalf("unexpected response %+v", resp)
	}
	if got.MessageType != model.Audio || got.AudioDuration != 3.2 {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestRelayClient_Send_ErrorCarriesMessageID(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"provider rejected","message_id":"m-9"}`))
	}))
	defer srv.Close()

	resp, err := NewRelayClient(srv.URL, "t").Send(context.Background(), model.SendRequest{Content: "hi"})
	if err == nil || !strings.Contains(err.Error(), "provider rejected") {
		t.Fatalf("expected relay error, got %v", err)
	}
	if resp == nil || resp.MessageID != "m-9" {
		t.Fatalf("expected message id for correlation, got %+v", resp)
	}
}
