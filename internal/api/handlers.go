package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/LeventeLantos/whatsapp-relay/internal/client"
	"github.com/LeventeLantos/whatsapp-relay/internal/model"
	"github.com/LeventeLantos/whatsapp-relay/internal/repo"
	"github.com/LeventeLantos/whatsapp-relay/internal/scheduler"
	"github.com/LeventeLantos/whatsapp-relay/internal/service"
	"github.com/LeventeLantos/whatsapp-relay/internal/storage"
)

const maxSendBody = 64 << 10

// Relay is the send/relay service behind the HTTP surface.
type Relay interface {
	Authenticate(ctx context.Context, token string) (string, error)
	Handle(ctx context.Context, token string, req model.SendRequest) (*service.Outcome, error)
}

type ObjectStore interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)
}

type Handler struct {
	sched *scheduler.Scheduler
	repo  repo.MessageRepository
	relay Relay
	store ObjectStore
}

func NewHandler(s *scheduler.Scheduler, r repo.MessageRepository, relay Relay, store ObjectStore) *Handler {
	return &Handler{sched: s, repo: r, relay: relay, store: store}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sched.Status())
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.sched.Start()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.sched.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

// SendMessage is the send/relay endpoint.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req model.SendRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxSendBody))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		if _, ok := h.authenticate(w, r); !ok {
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	out, err := h.relay.Handle(r.Context(), bearerToken(r), req)
	if err != nil {
		resp := model.SendResponse{Error: err.Error()}
		var sendErr *service.SendError
		if errors.As(err, &sendErr) {
			resp.MessageID = sendErr.MessageID
		}
		writeJSON(w, service.StatusCode(err), resp)
		return
	}

	writeJSON(w, out.StatusCode, out.Response)
}

func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	m, err := h.repo.Get(r.Context(), companyID, r.PathValue("id"))
	if errors.Is(err, repo.ErrNotFound) {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) ListSentMessages(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	limit := parseInt(r.URL.Query().Get("limit"), 50)
	offset := parseInt(r.URL.Query().Get("offset"), 0)

	items, err := h.repo.ListSent(r.Context(), companyID, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if items == nil {
		items = []model.Message{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// UploadObject stores the request body under the caller's company prefix
// and answers with the object's public URL.
func (h *Handler) UploadObject(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	objectPath, err := storage.CleanPath(r.PathValue("path"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !strings.HasPrefix(objectPath, companyID+"/") {
		writeError(w, http.StatusForbidden, "path must start with the caller's company id")
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, client.MaxMediaSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty body")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	url, err := h.store.Upload(r.Context(), objectPath, data, contentType)
	if errors.Is(err, storage.ErrInvalidPath) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"url": url})
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	companyID, err := h.relay.Authenticate(r.Context(), bearerToken(r))
	if err != nil {
		writeError(w, service.StatusCode(err), err.Error())
		return "", false
	}
	return companyID, true
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
