package api

import "net/http"

// Routes are optional handlers mounted next to the API.
type Routes struct {
	Media   http.Handler
	Metrics http.Handler
}

func Router(h *Handler, extra Routes) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", h.Health)

	mux.HandleFunc("GET /v1/scheduler/status", h.SchedulerStatus)
	mux.HandleFunc("POST /v1/scheduler/start", h.SchedulerStart)
	mux.HandleFunc("POST /v1/scheduler/stop", h.SchedulerStop)

	mux.HandleFunc("POST /v1/messages/send", h.SendMessage)
	mux.HandleFunc("GET /v1/messages/sent", h.ListSentMessages)
	mux.HandleFunc("GET /v1/messages/{id}", h.GetMessage)

	mux.HandleFunc("PUT /v1/storage/{path...}", h.UploadObject)

	if extra.Media != nil {
		mux.Handle("GET /media/", http.StripPrefix("/media", extra.Media))
	}
	if extra.Metrics != nil {
		mux.Handle("GET /metrics", extra.Metrics)
	}

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("whatsapp-relay"))
	})

	return mux
}
