package transcode

import (
	"context"
	"errors"
	"sync"
)

type RequestType string

const (
	RequestPreload   RequestType = "preload"
	RequestTranscode RequestType = "transcode"
	RequestPing      RequestType = "ping"
)

type Request struct {
	Type     RequestType
	Input    []byte
	MimeType string
}

type EventType string

const (
	EventProgress EventType = "progress"
	EventResult   EventType = "result"
	EventError    EventType = "error"
)

// Event is a worker reply. Ogg is handed to the receiver; the worker keeps
// no reference to it.
type Event struct {
	Type    EventType
	Message string
	Ogg     []byte
	Err     error
}

var ErrTerminated = errors.New("worker terminated")

// Worker runs requests against a Transcoder on its own goroutine and
// reports back over Events. Terminate tears it down mid-request.
type Worker struct {
	tc     *Transcoder
	reqs   chan Request
	events chan Event

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func Spawn(tc *Transcoder) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		tc:     tc,
		reqs:   make(chan Request),
		events: make(chan Event, 16),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Worker) Events() <-chan Event {
	return w.events
}

// Post hands a request to the worker. It fails once the worker is terminated.
func (w *Worker) Post(req Request) error {
	select {
	case <-w.ctx.Done():
		return ErrTerminated
	case w.reqs <- req:
		return nil
	}
}

// Terminate cancels any running request and waits for the worker to exit.
func (w *Worker) Terminate() {
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

func (w *Worker) loop() {
	defer close(w.done)

	for {
		select {
		case <-w.ctx.Done():
			return
		case req := <-w.reqs:
			w.handle(req)
		}
	}
}

func (w *Worker) handle(req Request) {
	switch req.Type {
	case RequestPing:
		w.emit(Event{Type: EventProgress, Message: "pong"})

	case RequestPreload:
		if err := w.tc.Preload(w.ctx); err != nil {
			w.emit(Event{Type: EventError, Err: err, Message: err.Error()})
			return
		}
		w.emit(Event{Type: EventProgress, Message: "transcoder ready"})

	case RequestTranscode:
		progress := func(msg string) {
			w.emit(Event{Type: EventProgress, Message: msg})
		}
		ogg, err := w.tc.Transcode(w.ctx, req.Input, req.MimeType, progress)
		if err != nil {
			w.emit(Event{Type: EventError, Err: err, Message: err.Error()})
			return
		}
		w.emit(Event{Type: EventResult, Ogg: ogg})

	default:
		err := errors.New("unknown request type " + string(req.Type))
		w.emit(Event{Type: EventError, Err: err, Message: err.Error()})
	}
}

func (w *Worker) emit(ev Event) {
	select {
	case <-w.ctx.Done():
	case w.events <- ev:
	}
}
