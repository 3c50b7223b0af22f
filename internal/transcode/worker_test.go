package transcode

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func nextTerminal(t *testing.T, w *Worker) Event {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-w.Events():
			if ev.Type != EventProgress {
				return ev
			}
		case <-timeout:
			t.Fatalf("no terminal event")
		}
	}
}

func TestWorker_Ping(t *testing.T) {
	w := Spawn(New(loaderFor(&fakeEngine{}), VoiceProfile, t.TempDir()))
	defer w.Terminate()

	require.NoError(t, w.Post(Request{Type: RequestPing}))

	select {
	case ev := <-w.Events():
		require.Equal(t, EventProgress, ev.Type)
		require.Equal(t, "pong", ev.Message)
	case <-time.After(time.Second):
		t.Fatalf("no pong")
	}
}

func TestWorker_PreloadThenTranscode(t *testing.T) {
	tc := New(loaderFor(&fakeEngine{size: 2048}), VoiceProfile, t.TempDir())
	w := Spawn(tc)
	defer w.Terminate()

	require.NoError(t, w.Post(Request{Type: RequestPreload}))
	select {
	case ev := <-w.Events():
		require.Equal(t, EventProgress, ev.Type)
		require.Equal(t, "transcoder ready", ev.Message)
	case <-time.After(time.Second):
		t.Fatalf("no preload reply")
	}
	require.Equal(t, Ready, tc.State())

	require.NoError(t, w.Post(Request{Type: RequestTranscode, Input: []byte("webm"), MimeType: "audio/webm"}))
	ev := nextTerminal(t, w)
	require.Equal(t, EventResult, ev.Type)
	require.Len(t, ev.Ogg, 2048)
	require.Equal(t, int64(1), tc.Loads())
}

func TestWorker_UndersizedOutputNeverYieldsResult(t *testing.T) {
	w := Spawn(New(loaderFor(&fakeEngine{size: 100}), VoiceProfile, t.TempDir()))
	defer w.Terminate()

	require.NoError(t, w.Post(Request{Type: RequestTranscode, Input: []byte("x"), MimeType: "audio/wav"}))
	ev := nextTerminal(t, w)
	require.Equal(t, EventError, ev.Type)
	require.Nil(t, ev.Ogg)
	require.True(t, errors.Is(ev.Err, ErrOutputTooSmall))
}

func TestWorker_TerminateStopsRunningTranscode(t *testing.T) {
	engine := &fakeEngine{block: true}
	w := Spawn(New(loaderFor(engine), VoiceProfile, t.TempDir()))

	require.NoError(t, w.Post(Request{Type: RequestTranscode, Input: []byte("x"), MimeType: "audio/webm"}))
	require.Eventually(t, func() bool {
		engine.mu.Lock()
		defer engine.mu.Unlock()
		return len(engine.inputs) == 1
	}, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		w.Terminate()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("terminate did not return")
	}

	require.True(t, errors.Is(w.Post(Request{Type: RequestPing}), ErrTerminated))
	w.Terminate()
}

func TestWorker_UnknownRequest(t *testing.T) {
	w := Spawn(New(loaderFor(&fakeEngine{}), VoiceProfile, t.TempDir()))
	defer w.Terminate()

	require.NoError(t, w.Post(Request{Type: "resize"}))
	ev := nextTerminal(t, w)
	require.Equal(t, EventError, ev.Type)
}

func TestFFmpegLoader_MissingBinary(t *testing.T) {
	_, err := FFmpegLoader("definitely-not-ffmpeg-binary")(context.Background())
	require.Error(t, err)
}
