// Package transcode converts captured audio into Opus-in-Ogg voice notes.
//
// A Transcoder owns the lazily loaded engine and moves through
// Unloaded -> Loading -> Ready. Concurrent loads share one in-flight attempt;
// a failed load drops back to Unloaded so the next caller starts over.
// Work is submitted through a Worker, which runs requests off the caller's
// goroutine and answers with progress, result and error events.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/LeventeLantos/whatsapp-relay/internal/audio"
)

type State int32

const (
	Unloaded State = iota
	Loading
	Ready
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var ErrOutputTooSmall = errors.New("transcoded output too small")

type Transcoder struct {
	load    Loader
	profile Profile
	tmpDir  string

	group singleflight.Group
	loads atomic.Int64

	mu     sync.Mutex
	state  State
	engine Engine
}

// New returns an unloaded transcoder. tmpDir may be empty for the system
// default.
func New(load Loader, profile Profile, tmpDir string) *Transcoder {
	return &Transcoder{
		load:    load,
		profile: profile,
		tmpDir:  tmpDir,
	}
}

func (t *Transcoder) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transcoder) Profile() Profile {
	return t.profile
}

// Loads reports how many times the engine loader actually ran.
func (t *Transcoder) Loads() int64 {
	return t.loads.Load()
}

// Preload makes the engine ready without transcoding anything.
func (t *Transcoder) Preload(ctx context.Context) error {
	_, err := t.ensureLoaded(ctx)
	return err
}

func (t *Transcoder) ensureLoaded(ctx context.Context) (Engine, error) {
	t.mu.Lock()
	if t.state == Ready {
		e := t.engine
		t.mu.Unlock()
		return e, nil
	}
	t.state = Loading
	t.mu.Unlock()

	// The load outlives any single waiter; callers give up on their own ctx.
	ch := t.group.DoChan("load", func() (any, error) {
		return t.loadOnce(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Engine), nil
	}
}

// loadOnce runs the loader unless an earlier flight already finished while
// this caller was between the state check and joining the group.
func (t *Transcoder) loadOnce(ctx context.Context) (Engine, error) {
	t.mu.Lock()
	if t.state == Ready {
		e := t.engine
		t.mu.Unlock()
		return e, nil
	}
	t.mu.Unlock()

	t.loads.Add(1)
	e, err := t.load(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.state = Unloaded
		t.engine = nil
		return nil, fmt.Errorf("load transcoder: %w", err)
	}
	t.state = Ready
	t.engine = e
	return e, nil
}

// Transcode converts input into an Ogg/Opus voice note. Staged files are
// removed on every exit path.
func (t *Transcoder) Transcode(ctx context.Context, input []byte, mimeType string, progress func(string)) ([]byte, error) {
	if progress == nil {
		progress = func(string) {}
	}

	if t.State() != Ready {
		progress("loading transcoder")
	}
	engine, err := t.ensureLoaded(ctx)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(t.tmpDir, "transcode-*")
	if err != nil {
		return nil, fmt.Errorf("stage input: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "input."+audio.Extension(mimeType))
	out := filepath.Join(dir, "output.ogg")

	if err := os.WriteFile(in, input, 0o600); err != nil {
		return nil, fmt.Errorf("stage input: %w", err)
	}
	progress(fmt.Sprintf("converting %d bytes to ogg/opus (%s)", len(input), t.profile.Name))

	if err := engine.Convert(ctx, in, out, t.profile, progress); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	if len(data) < audio.MinTranscodedSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrOutputTooSmall, len(data))
	}

	progress("conversion complete")
	return data, nil
}
