package transcode

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Engine converts a staged input file into an Ogg/Opus output file.
type Engine interface {
	Convert(ctx context.Context, in, out string, p Profile, progress func(string)) error
}

// Loader produces a ready Engine. It may be slow (binary discovery, probes).
type Loader func(ctx context.Context) (Engine, error)

// FFmpegLoader locates the ffmpeg binary and checks it can encode Opus.
func FFmpegLoader(path string) Loader {
	return func(ctx context.Context) (Engine, error) {
		bin, err := exec.LookPath(path)
		if err != nil {
			return nil, fmt.Errorf("locate ffmpeg: %w", err)
		}

		var stdout bytes.Buffer
		cmd := exec.CommandContext(ctx, bin, "-hide_banner", "-encoders")
		cmd.Stdout = &stdout
		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("probe ffmpeg encoders: %w", err)
		}
		if !strings.Contains(stdout.String(), "libopus") {
			return nil, errors.New("ffmpeg built without libopus")
		}

		return &ffmpegEngine{bin: bin}, nil
	}
}

type ffmpegEngine struct {
	bin string
}

func (e *ffmpegEngine) Convert(ctx context.Context, in, out string, p Profile, progress func(string)) error {
	cmd := exec.CommandContext(ctx, e.bin, p.ffmpegArgs(in, out)...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	reportProgress(stdout, progress)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("ffmpeg failed: %w: %s", err, lastLine(msg))
		}
		return fmt.Errorf("ffmpeg failed: %w", err)
	}
	return nil
}

// reportProgress turns ffmpeg's -progress output into readable lines.
func reportProgress(r io.Reader, progress func(string)) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		key, val, ok := strings.Cut(sc.Text(), "=")
		if !ok || progress == nil {
			continue
		}
		switch key {
		case "out_time":
			progress("encoded " + strings.TrimSuffix(val, "000"))
		case "progress":
			if val == "end" {
				progress("encoding finished")
			}
		}
	}
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
