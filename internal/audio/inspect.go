package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/go-audio/wav"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const (
	// MinUploadSize is the smallest buffer accepted on the upload path.
	MinUploadSize = 512
	// MinTranscodedSize is the smallest buffer a transcode may produce.
	MinTranscodedSize = 1024
	// MinDuration is the shortest decodable voice note.
	MinDuration = 500 * time.Millisecond

	oggSniffWindow = 64 * 1024
	oggMinSniff    = 64

	// Opus granule positions always count 48kHz samples (RFC 7845 §4).
	opusGranuleRate = 48000
)

var (
	ErrTooSmall = errors.New("audio buffer too small")
	ErrTooShort = errors.New("audio too short")

	errUnrecognized = errors.New("unrecognized audio container")
)

// Info is what could be learned about a buffer. Only Size is guaranteed;
// the rest is set when Decoded is true.
type Info struct {
	Size       int
	Format     string
	Decoded    bool
	Duration   time.Duration
	SampleRate int
	Channels   int
}

// Inspect decodes data far enough to report its metadata. Decode failures
// are logged and yield an Info carrying only the size.
func Inspect(data []byte) Info {
	info := Info{Size: len(data)}

	var err error
	switch {
	case IsLikelyOggOpus(data):
		err = inspectOggOpus(data, &info)
	case isWAV(data):
		err = inspectWAV(data, &info)
	default:
		err = errUnrecognized
	}
	if err != nil {
		slog.Warn("audio inspection failed", "size", len(data), "error", err)
		return Info{Size: len(data)}
	}

	info.Decoded = true
	return info
}

// IsLikelyOggOpus reports whether data starts with an Ogg capture pattern and
// carries an OpusHead marker within the first 64KB.
func IsLikelyOggOpus(data []byte) bool {
	if len(data) < oggMinSniff {
		return false
	}
	if !bytes.HasPrefix(data, []byte("OggS")) {
		return false
	}
	window := data
	if len(window) > oggSniffWindow {
		window = window[:oggSniffWindow]
	}
	return bytes.Contains(window, []byte("OpusHead"))
}

func isWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

func inspectOggOpus(data []byte, info *Info) error {
	r, header, err := oggreader.NewWith(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("ogg header: %w", err)
	}

	var granule uint64
	for {
		_, page, err := r.ParseNextPage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// A damaged tail still leaves a usable duration.
			if granule == 0 {
				return fmt.Errorf("ogg page: %w", err)
			}
			break
		}
		if page.GranulePosition > granule && page.GranulePosition != ^uint64(0) {
			granule = page.GranulePosition
		}
	}

	samples := int64(granule) - int64(header.PreSkip)
	if samples < 0 {
		samples = 0
	}

	info.Format = "ogg"
	info.Channels = int(header.Channels)
	info.SampleRate = int(header.SampleRate)
	info.Duration = time.Duration(samples) * time.Second / opusGranuleRate
	return nil
}

func inspectWAV(data []byte, info *Info) error {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		if err := d.Err(); err != nil {
			return fmt.Errorf("wav: %w", err)
		}
		return errors.New("wav: invalid file")
	}

	dur, err := d.Duration()
	if err != nil {
		return fmt.Errorf("wav duration: %w", err)
	}

	info.Format = "wav"
	info.Channels = int(d.NumChans)
	info.SampleRate = int(d.SampleRate)
	info.Duration = dur
	return nil
}

// ValidateUpload rejects buffers that are obviously corrupt before upload.
func ValidateUpload(info Info) error {
	return validate(info, MinUploadSize)
}

// ValidateTranscoded rejects transcoder output that cannot be a voice note.
func ValidateTranscoded(info Info) error {
	return validate(info, MinTranscodedSize)
}

func validate(info Info, minSize int) error {
	if info.Size < minSize {
		return fmt.Errorf("%w: %d bytes (min %d)", ErrTooSmall, info.Size, minSize)
	}
	if info.Decoded && info.Duration < MinDuration {
		return fmt.Errorf("%w: %s (min %s)", ErrTooShort, info.Duration, MinDuration)
	}
	return nil
}
