package transcode

import (
	"fmt"
	"strconv"
	"time"
)

// Profile fixes the encoder parameters for a voice note.
type Profile struct {
	Name          string
	SampleRate    int
	Bitrate       int // bits per second
	Channels      int
	FrameDuration time.Duration
}

var (
	// VoiceProfile is tuned for small voice notes.
	VoiceProfile = Profile{
		Name:          "voice",
		SampleRate:    16000,
		Bitrate:       24000,
		Channels:      1,
		FrameDuration: 20 * time.Millisecond,
	}

	// BaselineProfile keeps Opus' native rate at a higher bitrate.
	BaselineProfile = Profile{
		Name:          "baseline",
		SampleRate:    48000,
		Bitrate:       64000,
		Channels:      1,
		FrameDuration: 20 * time.Millisecond,
	}
)

func ProfileByName(name string) (Profile, error) {
	switch name {
	case "", VoiceProfile.Name:
		return VoiceProfile, nil
	case BaselineProfile.Name:
		return BaselineProfile, nil
	default:
		return Profile{}, fmt.Errorf("unknown audio profile %q", name)
	}
}

// ffmpegArgs builds the command line converting in to Opus-in-Ogg at out.
// Progress is reported as key=value lines on stdout.
func (p Profile) ffmpegArgs(in, out string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", in,
		"-vn",
		"-ac", strconv.Itoa(p.Channels),
		"-ar", strconv.Itoa(p.SampleRate),
		"-c:a", "libopus",
		"-b:a", strconv.Itoa(p.Bitrate),
		"-application", "voip",
		"-frame_duration", strconv.Itoa(int(p.FrameDuration / time.Millisecond)),
		"-f", "ogg",
		"-progress", "pipe:1",
		out,
	}
}
