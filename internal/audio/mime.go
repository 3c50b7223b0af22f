package audio

import (
	"mime"
	"strings"
)

const OggMIME = "audio/ogg"

// BaseMIME lowercases a MIME type and drops its parameters
// ("audio/webm;codecs=opus" -> "audio/webm").
func BaseMIME(contentType string) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		return mt
	}
	base, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

// IsOgg reports whether the declared type already names an Ogg container.
func IsOgg(contentType string) bool {
	return strings.Contains(BaseMIME(contentType), "ogg")
}

// Extension maps a declared MIME type to the container extension used for
// staging and object names.
func Extension(contentType string) string {
	base := BaseMIME(contentType)
	switch {
	case strings.Contains(base, "webm"):
		return "webm"
	case strings.Contains(base, "mp4"), strings.Contains(base, "m4a"), strings.Contains(base, "aac"):
		return "mp4"
	case strings.Contains(base, "ogg"), strings.Contains(base, "opus"):
		return "ogg"
	case strings.Contains(base, "wav"):
		return "wav"
	default:
		return "webm"
	}
}

// DeliveryMIME resolves the type sent to the provider for a downloaded voice
// note. Empty or non-audio types become audio/ogg. exact is false when the
// result is not audio/ogg, which the provider may reject.
func DeliveryMIME(contentType string) (mt string, exact bool) {
	base := BaseMIME(contentType)
	if base == "" || !strings.HasPrefix(base, "audio/") {
		return OggMIME, true
	}
	return base, base == OggMIME
}
