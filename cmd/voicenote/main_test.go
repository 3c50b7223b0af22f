package main

import (
	"strings"
	"testing"
)

func TestParseFlags_RequiresTarget(t *testing.T) {
	t.Setenv("RELAY_COMPANY_ID", "")
	t.Setenv("RELAY_API_TOKEN", "")

	_, err := parseFlags([]string{"-file", "note.webm"})
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	for _, want := range []string{"-company", "-contact or -phone", "-token"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error mentioning %s, got: %v", want, err)
		}
	}
}

func TestParseFlags_GuessesMIME(t *testing.T) {
	cases := map[string]string{
		"note.ogg":  "audio/ogg",
		"note.OPUS": "audio/ogg",
		"note.wav":  "audio/wav",
		"note.m4a":  "audio/mp4",
		"note.webm": "audio/webm",
		"note":      "audio/webm",
	}

	for file, want := range cases {
		o, err := parseFlags([]string{"-file", file, "-company", "c1", "-phone", "11999990000", "-token", "t"})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", file, err)
		}
		if o.mimeType != want {
			t.Fatalf("%s: expected %q, got %q", file, want, o.mimeType)
		}
	}
}

func TestParseFlags_ExplicitMIMEWins(t *testing.T) {
	o, err := parseFlags([]string{"-file", "x.bin", "-mime", "audio/webm;codecs=opus", "-company", "c1", "-contact", "k1", "-token", "t"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.mimeType != "audio/webm;codecs=opus" {
		t.Fatalf("unexpected mime %q", o.mimeType)
	}
}
