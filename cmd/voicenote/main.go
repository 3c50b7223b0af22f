// Command voicenote converts a recorded voice note, uploads it and asks the
// relay to deliver it.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/LeventeLantos/whatsapp-relay/internal/client"
	"github.com/LeventeLantos/whatsapp-relay/internal/config"
	"github.com/LeventeLantos/whatsapp-relay/internal/model"
	"github.com/LeventeLantos/whatsapp-relay/internal/storage"
	"github.com/LeventeLantos/whatsapp-relay/internal/transcode"
	"github.com/LeventeLantos/whatsapp-relay/internal/voicenote"
)

type options struct {
	file      string
	mimeType  string
	duration  float64
	companyID string
	contactID string
	phone     string
	apiURL    string
	token     string
	preload   bool
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("voicenote", flag.ContinueOnError)
	fs.StringVar(&o.file, "file", "", "recorded audio file")
	fs.StringVar(&o.mimeType, "mime", "", "MIME type of the recording (guessed from the extension when empty)")
	fs.Float64Var(&o.duration, "duration", 0, "recording length in seconds, used when the container cannot be measured")
	fs.StringVar(&o.companyID, "company", os.Getenv("RELAY_COMPANY_ID"), "company id")
	fs.StringVar(&o.contactID, "contact", "", "destination contact id")
	fs.StringVar(&o.phone, "phone", "", "destination phone, used when -contact is empty")
	fs.StringVar(&o.apiURL, "api", getenv("RELAY_API_URL", "http://localhost:8080"), "relay base URL")
	fs.StringVar(&o.token, "token", os.Getenv("RELAY_API_TOKEN"), "relay API token")
	fs.BoolVar(&o.preload, "preload", false, "load the transcoder before reading the file")
	if err := fs.Parse(args); err != nil {
		return o, err
	}

	var errs []error
	if o.file == "" {
		errs = append(errs, errors.New("-file is required"))
	}
	if o.companyID == "" {
		errs = append(errs, errors.New("-company is required"))
	}
	if o.contactID == "" && o.phone == "" {
		errs = append(errs, errors.New("-contact or -phone is required"))
	}
	if o.token == "" {
		errs = append(errs, errors.New("-token is required"))
	}
	if o.mimeType == "" {
		o.mimeType = mimeFromExt(o.file)
	}
	return o, errors.Join(errs...)
}

func mimeFromExt(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".ogg", ".opus", ".oga":
		return "audio/ogg"
	case ".wav":
		return "audio/wav"
	case ".m4a", ".mp4", ".aac":
		return "audio/mp4"
	default:
		return "audio/webm"
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	_ = godotenv.Load()

	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	audioCfg, err := config.LoadAudio()
	if err != nil {
		slog.Error("invalid audio configuration", "err", err)
		os.Exit(1)
	}

	if err := run(opts, audioCfg); err != nil {
		slog.Error("voice note not sent", "err", err)
		os.Exit(1)
	}
}

func run(opts options, audioCfg config.AudioConfig) error {
	profile, err := transcode.ProfileByName(audioCfg.Profile)
	if err != nil {
		return err
	}

	tc := transcode.New(transcode.FFmpegLoader(audioCfg.FFmpegPath), profile, os.TempDir())
	orch := voicenote.New(tc,
		storage.NewHTTPStore(opts.apiURL, opts.token),
		client.NewRelayClient(opts.apiURL, opts.token),
		voicenote.WithTimeout(audioCfg.Timeout),
	)

	if opts.preload {
		if err := tc.Preload(context.Background()); err != nil {
			return fmt.Errorf("preload transcoder: %w", err)
		}
	}

	data, err := os.ReadFile(opts.file)
	if err != nil {
		return err
	}

	job := model.AudioJob{
		TempMessageID: "temp-" + uuid.NewString(),
		Data:          data,
		MimeType:      opts.mimeType,
		Duration:      time.Duration(opts.duration * float64(time.Second)),
		CompanyID:     opts.companyID,
		ContactID:     opts.contactID,
		Phone:         opts.phone,
	}

	results, err := orch.Submit(context.Background(), job)
	if err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	for {
		select {
		case s := <-sig:
			slog.Info("canceling voice note", "signal", s.String(), "pending", orch.Pending())
			orch.Cancel(job.TempMessageID)
		case res := <-results:
			if res.Err != nil {
				return res.Err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res.Response)
		}
	}
}
