package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/LeventeLantos/whatsapp-relay/internal/model"
)

const (
	messagingProduct = "whatsapp"

	// MaxMediaSize is the largest audio object the provider accepts.
	MaxMediaSize = 16 << 20
)

// APIError is a non-2xx answer from the provider.
type APIError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("provider error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("unexpected status code: %d body=%q", e.StatusCode, e.Body)
}

type WhatsAppClient struct {
	baseURL string
	version string
	client  *http.Client
}

func NewWhatsAppClient(baseURL, version string, timeout time.Duration) *WhatsAppClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WhatsAppClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		version: version,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type PhoneNumberInfo struct {
	ID                 string `json:"id"`
	DisplayPhoneNumber string `json:"display_phone_number"`
	VerifiedName       string `json:"verified_name"`
}

type providerError struct {
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

type sendResponse struct {
	providerError
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type mediaResponse struct {
	providerError
	ID string `json:"id"`
}

type textBody struct {
	Body string `json:"body"`
}

type mediaBody struct {
	ID       string `json:"id,omitempty"`
	Link     string `json:"link,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type outboundMessage struct {
	MessagingProduct string     `json:"messaging_product"`
	RecipientType    string     `json:"recipient_type"`
	To               string     `json:"to"`
	Type             string     `json:"type"`
	Text             *textBody  `json:"text,omitempty"`
	Image            *mediaBody `json:"image,omitempty"`
	Audio            *mediaBody `json:"audio,omitempty"`
	Document         *mediaBody `json:"document,omitempty"`
	Video            *mediaBody `json:"video,omitempty"`
}

// PhoneNumber fetches the registered number behind the credentials.
func (c *WhatsAppClient) PhoneNumber(ctx context.Context, creds model.Credentials) (*PhoneNumberInfo, error) {
	u := c.endpoint(creds.PhoneNumberID) + "?fields=" + url.QueryEscape("display_phone_number,verified_name")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	var info struct {
		providerError
		PhoneNumberInfo
	}
	if err := c.do(req, &info, func() *providerError { return &info.providerError }); err != nil {
		return nil, err
	}
	return &info.PhoneNumberInfo, nil
}

func (c *WhatsAppClient) SendText(ctx context.Context, creds model.Credentials, to, body string) (string, error) {
	return c.send(ctx, creds, outboundMessage{
		To:   to,
		Type: string(model.Text),
		Text: &textBody{Body: body},
	})
}

// SendMediaLink sends image, video, document or audio media by URL.
func (c *WhatsAppClient) SendMediaLink(ctx context.Context, creds model.Credentials, to string, mt model.MessageType, link, caption, filename string) (string, error) {
	media := &mediaBody{Link: link}
	msg := outboundMessage{To: to, Type: string(mt)}

	switch mt {
	case model.Image:
		media.Caption = caption
		msg.Image = media
	case model.Video:
		media.Caption = caption
		msg.Video = media
	case model.Document:
		media.Caption = caption
		media.Filename = filename
		msg.Document = media
	case model.Audio:
		msg.Audio = media
	default:
		return "", fmt.Errorf("unsupported media type %q", mt)
	}
	return c.send(ctx, creds, msg)
}

// SendAudio sends a voice note previously uploaded with UploadMedia.
func (c *WhatsAppClient) SendAudio(ctx context.Context, creds model.Credentials, to, mediaID string) (string, error) {
	return c.send(ctx, creds, outboundMessage{
		To:    to,
		Type:  string(model.Audio),
		Audio: &mediaBody{ID: mediaID},
	})
}

// UploadMedia uploads raw bytes and returns the provider's media id.
func (c *WhatsAppClient) UploadMedia(ctx context.Context, creds model.Credentials, data []byte, mimeType, filename string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("messaging_product", messagingProduct); err != nil {
		return "", err
	}
	if err := mw.WriteField("type", mimeType); err != nil {
		return "", err
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(creds.PhoneNumberID, "media"), &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	var mr mediaResponse
	if err := c.do(req, &mr, func() *providerError { return &mr.providerError }); err != nil {
		return "", err
	}
	if mr.ID == "" {
		msg := "missing media id in response"
		if mr.Error != nil && mr.Error.Message != "" {
			msg = mr.Error.Message
		}
		return "", errors.New(msg)
	}
	return mr.ID, nil
}

// Download fetches a public object. It returns the body and the response
// Content-Type.
func (c *WhatsAppClient) Download(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, "", fmt.Errorf("download failed: status %d body=%q", resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxMediaSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("read download: %w", err)
	}
	if len(data) > MaxMediaSize {
		return nil, "", fmt.Errorf("download exceeds %d bytes", MaxMediaSize)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *WhatsAppClient) send(ctx context.Context, creds model.Credentials, msg outboundMessage) (string, error) {
	msg.MessagingProduct = messagingProduct
	msg.RecipientType = "individual"

	reqBody, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(creds.PhoneNumberID, "messages"), bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	var sr sendResponse
	if err := c.do(req, &sr, func() *providerError { return &sr.providerError }); err != nil {
		return "", err
	}
	if len(sr.Messages) == 0 || sr.Messages[0].ID == "" {
		return "", errors.New("missing message id in response")
	}
	return sr.Messages[0].ID, nil
}

// do executes req and decodes a JSON body into out. Non-2xx answers become
// *APIError carrying the provider's message when one was sent.
func (c *WhatsAppClient) do(req *http.Request, out any, perr func() *providerError) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	decodeErr := json.Unmarshal(body, out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(body)}
		if pe := perr(); decodeErr == nil && pe.Error != nil {
			apiErr.Message = pe.Error.Message
		}
		return apiErr
	}
	if decodeErr != nil {
		return fmt.Errorf("failed to decode json: %w body=%q", decodeErr, string(body))
	}
	return nil
}

func (c *WhatsAppClient) endpoint(parts ...string) string {
	segs := append([]string{c.baseURL, c.version}, parts...)
	return strings.Join(segs, "/")
}
