package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/LeventeLantos/whatsapp-relay/internal/model"
)

// RelayClient calls the send/relay endpoint on behalf of a logged-in user.
type RelayClient struct {
	url    string
	token  string
	client *http.Client
}

func NewRelayClient(baseURL, token string) *RelayClient {
	return &RelayClient{
		url:   strings.TrimRight(baseURL, "/") + "/v1/messages/send",
		token: token,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *RelayClient) Send(ctx context.Context, sr model.SendRequest) (*model.SendResponse, error) {
	reqBody, err := json.Marshal(sr)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	var out model.SendResponse
	decodeErr := json.Unmarshal(body, &out)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		if decodeErr == nil && out.Error != "" {
			return &out, fmt.Errorf("relay error (status %d): %s", resp.StatusCode, out.Error)
		}
		return nil, fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(body))
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode json: %w body=%q", decodeErr, string(body))
	}
	if out.MessageID == "" && sr.Action != model.ActionTest && sr.Action != model.ActionCheckToken {
		return nil, fmt.Errorf("missing message_id in response body=%q", string(body))
	}
	return &out, nil
}
