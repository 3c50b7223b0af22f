package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPStore uploads objects through the relay's storage endpoint.
type HTTPStore struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPStore(baseURL, token string) *HTTPStore {
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type uploadResponse struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

func (s *HTTPStore) Upload(ctx context.Context, objectPath string, data []byte, contentType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		s.baseURL+"/v1/storage/"+strings.TrimLeft(objectPath, "/"), bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	var ur uploadResponse
	_ = json.Unmarshal(body, &ur)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		if ur.Error != "" {
			return "", fmt.Errorf("upload failed: %d %s", resp.StatusCode, ur.Error)
		}
		return "", fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(body))
	}
	if ur.URL == "" {
		return "", fmt.Errorf("missing url in response body=%q", string(body))
	}
	return ur.URL, nil
}
