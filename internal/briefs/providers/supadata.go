package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Supadata fetches transcripts from the Supadata API. Paid; requires a key.
type Supadata struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
}

var _ Provider = (*Supadata)(nil)

// NewSupadata creates the adapter. An empty apiKey makes every Fetch an
// immediate miss without a network call.
func NewSupadata(baseURL, apiKey string, timeout time.Duration, client *http.Client) *Supadata {
	return &Supadata{baseURL: baseURL, apiKey: apiKey, timeout: timeout, client: client}
}

func (s *Supadata) Name() string { return "supadata" }

type supadataResp struct {
	Transcript string `json:"transcript"`
	Language   string `json:"language"`
}

func (s *Supadata) Fetch(ctx context.Context, videoID string) (Transcript, error) {
	if s.apiKey == "" {
		return Transcript{}, fmt.Errorf("supadata: api key not set: %w", ErrUnavailable)
	}
	incrSupadata()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reqURL := s.baseURL + "?video_id=" + url.QueryEscape(videoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Transcript{}, fmt.Errorf("supadata: build request: %v: %w", err, ErrUnavailable)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Transcript{}, fmt.Errorf("supadata: request: %v: %w", err, ErrUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return Transcript{}, fmt.Errorf("supadata: status %d: %s: %w", resp.StatusCode, snippet, ErrUnavailable)
	}

	var body supadataResp
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10*1024*1024)).Decode(&body); err != nil {
		return Transcript{}, fmt.Errorf("supadata: decode: %v: %w", err, ErrUnavailable)
	}
	if strings.TrimSpace(body.Transcript) == "" {
		return Transcript{}, fmt.Errorf("supadata: empty transcript: %w", ErrUnavailable)
	}

	lang := body.Language
	if lang == "" {
		lang = DefaultLanguage
	}
	return Transcript{Text: body.Transcript, Language: lang}, nil
}
