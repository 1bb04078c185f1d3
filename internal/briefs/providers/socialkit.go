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

// SocialKit fetches transcripts from the SocialKit API. Same request and
// response shape as Supadata, different host and key.
type SocialKit struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
}

var _ Provider = (*SocialKit)(nil)

// NewSocialKit creates the adapter. An empty apiKey makes every Fetch an
// immediate miss without a network call.
func NewSocialKit(baseURL, apiKey string, timeout time.Duration, client *http.Client) *SocialKit {
	return &SocialKit{baseURL: baseURL, apiKey: apiKey, timeout: timeout, client: client}
}

func (s *SocialKit) Name() string { return "socialkit" }

type socialkitResp struct {
	Transcript string `json:"transcript"`
	Language   string `json:"language"`
}

func (s *SocialKit) Fetch(ctx context.Context, videoID string) (Transcript, error) {
	if s.apiKey == "" {
		return Transcript{}, fmt.Errorf("socialkit: api key not set: %w", ErrUnavailable)
	}
	incrSocialKit()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reqURL := s.baseURL + "?video_id=" + url.QueryEscape(videoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Transcript{}, fmt.Errorf("socialkit: build request: %v: %w", err, ErrUnavailable)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Transcript{}, fmt.Errorf("socialkit: request: %v: %w", err, ErrUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return Transcript{}, fmt.Errorf("socialkit: status %d: %s: %w", resp.StatusCode, snippet, ErrUnavailable)
	}

	var body socialkitResp
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10*1024*1024)).Decode(&body); err != nil {
		return Transcript{}, fmt.Errorf("socialkit: decode: %v: %w", err, ErrUnavailable)
	}
	if strings.TrimSpace(body.Transcript) == "" {
		return Transcript{}, fmt.Errorf("socialkit: empty transcript: %w", ErrUnavailable)
	}

	lang := body.Language
	if lang == "" {
		lang = DefaultLanguage
	}
	return Transcript{Text: body.Transcript, Language: lang}, nil
}
