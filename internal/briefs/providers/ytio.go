package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TranscriptIO fetches transcripts from youtube-transcript.io. Free, no key.
// The endpoint answers with either a JSON array of timed fragments or a
// flat {"transcript": ...} object depending on the video.
type TranscriptIO struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
}

var _ Provider = (*TranscriptIO)(nil)

// NewTranscriptIO creates the adapter.
func NewTranscriptIO(baseURL string, timeout time.Duration, client *http.Client) *TranscriptIO {
	return &TranscriptIO{baseURL: baseURL, timeout: timeout, client: client}
}

func (t *TranscriptIO) Name() string { return "ytio" }

func (t *TranscriptIO) Fetch(ctx context.Context, videoID string) (Transcript, error) {
	incrTranscriptIO()

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	reqURL := t.baseURL + "/transcript?videoId=" + url.QueryEscape(videoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Transcript{}, fmt.Errorf("ytio: build request: %v: %w", err, ErrUnavailable)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return Transcript{}, fmt.Errorf("ytio: request: %v: %w", err, ErrUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return Transcript{}, fmt.Errorf("ytio: status %d: %s: %w", resp.StatusCode, snippet, ErrUnavailable)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return Transcript{}, fmt.Errorf("ytio: read body: %v: %w", err, ErrUnavailable)
	}

	text, err := parseTranscriptIOBody(raw)
	if err != nil {
		return Transcript{}, fmt.Errorf("ytio: %v: %w", err, ErrUnavailable)
	}
	if strings.TrimSpace(text) == "" {
		return Transcript{}, fmt.Errorf("ytio: empty transcript: %w", ErrUnavailable)
	}
	return Transcript{Text: text, Language: DefaultLanguage}, nil
}

// parseTranscriptIOBody handles both response shapes: fragments are joined
// with single spaces, a flat object is used as-is.
func parseTranscriptIOBody(raw []byte) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", fmt.Errorf("empty body")
	}

	if trimmed[0] == '[' {
		var segs []struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(trimmed, &segs); err != nil {
			return "", fmt.Errorf("decode fragments: %v", err)
		}
		parts := make([]string, 0, len(segs))
		for _, seg := range segs {
			if seg.Text != "" {
				parts = append(parts, seg.Text)
			}
		}
		return strings.Join(parts, " "), nil
	}

	var obj struct {
		Transcript string `json:"transcript"`
	}
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return "", fmt.Errorf("decode object: %v", err)
	}
	return obj.Transcript, nil
}
