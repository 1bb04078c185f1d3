package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"log/slog"
)

// Innertube pulls captions straight from YouTube's own endpoints. No key,
// no quota; the last-resort fallback.
// Primary:  watch page scrape → ytInitialPlayerResponse → caption track XML
// Fallback: ANDROID Innertube /player → captionTracks
// Which strategy lands is this adapter's private concern; the chain only
// sees a transcript or a miss.

const (
	innertubeWatchURL  = "https://www.youtube.com/watch"
	innertubePlayerURL = "https://www.youtube.com/youtubei/v1/player"
	ytAndroidVersion   = "20.10.38"
	ytAndroidUA        = "com.google.android.youtube/" + ytAndroidVersion + " (Linux; U; Android 11) gzip"
	userAgentChrome    = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	userAgentPlain     = "dbb/1.0"

	playerRespMarker = "ytInitialPlayerResponse = "
)

type innertubeReq struct {
	VideoID        string       `json:"videoId"`
	Context        innertubeCtx `json:"context"`
	RacyCheckOk    bool         `json:"racyCheckOk"`
	ContentCheckOk bool         `json:"contentCheckOk"`
}

type innertubeCtx struct {
	Client innertubeClient `json:"client"`
}

type innertubeClient struct {
	ClientName        string `json:"clientName"`
	ClientVersion     string `json:"clientVersion"`
	AndroidSdkVersion int    `json:"androidSdkVersion,omitempty"`
	Hl                string `json:"hl,omitempty"`
	Gl                string `json:"gl,omitempty"`
}

type innertubePlayerResp struct {
	Captions *struct {
		PlayerCaptionsTracklistRenderer struct {
			CaptionTracks []captionTrack `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
	PlayabilityStatus *struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
}

type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"` // "asr" = auto-generated
}

type ytTimedText struct {
	Lines []ytLine `xml:"text"`
}

type ytLine struct {
	Text string `xml:",chardata"`
}

// Innertube is the keyless fallback provider.
type Innertube struct {
	langs   []string
	timeout time.Duration
	client  *http.Client

	watchURL  string
	playerURL string
}

var _ Provider = (*Innertube)(nil)

// NewInnertube creates the adapter. langs is the preferred caption language
// order; empty defaults to English.
func NewInnertube(langs []string, timeout time.Duration, client *http.Client) *Innertube {
	if len(langs) == 0 {
		langs = []string{DefaultLanguage}
	}
	return &Innertube{
		langs:     langs,
		timeout:   timeout,
		client:    client,
		watchURL:  innertubeWatchURL,
		playerURL: innertubePlayerURL,
	}
}

func (i *Innertube) Name() string { return "innertube" }

func (i *Innertube) Fetch(ctx context.Context, videoID string) (Transcript, error) {
	incrInnertube()

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	tr, err := i.viaPageScrape(ctx, videoID)
	if err == nil {
		return tr, nil
	}
	slog.Debug("innertube: page scrape failed, trying player",
		slog.String("video", videoID), slog.Any("error", err))

	tr, err = i.viaPlayer(ctx, videoID)
	if err != nil {
		return Transcript{}, fmt.Errorf("innertube: %v: %w", err, ErrUnavailable)
	}
	return tr, nil
}

// viaPageScrape loads the watch page HTML and extracts the caption track
// from the embedded ytInitialPlayerResponse. Works from any IP.
func (i *Innertube) viaPageScrape(ctx context.Context, videoID string) (Transcript, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		i.watchURL+"?v="+url.QueryEscape(videoID), nil)
	if err != nil {
		return Transcript{}, err
	}
	req.Header.Set("User-Agent", userAgentChrome)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := i.client.Do(req)
	if err != nil {
		return Transcript{}, fmt.Errorf("watch page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Transcript{}, fmt.Errorf("watch page: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 6*1024*1024))
	if err != nil {
		return Transcript{}, fmt.Errorf("read watch page: %w", err)
	}

	idx := bytes.Index(body, []byte(playerRespMarker))
	if idx < 0 {
		return Transcript{}, errors.New("ytInitialPlayerResponse not found in watch page")
	}
	jsonData := extractJSON(body[idx+len(playerRespMarker):])
	if jsonData == nil {
		return Transcript{}, errors.New("failed to extract ytInitialPlayerResponse JSON")
	}

	var playerResp innertubePlayerResp
	if err := json.Unmarshal(jsonData, &playerResp); err != nil {
		return Transcript{}, fmt.Errorf("decode ytInitialPlayerResponse: %w", err)
	}
	return i.fromPlayerResp(ctx, playerResp)
}

// viaPlayer asks the ANDROID Innertube /player endpoint for caption tracks.
func (i *Innertube) viaPlayer(ctx context.Context, videoID string) (Transcript, error) {
	reqBody, err := json.Marshal(innertubeReq{
		VideoID: videoID,
		Context: innertubeCtx{
			Client: innertubeClient{
				ClientName:        "ANDROID",
				ClientVersion:     ytAndroidVersion,
				AndroidSdkVersion: 30,
				Hl:                "en",
				Gl:                "US",
			},
		},
		RacyCheckOk:    true,
		ContentCheckOk: true,
	})
	if err != nil {
		return Transcript{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		i.playerURL+"?prettyPrint=false", bytes.NewReader(reqBody))
	if err != nil {
		return Transcript{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", ytAndroidUA)
	req.Header.Set("X-Youtube-Client-Name", "3")
	req.Header.Set("X-Youtube-Client-Version", ytAndroidVersion)

	resp, err := i.client.Do(req)
	if err != nil {
		return Transcript{}, fmt.Errorf("android player: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Transcript{}, fmt.Errorf("android player: status %d", resp.StatusCode)
	}

	var playerResp innertubePlayerResp
	if err := json.NewDecoder(io.LimitReader(resp.Body, 3*1024*1024)).Decode(&playerResp); err != nil {
		return Transcript{}, fmt.Errorf("decode player: %w", err)
	}
	return i.fromPlayerResp(ctx, playerResp)
}

// fromPlayerResp picks a usable caption track and fetches its timedtext.
func (i *Innertube) fromPlayerResp(ctx context.Context, playerResp innertubePlayerResp) (Transcript, error) {
	if playerResp.Captions == nil {
		if ps := playerResp.PlayabilityStatus; ps != nil && ps.Reason != "" {
			return Transcript{}, fmt.Errorf("captions unavailable: %s", ps.Reason)
		}
		return Transcript{}, errors.New("no captions in player response")
	}
	tracks := playerResp.Captions.PlayerCaptionsTracklistRenderer.CaptionTracks
	if len(tracks) == 0 {
		return Transcript{}, errors.New("no caption tracks")
	}
	track, ok := pickBestTrack(tracks, i.langs)
	if !ok {
		return Transcript{}, errors.New("all caption tracks require PoToken")
	}
	text, err := i.fetchTimedText(ctx, track.BaseURL)
	if err != nil {
		return Transcript{}, err
	}
	if text == "" {
		return Transcript{}, errors.New("empty timedtext")
	}
	return Transcript{Text: text, Language: track.LanguageCode}, nil
}

// needsPoToken reports whether a caption track URL requires a PoToken.
// Tracks with &exp=xpe cannot be fetched server-side.
func needsPoToken(baseURL string) bool {
	return strings.Contains(baseURL, "&exp=xpe")
}

// pickBestTrack selects the best usable caption track for the language
// preferences: manual preferred language, then auto-generated preferred
// language, then any English, then whatever is first.
func pickBestTrack(tracks []captionTrack, langs []string) (captionTrack, bool) {
	usable := make([]captionTrack, 0, len(tracks))
	for _, t := range tracks {
		if !needsPoToken(t.BaseURL) {
			usable = append(usable, t)
		}
	}
	if len(usable) == 0 {
		return tracks[0], false
	}
	for _, lang := range langs {
		for _, t := range usable {
			if t.LanguageCode == lang && t.Kind != "asr" {
				return t, true
			}
		}
	}
	for _, lang := range langs {
		for _, t := range usable {
			if t.LanguageCode == lang {
				return t, true
			}
		}
	}
	for _, t := range usable {
		if strings.HasPrefix(t.LanguageCode, "en") {
			return t, true
		}
	}
	return usable[0], true
}

var captionTagRe = regexp.MustCompile(`<[^>]+>`)

// fetchTimedText downloads and flattens a timedtext XML caption URL.
// Lines are tag-stripped and joined with single spaces.
func (i *Innertube) fetchTimedText(ctx context.Context, baseURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgentPlain)

	resp, err := i.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch timedtext: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("timedtext: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return "", err
	}

	var tt ytTimedText
	if err := xml.Unmarshal(body, &tt); err != nil {
		return "", fmt.Errorf("parse timedtext XML: %w", err)
	}

	var sb strings.Builder
	for _, line := range tt.Lines {
		text := strings.TrimSpace(captionTagRe.ReplaceAllString(line.Text, ""))
		if text != "" {
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(text)
		}
	}
	return sb.String(), nil
}

// extractJSON returns the complete JSON object at the start of b, located
// by walking brace depth outside string literals.
func extractJSON(b []byte) []byte {
	if len(b) == 0 || b[0] != '{' {
		return nil
	}
	var depth int
	var inStr, esc bool
	for i, c := range b {
		switch {
		case esc:
			esc = false
		case inStr:
			switch c {
			case '\\':
				esc = true
			case '"':
				inStr = false
			}
		default:
			switch c {
			case '"':
				inStr = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return b[:i+1]
				}
			}
		}
	}
	return nil
}
