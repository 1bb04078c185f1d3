package briefs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"log/slog"

	"github.com/cenkalti/backoff/v5"
)

// Summarization: feed stored transcripts to a local Ollama model and keep
// the result in the row plus a Markdown copy on disk.

const (
	ollamaHealthTimeout = 5 * time.Second

	promptPlaceholder = "{transcript}"
	maxPromptRunes    = 8000
	truncationMarker  = "\n\n[TRANSCRIPT TRUNCATED]"
)

// builtinPrompt is the fallback when no prompt file is readable.
const builtinPrompt = `Summarize the following podcast transcript in Markdown.
Start with a one-paragraph overview, then list the key points discussed,
the speakers if they are named, and any resources or action items mentioned.

Transcript:

{transcript}`

// OllamaClient talks to a local Ollama server.
type OllamaClient struct {
	host    string
	model   string
	timeout time.Duration
	retries int
	client  *http.Client

	retryInterval time.Duration
}

// NewOllamaClient builds a client from config. The model generation timeout
// applies per attempt.
func NewOllamaClient(cfg SummarizeConfig, client *http.Client) *OllamaClient {
	return &OllamaClient{
		host:          strings.TrimRight(cfg.Host, "/"),
		model:         cfg.Model,
		timeout:       cfg.Timeout(),
		retries:       cfg.Retries,
		client:        client,
		retryInterval: time.Second,
	}
}

// Healthy checks that the Ollama server answers at all.
func (o *OllamaClient) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, ollamaHealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.host+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama not reachable at %s: %w", o.host, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama at %s: status %d", o.host, resp.StatusCode)
	}
	return nil
}

type ollamaGenerateReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResp struct {
	Response string `json:"response"`
}

// Generate runs one prompt through the model, retrying transient failures
// with exponential backoff. Client errors from the server are permanent.
func (o *OllamaClient) Generate(ctx context.Context, prompt string) (string, error) {
	operation := func() (string, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, o.timeout)
		defer cancel()

		body, err := json.Marshal(ollamaGenerateReq{
			Model:  o.model,
			Prompt: prompt,
			Stream: false,
		})
		if err != nil {
			return "", backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost,
			o.host+"/api/generate", bytes.NewReader(body))
		if err != nil {
			return "", backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := o.client.Do(req)
		if err != nil {
			// Timeouts and refused connections happen while the model
			// loads; worth retrying.
			return "", err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
			respErr := fmt.Errorf("ollama generate: status %d: %s", resp.StatusCode, snippet)
			if resp.StatusCode >= 500 {
				return "", respErr
			}
			return "", backoff.Permanent(respErr)
		}

		var out ollamaGenerateResp
		if err := json.NewDecoder(io.LimitReader(resp.Body, 10*1024*1024)).Decode(&out); err != nil {
			return "", backoff.Permanent(fmt.Errorf("ollama generate: decode: %w", err))
		}
		if strings.TrimSpace(out.Response) == "" {
			return "", errors.New("ollama generate: empty response")
		}
		return out.Response, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.retryInterval
	bo.MaxInterval = 30 * time.Second

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo), backoff.WithMaxTries(uint(o.retries)))
}

// generator is the model surface the summarizer drives.
type generator interface {
	Healthy(ctx context.Context) error
	Generate(ctx context.Context, prompt string) (string, error)
}

type summaryStore interface {
	EpisodesForSummary(ctx context.Context, limit int) ([]Episode, error)
	UpdateSummary(ctx context.Context, videoID, summary, model string) error
}

// Summarizer runs one summarization pass. Prompt templates are read once
// per run and cached on the Summarizer itself, so construct a fresh one
// per run rather than sharing it.
type Summarizer struct {
	store          summaryStore
	gen            generator
	model          string
	promptPath     string
	channelPrompts map[string]string
	summaryDir     string

	templates map[string]string
}

// NewSummarizer wires a summarization run.
func NewSummarizer(store summaryStore, gen generator, cfg SummarizeConfig, summaryDir string) *Summarizer {
	return &Summarizer{
		store:          store,
		gen:            gen,
		model:          cfg.Model,
		promptPath:     cfg.PromptPath,
		channelPrompts: cfg.ChannelPrompts,
		summaryDir:     summaryDir,
		templates:      make(map[string]string),
	}
}

// SummarizeResult counts a run's outcomes.
type SummarizeResult struct {
	Selected int
	Done     int
	Failed   int
}

// Run summarizes up to limit episodes that have a transcript but no
// summary. The health check runs first so a dead Ollama fails fast.
func (s *Summarizer) Run(ctx context.Context, limit int) (SummarizeResult, error) {
	if err := s.gen.Healthy(ctx); err != nil {
		return SummarizeResult{}, err
	}

	episodes, err := s.store.EpisodesForSummary(ctx, limit)
	if err != nil {
		return SummarizeResult{}, fmt.Errorf("select episodes: %w", err)
	}
	res := SummarizeResult{Selected: len(episodes)}
	slog.Info("summarize run started",
		slog.Int("selected", res.Selected), slog.String("model", s.model))

	for _, ep := range episodes {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		prompt := buildPrompt(s.promptTemplate(ep.ChannelTitle), ep.TranscriptText)
		raw, err := s.gen.Generate(ctx, prompt)
		if err != nil {
			slog.Error("summarize episode",
				slog.String("video", ep.VideoID), slog.Any("error", err))
			res.Failed++
			continue
		}

		summary := cleanSummary(raw)
		if err := s.store.UpdateSummary(ctx, ep.VideoID, summary, s.model); err != nil {
			slog.Error("record summary",
				slog.String("video", ep.VideoID), slog.Any("error", err))
			res.Failed++
			continue
		}
		s.writeSummaryFile(ep, summary)
		slog.Info("episode summarized",
			slog.String("video", ep.VideoID),
			slog.Int("chars", utf8.RuneCountInString(summary)))
		res.Done++
	}

	slog.Info("summarize run finished",
		slog.Int("done", res.Done), slog.Int("failed", res.Failed))
	return res, nil
}

// promptTemplate resolves the template for a channel, reading each file at
// most once per run. Unreadable files fall back to the built-in prompt.
func (s *Summarizer) promptTemplate(channel string) string {
	path := s.promptPath
	if p := s.channelPrompts[channel]; p != "" {
		path = p
	}
	if tpl, ok := s.templates[path]; ok {
		return tpl
	}

	var tpl string
	data, err := os.ReadFile(path)
	switch {
	case err != nil:
		slog.Warn("prompt file not readable, using built-in prompt",
			slog.String("path", path), slog.Any("error", err))
		tpl = builtinPrompt
	case !strings.Contains(string(data), promptPlaceholder):
		slog.Warn("prompt file has no {transcript} placeholder, appending one",
			slog.String("path", path))
		tpl = string(data) + "\n\n" + promptPlaceholder
	default:
		tpl = string(data)
	}
	s.templates[path] = tpl
	return tpl
}

// buildPrompt substitutes the transcript into the template, truncating
// very long transcripts so the context window is not blown.
func buildPrompt(tpl, transcript string) string {
	if utf8.RuneCountInString(transcript) > maxPromptRunes {
		runes := []rune(transcript)
		transcript = string(runes[:maxPromptRunes]) + truncationMarker
	}
	return strings.ReplaceAll(tpl, promptPlaceholder, transcript)
}

// cleanSummary trims the model output and makes sure it reads as a
// Markdown document.
func cleanSummary(raw string) string {
	out := strings.TrimSpace(raw)
	if !strings.HasPrefix(out, "#") {
		out = "# Summary\n\n" + out
	}
	return out
}

// writeSummaryFile drops a Markdown copy of the summary next to the
// transcripts. Best effort: the row is already committed.
func (s *Summarizer) writeSummaryFile(ep Episode, summary string) {
	path := SummaryPath(s.summaryDir, ep.VideoID, ep.Title)
	if err := os.MkdirAll(s.summaryDir, 0o750); err != nil {
		slog.Warn("create summary dir", slog.String("dir", s.summaryDir), slog.Any("error", err))
		return
	}
	if err := os.WriteFile(path, []byte(summary+"\n"), 0o644); err != nil {
		slog.Warn("write summary file", slog.String("path", path), slog.Any("error", err))
	}
}
