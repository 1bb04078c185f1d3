package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"
)

// Transcript providers. Each adapter wraps one external source and
// normalizes it to a single outcome: a transcript with a language tag, or
// ErrUnavailable. Provider-specific failures never escape an adapter in any
// other form, so the chain can treat every miss the same way.

// DefaultLanguage is assumed when a provider does not report one.
const DefaultLanguage = "en"

// ErrUnavailable is the expected-miss outcome: the source has no usable
// transcript for this video. Checked with errors.Is.
var ErrUnavailable = errors.New("transcript unavailable")

// Transcript is the normalized result shape shared by all providers.
type Transcript struct {
	Text     string
	Language string
}

// Provider fetches the transcript for one video from one source.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, videoID string) (Transcript, error)
}

// Chain tries providers in a fixed order, one call at a time, and accepts
// the first transcript that passes the minimum-length gate.
type Chain struct {
	providers []Provider
	minChars  int
}

// NewChain assembles a chain from the configured order. Names without a
// constructed provider (unknown, or disabled in config) are skipped with a
// warning.
func NewChain(order []string, minChars int, byName map[string]Provider) *Chain {
	ps := make([]Provider, 0, len(order))
	for _, name := range order {
		p, ok := byName[name]
		if !ok || p == nil {
			slog.Warn("transcripts: provider not configured, skipping",
				slog.String("provider", name))
			continue
		}
		ps = append(ps, p)
	}
	return &Chain{providers: ps, minChars: minChars}
}

// Names returns the provider names in try order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// Fetch walks the chain for one video and returns the accepted transcript
// together with the name of the provider that produced it. When every
// provider misses or is rejected, the chain itself reports ErrUnavailable:
// an expected terminal outcome, not a fault.
func (c *Chain) Fetch(ctx context.Context, videoID string) (Transcript, string, error) {
	for _, p := range c.providers {
		tr, err := p.Fetch(ctx, videoID)
		if err != nil {
			// Anything an adapter lets out counts as a miss; only the log
			// level distinguishes expected from unexpected.
			if errors.Is(err, ErrUnavailable) {
				slog.Debug("transcripts: provider miss",
					slog.String("provider", p.Name()),
					slog.String("video", videoID),
					slog.Any("error", err))
			} else {
				slog.Warn("transcripts: provider fault",
					slog.String("provider", p.Name()),
					slog.String("video", videoID),
					slog.Any("error", err))
			}
			continue
		}
		if n := utf8.RuneCountInString(tr.Text); n < c.minChars {
			slog.Warn("transcripts: transcript too short, trying next provider",
				slog.String("provider", p.Name()),
				slog.String("video", videoID),
				slog.Int("chars", n),
				slog.Int("min", c.minChars))
			continue
		}
		if tr.Language == "" {
			tr.Language = DefaultLanguage
		}
		slog.Info("transcripts: fetched",
			slog.String("provider", p.Name()),
			slog.String("video", videoID),
			slog.Int("chars", utf8.RuneCountInString(tr.Text)))
		return tr, p.Name(), nil
	}
	return Transcript{}, "", fmt.Errorf("video %s: all providers exhausted: %w", videoID, ErrUnavailable)
}
