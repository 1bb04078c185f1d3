package briefs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"log/slog"

	"github.com/kosiuzo/duckdb-broadcast-briefs/internal/briefs/providers"
)

// Transcript acquisition run: select episodes that still need a transcript,
// fetch each through the provider chain, and persist file + row together.

// TranscriptSource yields a transcript and the name of the provider that
// produced it. The provider chain is the production implementation.
type TranscriptSource interface {
	Fetch(ctx context.Context, videoID string) (providers.Transcript, string, error)
}

type transcriptStore interface {
	EpisodesWithoutTranscript(ctx context.Context, limit int) ([]Episode, error)
	UpdateTranscript(ctx context.Context, videoID string, rec TranscriptRecord) error
}

// Transcriber runs the acquisition pipeline over the archive.
type Transcriber struct {
	store  transcriptStore
	source TranscriptSource
	dir    string
}

// NewTranscriber wires the pipeline. dir is where transcript files land.
func NewTranscriber(store transcriptStore, source TranscriptSource, dir string) *Transcriber {
	return &Transcriber{store: store, source: source, dir: dir}
}

// RunSummary counts what happened to each selected episode.
type RunSummary struct {
	Selected int
	Done     int
	Skipped  int
	Failed   int
}

// Run processes up to limit episodes sequentially. Episodes whose providers
// are all exhausted are skipped and stay eligible for the next run; only a
// persistence failure counts as failed. A run error is returned only when
// selection itself fails or the context is canceled.
func (t *Transcriber) Run(ctx context.Context, limit int) (RunSummary, error) {
	episodes, err := t.store.EpisodesWithoutTranscript(ctx, limit)
	if err != nil {
		return RunSummary{}, fmt.Errorf("select episodes: %w", err)
	}
	sum := RunSummary{Selected: len(episodes)}
	slog.Info("transcription run started",
		slog.Int("selected", sum.Selected), slog.Int("limit", limit))

	for _, ep := range episodes {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		tr, provider, err := t.source.Fetch(ctx, ep.VideoID)
		if err != nil {
			if errors.Is(err, providers.ErrUnavailable) {
				slog.Warn("transcript unavailable",
					slog.String("video", ep.VideoID), slog.String("title", ep.Title))
				sum.Skipped++
			} else {
				slog.Error("transcript fetch failed",
					slog.String("video", ep.VideoID), slog.Any("error", err))
				sum.Failed++
			}
			continue
		}

		if err := t.persist(ctx, ep, tr, provider); err != nil {
			slog.Error("persist transcript",
				slog.String("video", ep.VideoID), slog.Any("error", err))
			sum.Failed++
			continue
		}
		slog.Info("transcript stored",
			slog.String("video", ep.VideoID),
			slog.String("provider", provider),
			slog.Int("chars", utf8.RuneCountInString(tr.Text)))
		sum.Done++
	}

	slog.Info("transcription run finished",
		slog.Int("done", sum.Done), slog.Int("skipped", sum.Skipped),
		slog.Int("failed", sum.Failed))
	return sum, nil
}

// persist writes the transcript file, re-reads it so checksum and length
// describe the bytes on disk, then commits the row. If the row update
// fails the file is removed so disk and database do not drift apart.
func (t *Transcriber) persist(ctx context.Context, ep Episode, tr providers.Transcript, provider string) error {
	path := TranscriptPath(t.dir, ep.VideoID, ep.Title)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create transcript dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(tr.Text), 0o644); err != nil {
		return fmt.Errorf("write transcript file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		removeQuiet(path)
		return fmt.Errorf("verify transcript file: %w", err)
	}
	text := string(data)

	rec := TranscriptRecord{
		Text:     text,
		Provider: provider,
		Language: tr.Language,
		Checksum: ChecksumHex(text),
		Length:   utf8.RuneCountInString(text),
		Path:     path,
		OnDisk:   true,
	}
	if err := t.store.UpdateTranscript(ctx, ep.VideoID, rec); err != nil {
		removeQuiet(path)
		return fmt.Errorf("record transcript: %w", err)
	}
	return nil
}

func removeQuiet(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("remove transcript file",
			slog.String("path", path), slog.Any("error", err))
	}
}
