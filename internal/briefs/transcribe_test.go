package briefs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/kosiuzo/duckdb-broadcast-briefs/internal/briefs/providers"
)

// stubSource replaces the provider chain with canned transcripts.
type stubSource struct {
	byVideo  map[string]providers.Transcript
	provider string
	err      error
	calls    int
}

func (s *stubSource) Fetch(ctx context.Context, videoID string) (providers.Transcript, string, error) {
	s.calls++
	if s.err != nil {
		return providers.Transcript{}, "", s.err
	}
	return s.byVideo[videoID], s.provider, nil
}

// stubProvider is a chain member with a fixed outcome.
type stubProvider struct {
	name  string
	text  string
	err   error
	calls int
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Fetch(ctx context.Context, videoID string) (providers.Transcript, error) {
	p.calls++
	if p.err != nil {
		return providers.Transcript{}, p.err
	}
	return providers.Transcript{Text: p.text, Language: "en"}, nil
}

func TestTranscriberRunPersistsFileAndRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedEpisode(t, s, "vid1", "Show", "Ep 1", "2026-08-01T10:00:00Z")

	text := strings.Repeat("every word of the episode ", 40)
	source := &stubSource{
		byVideo:  map[string]providers.Transcript{"vid1": {Text: text, Language: "en"}},
		provider: "supadata",
	}
	dir := t.TempDir()

	sum, err := NewTranscriber(s, source, dir).Run(ctx, 10)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if sum.Selected != 1 || sum.Done != 1 || sum.Skipped != 0 || sum.Failed != 0 {
		t.Errorf("summary = %+v, want 1 selected, 1 done", sum)
	}

	// The row and the file must describe the same bytes.
	ep, err := s.Episode(ctx, "vid1")
	if err != nil {
		t.Fatalf("Episode error: %v", err)
	}
	if ep.TranscriptText != text {
		t.Error("stored transcript differs from fetched transcript")
	}
	if ep.TranscriptProvider != "supadata" {
		t.Errorf("provider = %q, want supadata", ep.TranscriptProvider)
	}
	if ep.TranscriptLanguage != "en" {
		t.Errorf("language = %q, want en", ep.TranscriptLanguage)
	}
	if want := utf8.RuneCountInString(text); ep.TranscriptLength != want {
		t.Errorf("length = %d, want %d", ep.TranscriptLength, want)
	}
	if !ep.TranscriptOnDisk {
		t.Error("on_disk flag not set")
	}

	wantPath := TranscriptPath(dir, "vid1", "Ep 1")
	if ep.TranscriptPath != wantPath {
		t.Errorf("path = %q, want %q", ep.TranscriptPath, wantPath)
	}
	fileSum, err := FileChecksumHex(ep.TranscriptPath)
	if err != nil {
		t.Fatalf("transcript file not readable: %v", err)
	}
	if fileSum != ep.TranscriptChecksum {
		t.Errorf("file checksum %s != recorded checksum %s", fileSum, ep.TranscriptChecksum)
	}
}

func TestTranscriberRunIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedEpisode(t, s, "vid1", "Show", "Ep 1", "2026-08-01T10:00:00Z")

	source := &stubSource{
		byVideo:  map[string]providers.Transcript{"vid1": {Text: strings.Repeat("a", 500)}},
		provider: "ytio",
	}
	tr := NewTranscriber(s, source, t.TempDir())

	first, err := tr.Run(ctx, 10)
	if err != nil {
		t.Fatalf("first Run error: %v", err)
	}
	if first.Done != 1 {
		t.Fatalf("first run done = %d, want 1", first.Done)
	}

	// Second run finds nothing eligible and fetches nothing.
	second, err := tr.Run(ctx, 10)
	if err != nil {
		t.Fatalf("second Run error: %v", err)
	}
	if second.Selected != 0 {
		t.Errorf("second run selected = %d, want 0", second.Selected)
	}
	if source.calls != 1 {
		t.Errorf("source calls = %d, want 1", source.calls)
	}
}

func TestTranscriberRunSkipsUnavailable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedEpisode(t, s, "vid1", "Show", "Ep 1", "2026-08-01T10:00:00Z")

	source := &stubSource{err: fmt.Errorf("all providers exhausted: %w", providers.ErrUnavailable)}
	dir := t.TempDir()

	sum, err := NewTranscriber(s, source, dir).Run(ctx, 10)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if sum.Skipped != 1 || sum.Done != 0 || sum.Failed != 0 {
		t.Errorf("summary = %+v, want 1 skipped", sum)
	}

	// Still eligible next run; nothing was written.
	eps, err := s.EpisodesWithoutTranscript(ctx, 10)
	if err != nil {
		t.Fatalf("EpisodesWithoutTranscript error: %v", err)
	}
	if len(eps) != 1 {
		t.Errorf("eligible episodes = %d, want 1", len(eps))
	}
	ep, err := s.Episode(ctx, "vid1")
	if err != nil {
		t.Fatalf("Episode error: %v", err)
	}
	if ep.TranscriptText != "" || ep.TranscriptProvider != "" ||
		ep.TranscriptChecksum != "" || ep.TranscriptLength != 0 ||
		ep.TranscriptPath != "" || ep.TranscriptOnDisk {
		t.Errorf("transcript fields not all empty after exhaustion: %+v", ep)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("transcript dir has %d entries, want 0", len(entries))
	}
}

func TestTranscriberRunSelectionBound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		seedEpisode(t, s, fmt.Sprintf("vid%d", i), "Show", fmt.Sprintf("Ep %d", i),
			fmt.Sprintf("2026-08-%02dT10:00:00Z", i))
	}

	text := strings.Repeat("x", 500)
	source := &stubSource{provider: "ytio", byVideo: map[string]providers.Transcript{
		"vid1": {Text: text}, "vid2": {Text: text}, "vid3": {Text: text},
		"vid4": {Text: text}, "vid5": {Text: text},
	}}

	sum, err := NewTranscriber(s, source, t.TempDir()).Run(ctx, 3)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if sum.Selected != 3 || sum.Done != 3 {
		t.Errorf("summary = %+v, want 3 selected, 3 done", sum)
	}

	left, err := s.EpisodesWithoutTranscript(ctx, 10)
	if err != nil {
		t.Fatalf("EpisodesWithoutTranscript error: %v", err)
	}
	if len(left) != 2 {
		t.Errorf("episodes left = %d, want 2", len(left))
	}
}

// The full failover path: a dead provider, a too-short one, then a good
// one, driven through the real chain against the real store.
func TestTranscriberRunFailover(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedEpisode(t, s, "abc123", "Show", "The Long One", "2026-08-01T10:00:00Z")

	paid1 := &stubProvider{name: "paid1",
		err: fmt.Errorf("paid1: deadline exceeded: %w", providers.ErrUnavailable)}
	free1 := &stubProvider{name: "free1", text: strings.Repeat("a", 50)}
	paid2 := &stubProvider{name: "paid2", text: strings.Repeat("b", 12000)}

	chain := providers.NewChain(
		[]string{"paid1", "free1", "paid2"}, 400,
		map[string]providers.Provider{"paid1": paid1, "free1": free1, "paid2": paid2},
	)
	dir := t.TempDir()

	sum, err := NewTranscriber(s, chain, dir).Run(ctx, 10)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if sum.Done != 1 {
		t.Fatalf("done = %d, want 1", sum.Done)
	}
	if paid1.calls != 1 || free1.calls != 1 || paid2.calls != 1 {
		t.Errorf("calls paid1=%d free1=%d paid2=%d, want 1 each",
			paid1.calls, free1.calls, paid2.calls)
	}

	ep, err := s.Episode(ctx, "abc123")
	if err != nil {
		t.Fatalf("Episode error: %v", err)
	}
	if ep.TranscriptProvider != "paid2" {
		t.Errorf("provider = %q, want paid2", ep.TranscriptProvider)
	}
	if ep.TranscriptLength != 12000 {
		t.Errorf("length = %d, want 12000", ep.TranscriptLength)
	}
	if !ep.TranscriptOnDisk {
		t.Error("on_disk flag not set")
	}
	fileSum, err := FileChecksumHex(ep.TranscriptPath)
	if err != nil {
		t.Fatalf("transcript file not readable: %v", err)
	}
	if fileSum != ep.TranscriptChecksum {
		t.Errorf("file checksum %s != recorded checksum %s", fileSum, ep.TranscriptChecksum)
	}
}

// failingStore accepts selection but rejects every transcript update.
type failingStore struct {
	eps []Episode
}

func (f *failingStore) EpisodesWithoutTranscript(ctx context.Context, limit int) ([]Episode, error) {
	return f.eps, nil
}

func (f *failingStore) UpdateTranscript(ctx context.Context, videoID string, rec TranscriptRecord) error {
	return errors.New("database is locked")
}

func TestTranscriberRunRemovesFileOnDBFailure(t *testing.T) {
	dir := t.TempDir()
	store := &failingStore{eps: []Episode{{VideoID: "vid1", Title: "Ep 1"}}}
	source := &stubSource{
		byVideo:  map[string]providers.Transcript{"vid1": {Text: strings.Repeat("a", 500)}},
		provider: "ytio",
	}

	sum, err := NewTranscriber(store, source, dir).Run(context.Background(), 10)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if sum.Failed != 1 {
		t.Errorf("failed = %d, want 1", sum.Failed)
	}

	// No orphan file may survive a failed row update.
	if _, err := os.Stat(TranscriptPath(dir, "vid1", "Ep 1")); !os.IsNotExist(err) {
		t.Errorf("transcript file still exists after DB failure (stat err: %v)", err)
	}
}

func TestTranscriberRunStopsOnCanceledContext(t *testing.T) {
	store := &failingStore{eps: []Episode{{VideoID: "vid1", Title: "Ep 1"}}}
	source := &stubSource{provider: "ytio"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewTranscriber(store, source, t.TempDir()).Run(ctx, 10)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if source.calls != 0 {
		t.Errorf("source calls = %d, want 0", source.calls)
	}
}
