package briefs

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Episode is one row of the episodes table. Timestamps are RFC 3339 UTC
// strings; empty means NULL.
type Episode struct {
	VideoID      string
	ChannelID    string
	ChannelTitle string
	Title        string
	URL          string
	PublishedAt  string
	FetchedAt    string

	TranscriptText     string
	TranscriptProvider string
	TranscriptLanguage string
	TranscriptChecksum string
	TranscriptLength   int
	TranscriptPath     string
	TranscriptOnDisk   bool

	SummaryText      string
	SummaryModel     string
	SummaryCreatedAt string

	UpdatedAt string
}

// TranscriptRecord is the transcript field group written in one update.
type TranscriptRecord struct {
	Text     string
	Provider string
	Language string
	Checksum string
	Length   int
	Path     string
	OnDisk   bool
}

// ChannelStats is one per-channel line of the stats report.
type ChannelStats struct {
	Channel     string
	Episodes    int
	Transcripts int
	Summaries   int
}

// Stats summarizes archive state for the status command.
type Stats struct {
	Episodes       int
	WithTranscript int
	WithSummary    int
	Channels       []ChannelStats
}

// Store is the episode archive, backed by a single SQLite file.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the database file.
func OpenStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("store: mkdir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite: single writer
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Init creates the schema if it does not exist. Safe to call repeatedly.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS episodes (
		video_id            TEXT PRIMARY KEY,
		channel_id          TEXT,
		channel_title       TEXT,
		title               TEXT,
		url                 TEXT,
		published_at        TEXT,
		fetched_at          TEXT,
		transcript_text     TEXT,
		transcript_provider TEXT,
		transcript_language TEXT,
		transcript_checksum TEXT,
		transcript_length   INTEGER,
		transcript_path     TEXT,
		transcript_on_disk  INTEGER NOT NULL DEFAULT 0,
		summary_text        TEXT,
		summary_model       TEXT,
		summary_created_at  TEXT,
		updated_at          TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("store: create table: %w", err)
	}
	for _, idx := range []string{
		`CREATE INDEX IF NOT EXISTS idx_episodes_channel_published
			ON episodes (channel_title, published_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_episodes_summary_created
			ON episodes (summary_created_at DESC)`,
	} {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("store: create index: %w", err)
		}
	}
	return nil
}

const episodeColumns = `video_id, channel_id, channel_title, title, url,
	published_at, fetched_at,
	transcript_text, transcript_provider, transcript_language,
	transcript_checksum, transcript_length, transcript_path, transcript_on_disk,
	summary_text, summary_model, summary_created_at, updated_at`

// InsertEpisode adds a catalog row if it is not already present.
// Returns true when a new row was inserted.
func (s *Store) InsertEpisode(ctx context.Context, ep Episode) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	fetched := ep.FetchedAt
	if fetched == "" {
		fetched = now
	}
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO episodes
		(video_id, channel_id, channel_title, title, url, published_at, fetched_at, transcript_on_disk, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		ep.VideoID, ep.ChannelID, ep.ChannelTitle, ep.Title, ep.URL,
		nullIfEmpty(ep.PublishedAt), fetched, now)
	if err != nil {
		return false, fmt.Errorf("store: insert %s: %w", ep.VideoID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: insert %s: %w", ep.VideoID, err)
	}
	return n > 0, nil
}

// Episode returns a single row, or nil when the ID is unknown.
func (s *Store) Episode(ctx context.Context, videoID string) (*Episode, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+episodeColumns+` FROM episodes WHERE video_id = ?`, videoID)
	ep, err := scanEpisode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", videoID, err)
	}
	return &ep, nil
}

// EpisodesWithoutTranscript selects the most recently cataloged rows that
// still need a transcript, newest first.
func (s *Store) EpisodesWithoutTranscript(ctx context.Context, limit int) ([]Episode, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+episodeColumns+`
		FROM episodes
		WHERE transcript_text IS NULL
		ORDER BY COALESCE(published_at, fetched_at) DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: select without transcript: %w", err)
	}
	return collectEpisodes(rows)
}

// UpdateTranscript commits the whole transcript field group in one statement.
func (s *Store) UpdateTranscript(ctx context.Context, videoID string, rec TranscriptRecord) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `UPDATE episodes SET
		transcript_text = ?, transcript_provider = ?, transcript_language = ?,
		transcript_checksum = ?, transcript_length = ?, transcript_path = ?,
		transcript_on_disk = ?, updated_at = ?
		WHERE video_id = ?`,
		rec.Text, rec.Provider, rec.Language, rec.Checksum, rec.Length,
		rec.Path, boolToInt(rec.OnDisk), now, videoID)
	if err != nil {
		return fmt.Errorf("store: update transcript %s: %w", videoID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update transcript %s: %w", videoID, err)
	}
	if n == 0 {
		return fmt.Errorf("store: update transcript %s: episode not found", videoID)
	}
	return nil
}

// EpisodesForSummary selects rows with a transcript but no summary, newest first.
func (s *Store) EpisodesForSummary(ctx context.Context, limit int) ([]Episode, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+episodeColumns+`
		FROM episodes
		WHERE transcript_text IS NOT NULL AND summary_text IS NULL
		ORDER BY COALESCE(published_at, fetched_at) DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: select for summary: %w", err)
	}
	return collectEpisodes(rows)
}

// UpdateSummary stores a generated summary for an episode.
func (s *Store) UpdateSummary(ctx context.Context, videoID, summary, model string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `UPDATE episodes SET
		summary_text = ?, summary_model = ?, summary_created_at = ?, updated_at = ?
		WHERE video_id = ?`,
		summary, model, now, now, videoID)
	if err != nil {
		return fmt.Errorf("store: update summary %s: %w", videoID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update summary %s: %w", videoID, err)
	}
	if n == 0 {
		return fmt.Errorf("store: update summary %s: episode not found", videoID)
	}
	return nil
}

// RecentSummaries returns episodes summarized within the last N days,
// grouped by channel for digest rendering.
func (s *Store) RecentSummaries(ctx context.Context, days int) ([]Episode, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)
	rows, err := s.db.QueryContext(ctx, `SELECT `+episodeColumns+`
		FROM episodes
		WHERE summary_text IS NOT NULL AND summary_created_at >= ?
		ORDER BY channel_title, COALESCE(published_at, fetched_at) DESC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("store: select recent summaries: %w", err)
	}
	return collectEpisodes(rows)
}

// EpisodesOnDisk returns rows whose transcript copy is believed to be on disk.
func (s *Store) EpisodesOnDisk(ctx context.Context) ([]Episode, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+episodeColumns+`
		FROM episodes
		WHERE transcript_on_disk = 1 AND transcript_path IS NOT NULL
		ORDER BY video_id`)
	if err != nil {
		return nil, fmt.Errorf("store: select on disk: %w", err)
	}
	return collectEpisodes(rows)
}

// SetTranscriptOnDisk flips the on-disk flag without touching the transcript.
func (s *Store) SetTranscriptOnDisk(ctx context.Context, videoID string, onDisk bool) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx,
		`UPDATE episodes SET transcript_on_disk = ?, updated_at = ? WHERE video_id = ?`,
		boolToInt(onDisk), now, videoID)
	if err != nil {
		return fmt.Errorf("store: set on disk %s: %w", videoID, err)
	}
	return nil
}

// Stats reports archive totals and a per-channel breakdown.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(transcript_text), COUNT(summary_text) FROM episodes`).
		Scan(&st.Episodes, &st.WithTranscript, &st.WithSummary)
	if err != nil {
		return Stats{}, fmt.Errorf("store: stats: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT channel_title,
		COUNT(*), COUNT(transcript_text), COUNT(summary_text)
		FROM episodes GROUP BY channel_title ORDER BY channel_title`)
	if err != nil {
		return Stats{}, fmt.Errorf("store: channel stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cs ChannelStats
		var channel sql.NullString
		if err := rows.Scan(&channel, &cs.Episodes, &cs.Transcripts, &cs.Summaries); err != nil {
			return Stats{}, fmt.Errorf("store: channel stats: %w", err)
		}
		cs.Channel = channel.String
		st.Channels = append(st.Channels, cs)
	}
	return st, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEpisode(row rowScanner) (Episode, error) {
	var ep Episode
	var channelID, channelTitle, title, url, publishedAt, fetchedAt sql.NullString
	var text, provider, language, checksum, path sql.NullString
	var length sql.NullInt64
	var onDisk int
	var summary, model, summaryCreated sql.NullString

	err := row.Scan(&ep.VideoID, &channelID, &channelTitle, &title, &url,
		&publishedAt, &fetchedAt,
		&text, &provider, &language, &checksum, &length, &path, &onDisk,
		&summary, &model, &summaryCreated, &ep.UpdatedAt)
	if err != nil {
		return Episode{}, err
	}

	ep.ChannelID = channelID.String
	ep.ChannelTitle = channelTitle.String
	ep.Title = title.String
	ep.URL = url.String
	ep.PublishedAt = publishedAt.String
	ep.FetchedAt = fetchedAt.String
	ep.TranscriptText = text.String
	ep.TranscriptProvider = provider.String
	ep.TranscriptLanguage = language.String
	ep.TranscriptChecksum = checksum.String
	ep.TranscriptLength = int(length.Int64)
	ep.TranscriptPath = path.String
	ep.TranscriptOnDisk = onDisk != 0
	ep.SummaryText = summary.String
	ep.SummaryModel = model.String
	ep.SummaryCreatedAt = summaryCreated.String
	return ep, nil
}

func collectEpisodes(rows *sql.Rows) ([]Episode, error) {
	defer rows.Close()
	var eps []Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan episode: %w", err)
		}
		eps = append(eps, ep)
	}
	return eps, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
