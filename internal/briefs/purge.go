package briefs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"log/slog"
)

// Housekeeping: delete transcript files whose bytes are verifiably in the
// database. The database copy is the archive; the files are a convenience.

type purgeStore interface {
	EpisodesOnDisk(ctx context.Context) ([]Episode, error)
	SetTranscriptOnDisk(ctx context.Context, videoID string, onDisk bool) error
}

// PurgeResult counts what a housekeeping pass found.
type PurgeResult struct {
	Checked    int
	Purged     int
	Missing    int
	Mismatched int
}

// Purge walks every row that claims an on-disk transcript and reconciles
// it with the file. A file is deleted only when its hash matches the
// recorded checksum; mismatches are left in place for a human. With
// dryRun nothing is deleted and no flags change.
func Purge(ctx context.Context, store purgeStore, dryRun bool) (PurgeResult, error) {
	eps, err := store.EpisodesOnDisk(ctx)
	if err != nil {
		return PurgeResult{}, fmt.Errorf("select on-disk episodes: %w", err)
	}
	res := PurgeResult{Checked: len(eps)}
	slog.Info("purge started", slog.Int("candidates", len(eps)), slog.Bool("dry_run", dryRun))

	for _, ep := range eps {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		sum, err := FileChecksumHex(ep.TranscriptPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			res.Missing++
			slog.Warn("transcript file missing",
				slog.String("video", ep.VideoID), slog.String("path", ep.TranscriptPath))
			if dryRun {
				continue
			}
			if err := store.SetTranscriptOnDisk(ctx, ep.VideoID, false); err != nil {
				return res, err
			}

		case err != nil:
			// Unreadable counts as a mismatch: cannot verify, do not touch.
			res.Mismatched++
			slog.Error("transcript file unreadable",
				slog.String("video", ep.VideoID),
				slog.String("path", ep.TranscriptPath), slog.Any("error", err))

		case sum != ep.TranscriptChecksum:
			res.Mismatched++
			slog.Error("transcript checksum mismatch, leaving file",
				slog.String("video", ep.VideoID),
				slog.String("path", ep.TranscriptPath),
				slog.String("want", ep.TranscriptChecksum),
				slog.String("got", sum))

		default:
			res.Purged++
			if dryRun {
				slog.Info("would purge transcript file",
					slog.String("video", ep.VideoID), slog.String("path", ep.TranscriptPath))
				continue
			}
			if err := os.Remove(ep.TranscriptPath); err != nil {
				slog.Error("remove transcript file",
					slog.String("path", ep.TranscriptPath), slog.Any("error", err))
				res.Purged--
				continue
			}
			if err := store.SetTranscriptOnDisk(ctx, ep.VideoID, false); err != nil {
				return res, err
			}
		}
	}

	slog.Info("purge finished",
		slog.Int("purged", res.Purged), slog.Int("missing", res.Missing),
		slog.Int("mismatched", res.Mismatched), slog.Bool("dry_run", dryRun))
	return res, nil
}
