package briefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"log/slog"

	"golang.org/x/time/rate"
)

// Catalog fetch: list uploads for each configured channel through the
// YouTube Data API v3 and record them as episodes awaiting a transcript.

const (
	dataAPIBase  = "https://www.googleapis.com/youtube/v3"
	watchBaseURL = "https://www.youtube.com/watch?v="

	playlistPageSize = 50
)

// CatalogClient is a thin YouTube Data API v3 client. Requests are paced
// so multi-page channels do not burst against the quota.
type CatalogClient struct {
	apiKey  string
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
}

// NewCatalogClient creates a client for the given API key. A missing key
// is a construction error: there is no anonymous access to the Data API.
func NewCatalogClient(apiKey string, client *http.Client) (*CatalogClient, error) {
	if apiKey == "" {
		return nil, errors.New("youtube api key not set")
	}
	return &CatalogClient{
		apiKey:  apiKey,
		client:  client,
		baseURL: dataAPIBase,
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
	}, nil
}

type ytChannelsResp struct {
	Items []struct {
		ContentDetails struct {
			RelatedPlaylists struct {
				Uploads string `json:"uploads"`
			} `json:"relatedPlaylists"`
		} `json:"contentDetails"`
	} `json:"items"`
}

type ytPlaylistItemsResp struct {
	NextPageToken string `json:"nextPageToken"`
	Items         []struct {
		Snippet struct {
			PublishedAt string `json:"publishedAt"`
			Title       string `json:"title"`
			ResourceID  struct {
				VideoID string `json:"videoId"`
			} `json:"resourceId"`
		} `json:"snippet"`
	} `json:"items"`
}

// UploadsPlaylistID resolves a channel ID to its uploads playlist.
func (c *CatalogClient) UploadsPlaylistID(ctx context.Context, channelID string) (string, error) {
	params := url.Values{}
	params.Set("part", "contentDetails")
	params.Set("id", channelID)

	var resp ytChannelsResp
	if err := c.apiGet(ctx, "/channels", params, &resp); err != nil {
		return "", err
	}
	if len(resp.Items) == 0 {
		return "", fmt.Errorf("channel %s not found", channelID)
	}
	uploads := resp.Items[0].ContentDetails.RelatedPlaylists.Uploads
	if uploads == "" {
		return "", fmt.Errorf("channel %s has no uploads playlist", channelID)
	}
	return uploads, nil
}

// PlaylistVideos lists up to maxItems videos of a playlist, newest first
// as the API returns them. Private and deleted entries are skipped.
func (c *CatalogClient) PlaylistVideos(ctx context.Context, playlistID string, maxItems int) ([]Episode, error) {
	var eps []Episode
	pageToken := ""
	for len(eps) < maxItems {
		params := url.Values{}
		params.Set("part", "snippet")
		params.Set("playlistId", playlistID)
		params.Set("maxResults", fmt.Sprintf("%d", playlistPageSize))
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var resp ytPlaylistItemsResp
		if err := c.apiGet(ctx, "/playlistItems", params, &resp); err != nil {
			return nil, err
		}

		for _, item := range resp.Items {
			sn := item.Snippet
			if sn.ResourceID.VideoID == "" ||
				sn.Title == "Private video" || sn.Title == "Deleted video" {
				continue
			}
			eps = append(eps, Episode{
				VideoID:     sn.ResourceID.VideoID,
				Title:       sn.Title,
				URL:         watchBaseURL + sn.ResourceID.VideoID,
				PublishedAt: sn.PublishedAt,
			})
			if len(eps) >= maxItems {
				break
			}
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}
	return eps, nil
}

// apiGet performs one paced Data API request and decodes the JSON body.
func (c *CatalogClient) apiGet(ctx context.Context, path string, params url.Values, v any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	params.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("youtube api %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("youtube api %s: status %d: %s", path, resp.StatusCode, snippet)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10*1024*1024)).Decode(v); err != nil {
		return fmt.Errorf("youtube api %s: decode: %w", path, err)
	}
	return nil
}

// FetchSummary counts what the catalog run did.
type FetchSummary struct {
	Channels int
	Seen     int
	Inserted int
}

type catalogStore interface {
	InsertEpisode(ctx context.Context, ep Episode) (bool, error)
}

// FetchCatalog refreshes the episode catalog for every configured channel.
// A failing channel is logged and does not stop the others; the collected
// errors come back joined alongside the summary of what did succeed.
func FetchCatalog(ctx context.Context, store catalogStore, client *CatalogClient, channels []ChannelConfig, maxPerChannel int) (FetchSummary, error) {
	var sum FetchSummary
	var errs error

	for _, ch := range channels {
		playlistID := ch.PlaylistID
		if playlistID == "" {
			id, err := client.UploadsPlaylistID(ctx, ch.ChannelID)
			if err != nil {
				slog.Error("resolve uploads playlist",
					slog.String("channel", ch.Name), slog.Any("error", err))
				errs = errors.Join(errs, fmt.Errorf("channel %s: %w", ch.Name, err))
				continue
			}
			playlistID = id
		}

		eps, err := client.PlaylistVideos(ctx, playlistID, maxPerChannel)
		if err != nil {
			slog.Error("list playlist videos",
				slog.String("channel", ch.Name), slog.Any("error", err))
			errs = errors.Join(errs, fmt.Errorf("channel %s: %w", ch.Name, err))
			continue
		}

		inserted := 0
		for _, ep := range eps {
			ep.ChannelID = ch.ChannelID
			ep.ChannelTitle = ch.Name
			added, err := store.InsertEpisode(ctx, ep)
			if err != nil {
				errs = errors.Join(errs, err)
				continue
			}
			if added {
				inserted++
			}
		}

		slog.Info("channel cataloged",
			slog.String("channel", ch.Name),
			slog.Int("videos", len(eps)), slog.Int("new", inserted))
		sum.Channels++
		sum.Seen += len(eps)
		sum.Inserted += inserted
	}
	return sum, errs
}
