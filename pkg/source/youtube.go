package source

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/elonfeng/productradar/internal/logging"
)

const youtubeAPIURL = "https://www.googleapis.com/youtube/v3"

// YouTube measures how much video attention each keyword draws. It is the
// lowest-weighted social producer.
type YouTube struct {
	fetch  *fetcher
	apiKey string
	apiURL string
}

// NewYouTube creates a new YouTube producer.
func NewYouTube(apiKey string, interval time.Duration) *YouTube {
	return &YouTube{
		fetch:  newFetcher(interval),
		apiKey: apiKey,
		apiURL: youtubeAPIURL,
	}
}

func (y *YouTube) Name() SourceType { return SourceYouTube }

func (y *YouTube) Collect(ctx context.Context, keywords []string) ([]Signal, error) {
	if y.apiKey == "" {
		return nil, fmt.Errorf("youtube: API key required (set YOUTUBE_API_KEY)")
	}

	var all []Signal
	for _, kw := range keywords {
		videos, err := y.search(ctx, kw)
		if err != nil {
			if ctx.Err() != nil {
				return all, ctx.Err()
			}
			logging.Warn().Err(err).Str("keyword", kw).Msg("youtube search failed")
			continue
		}
		if len(videos) == 0 {
			continue
		}
		y.enrichWithStats(ctx, videos)

		for _, v := range videos {
			all = append(all, newSignal(SourceYouTube, kw, TypeVideoViews, float64(v.views), Metadata{
				MetaTitle:        v.title,
				MetaDescription:  truncate(v.description, 500),
				MetaAuthor:       v.channel,
				MetaURL:          "https://www.youtube.com/watch?v=" + v.id,
				MetaLikeCount:    v.likes,
				MetaCommentCount: v.comments,
			}))
		}
		all = append(all, mention(SourceYouTube, kw, nil))
	}
	return all, nil
}

type ytVideo struct {
	id          string
	title       string
	description string
	channel     string
	views       int
	likes       int
	comments    int
}

func (y *YouTube) search(ctx context.Context, query string) ([]ytVideo, error) {
	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("q", query)
	params.Set("type", "video")
	params.Set("order", "viewCount")
	params.Set("publishedAfter", time.Now().Add(-7*24*time.Hour).Format(time.RFC3339))
	params.Set("maxResults", "10")
	params.Set("key", y.apiKey)

	var result ytSearchResult
	if err := y.fetch.getJSON(ctx, y.apiURL+"/search?"+params.Encode(), nil, &result); err != nil {
		return nil, fmt.Errorf("youtube search: %w", err)
	}

	var videos []ytVideo
	for _, item := range result.Items {
		if item.ID.VideoID == "" {
			continue
		}
		videos = append(videos, ytVideo{
			id:          item.ID.VideoID,
			title:       item.Snippet.Title,
			description: item.Snippet.Description,
			channel:     item.Snippet.ChannelTitle,
		})
	}
	return videos, nil
}

// enrichWithStats fills view, like and comment counts. Failures leave the
// counts at zero.
func (y *YouTube) enrichWithStats(ctx context.Context, videos []ytVideo) {
	idx := make(map[string]int, len(videos))
	ids := make([]string, 0, len(videos))
	for i, v := range videos {
		idx[v.id] = i
		ids = append(ids, v.id)
	}

	for start := 0; start < len(ids); start += 50 {
		end := min(start+50, len(ids))

		params := url.Values{}
		params.Set("part", "statistics")
		params.Set("id", strings.Join(ids[start:end], ","))
		params.Set("key", y.apiKey)

		var result ytVideoResult
		if err := y.fetch.getJSON(ctx, y.apiURL+"/videos?"+params.Encode(), nil, &result); err != nil {
			logging.Debug().Err(err).Msg("youtube statistics unavailable")
			continue
		}
		for _, video := range result.Items {
			if i, ok := idx[video.ID]; ok {
				videos[i].views = video.Statistics.ViewCount
				videos[i].likes = video.Statistics.LikeCount
				videos[i].comments = video.Statistics.CommentCount
			}
		}
	}
}

type ytSearchResult struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title        string `json:"title"`
			Description  string `json:"description"`
			ChannelTitle string `json:"channelTitle"`
		} `json:"snippet"`
	} `json:"items"`
}

type ytVideoResult struct {
	Items []struct {
		ID         string `json:"id"`
		Statistics struct {
			ViewCount    int `json:"viewCount,string"`
			LikeCount    int `json:"likeCount,string"`
			CommentCount int `json:"commentCount,string"`
		} `json:"statistics"`
	} `json:"items"`
}
