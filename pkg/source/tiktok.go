package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/elonfeng/productradar/internal/logging"
)

const (
	tiktokAPIURL = "https://open.tiktokapis.com/v2"
	tiktokFields = "id,video_description,username,view_count,like_count,share_count,comment_count"
)

// TikTok queries the Research API for recent videos about each keyword.
type TikTok struct {
	fetch        *fetcher
	clientKey    string
	clientSecret string
	apiURL       string

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewTikTok creates a new TikTok producer.
func NewTikTok(clientKey, clientSecret string, interval time.Duration) *TikTok {
	return &TikTok{
		fetch:        newFetcher(interval),
		clientKey:    clientKey,
		clientSecret: clientSecret,
		apiURL:       tiktokAPIURL,
	}
}

func (t *TikTok) Name() SourceType { return SourceTikTok }

func (t *TikTok) Collect(ctx context.Context, keywords []string) ([]Signal, error) {
	if t.clientKey == "" {
		return nil, fmt.Errorf("tiktok: client key required (set TIKTOK_CLIENT_KEY)")
	}
	token, err := t.authenticate(ctx)
	if err != nil {
		return nil, fmt.Errorf("tiktok auth: %w", err)
	}

	var all []Signal
	for _, kw := range keywords {
		videos, err := t.query(ctx, token, kw)
		if err != nil {
			if ctx.Err() != nil {
				return all, ctx.Err()
			}
			logging.Warn().Err(err).Str("keyword", kw).Msg("tiktok query failed")
			continue
		}
		for _, v := range videos {
			all = append(all,
				newSignal(SourceTikTok, kw, TypeTikTokPopularity, float64(v.ViewCount)/1000, Metadata{
					MetaAuthor:       v.Username,
					MetaDescription:  truncate(v.Description, 500),
					MetaURL:          fmt.Sprintf("https://www.tiktok.com/@%s/video/%d", v.Username, v.ID),
					MetaPlayCount:    v.ViewCount,
					MetaLikeCount:    v.LikeCount,
					MetaShareCount:   v.ShareCount,
					MetaCommentCount: v.CommentCount,
				}),
				mention(SourceTikTok, kw, nil),
			)
		}
	}
	return all, nil
}

func (t *TikTok) authenticate(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" && time.Now().Before(t.tokenExpiry) {
		return t.token, nil
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	form := url.Values{
		"client_key":    {t.clientKey},
		"client_secret": {t.clientSecret},
		"grant_type":    {"client_credentials"},
	}
	if err := t.fetch.postForm(ctx, t.apiURL+"/oauth/token/", form, nil, &tokenResp); err != nil {
		return "", err
	}

	t.token = tokenResp.AccessToken
	t.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn-60) * time.Second)
	return t.token, nil
}

func (t *TikTok) query(ctx context.Context, token, keyword string) ([]tiktokVideo, error) {
	end := time.Now().UTC()
	body := map[string]any{
		"query": map[string]any{
			"and": []map[string]any{{
				"operation":    "IN",
				"field_name":   "keyword",
				"field_values": []string{keyword},
			}},
		},
		"start_date": end.AddDate(0, 0, -7).Format("20060102"),
		"end_date":   end.Format("20060102"),
		"max_count":  20,
	}

	var resp struct {
		Data struct {
			Videos []tiktokVideo `json:"videos"`
		} `json:"data"`
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	header := http.Header{"Authorization": {"Bearer " + token}}
	if err := t.fetch.postJSON(ctx, t.apiURL+"/research/video/query/?fields="+tiktokFields, header, body, &resp); err != nil {
		return nil, err
	}
	if resp.Error.Code != "" && resp.Error.Code != "ok" {
		return nil, fmt.Errorf("tiktok api: %s: %s", resp.Error.Code, resp.Error.Message)
	}
	return resp.Data.Videos, nil
}

type tiktokVideo struct {
	ID           int64  `json:"id"`
	Description  string `json:"video_description"`
	Username     string `json:"username"`
	ViewCount    int    `json:"view_count"`
	LikeCount    int    `json:"like_count"`
	ShareCount   int    `json:"share_count"`
	CommentCount int    `json:"comment_count"`
}
