package source

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/elonfeng/productradar/internal/logging"
)

const (
	redditAuthURL = "https://www.reddit.com/api/v1/access_token"
	redditAPIURL  = "https://oauth.reddit.com"

	// Posts per subreddit whose top comments are fetched for intent and sentiment text.
	redditCommentPosts = 10
	redditTopComments  = 5
)

var (
	redditQuoted  = regexp.MustCompile(`"([^"]+)"`)
	redditProduct = regexp.MustCompile(`(?:the\s+)?([A-Z][A-Za-z0-9]+(?:\s+[A-Z][A-Za-z0-9]+)*(?:\s+(?:Pro|Max|Plus|Mini|Lite|Ultra))?)`)
)

// Reddit collects product mentions from shopping-oriented subreddits.
type Reddit struct {
	fetch        *fetcher
	clientID     string
	clientSecret string
	subreddits   []string
	authURL      string
	apiURL       string

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewReddit creates a new Reddit producer.
func NewReddit(clientID, clientSecret string, subreddits []string, interval time.Duration) *Reddit {
	if len(subreddits) == 0 {
		subreddits = []string{
			"shutupandtakemymoney", "BuyItForLife", "gadgets",
			"AmazonTopRated", "cooltools",
		}
	}
	return &Reddit{
		fetch:        newFetcher(interval),
		clientID:     clientID,
		clientSecret: clientSecret,
		subreddits:   subreddits,
		authURL:      redditAuthURL,
		apiURL:       redditAPIURL,
	}
}

func (r *Reddit) Name() SourceType { return SourceReddit }

func (r *Reddit) Collect(ctx context.Context, keywords []string) ([]Signal, error) {
	if r.clientID == "" {
		return nil, fmt.Errorf("reddit: client credentials required (set REDDIT_CLIENT_ID)")
	}
	if err := r.authenticate(ctx); err != nil {
		return nil, fmt.Errorf("reddit auth: %w", err)
	}

	var all []Signal
	for _, sub := range r.subreddits {
		signals, err := r.fetchSubreddit(ctx, sub, keywords)
		if err != nil {
			if ctx.Err() != nil {
				return all, ctx.Err()
			}
			logging.Warn().Err(err).Str("subreddit", sub).Msg("reddit subreddit failed")
			continue
		}
		all = append(all, signals...)
	}
	return all, nil
}

func (r *Reddit) authenticate(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.token != "" && time.Now().Before(r.tokenExpiry) {
		return nil
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	form := url.Values{"grant_type": {"client_credentials"}}
	err := r.fetch.postForm(ctx, r.authURL, form, func(req *http.Request) {
		req.SetBasicAuth(r.clientID, r.clientSecret)
	}, &tokenResp)
	if err != nil {
		return err
	}

	r.token = tokenResp.AccessToken
	r.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn-60) * time.Second)
	return nil
}

func (r *Reddit) header() http.Header {
	r.mu.Lock()
	defer r.mu.Unlock()
	return http.Header{"Authorization": {"Bearer " + r.token}}
}

func (r *Reddit) fetchSubreddit(ctx context.Context, subreddit string, keywords []string) ([]Signal, error) {
	reqURL := fmt.Sprintf("%s/r/%s/hot.json?limit=25", r.apiURL, subreddit)

	var listing redditListing
	if err := r.fetch.getJSON(ctx, reqURL, r.header(), &listing); err != nil {
		return nil, fmt.Errorf("fetch r/%s: %w", subreddit, err)
	}

	now := time.Now().UTC()
	var signals []Signal
	withComments := 0
	for _, child := range listing.Data.Children {
		post := child.Data
		if post.Stickied {
			continue
		}

		name := matchKeyword(post.Title, keywords)
		if name == "" {
			name = extractRedditProduct(post.Title)
		}
		if name == "" {
			continue
		}

		created := time.Unix(int64(post.CreatedUTC), 0).UTC()
		ageHours := math.Max(now.Sub(created).Hours(), 0.1)
		velocity := math.Round(float64(post.Score)/ageHours*100) / 100

		meta := Metadata{
			"subreddit":    subreddit,
			MetaTitle:      truncate(post.Title, 200),
			MetaBody:       truncate(post.Selftext, 500),
			MetaURL:        "https://reddit.com" + post.Permalink,
			"score":        post.Score,
			"num_comments": post.NumComments,
			"age_hours":    math.Round(ageHours*10) / 10,
		}
		if withComments < redditCommentPosts && post.NumComments > 0 {
			withComments++
			comments, err := r.topComments(ctx, post.ID)
			if err != nil {
				logging.Debug().Err(err).Str("post", post.ID).Msg("reddit comments unavailable")
			} else if len(comments) > 0 {
				meta[MetaTopComments] = comments
			}
		}

		signals = append(signals,
			newSignal(SourceReddit, name, TypeUpvoteVelocity, velocity, meta),
			mention(SourceReddit, name, Metadata{"subreddit": subreddit}),
		)
	}
	return signals, nil
}

func (r *Reddit) topComments(ctx context.Context, postID string) ([]any, error) {
	reqURL := fmt.Sprintf("%s/comments/%s.json?limit=%d&depth=1&sort=top", r.apiURL, postID, redditTopComments)

	var listings []redditCommentListing
	if err := r.fetch.getJSON(ctx, reqURL, r.header(), &listings); err != nil {
		return nil, err
	}
	if len(listings) < 2 {
		return nil, nil
	}

	var out []any
	for _, child := range listings[1].Data.Children {
		if child.Kind != "t1" || child.Data.Body == "" {
			continue
		}
		out = append(out, map[string]any{"body": truncate(child.Data.Body, 500)})
		if len(out) == redditTopComments {
			break
		}
	}
	return out, nil
}

// matchKeyword returns the first keyword contained in title, case-insensitively.
func matchKeyword(title string, keywords []string) string {
	lower := strings.ToLower(title)
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(lower, kw) {
			return kw
		}
	}
	return ""
}

// extractRedditProduct guesses a product label from a post title: a quoted
// phrase, else the longest capitalized phrase, else the short cleaned title.
func extractRedditProduct(title string) string {
	for _, prefix := range []string{"[OC]", "[Amazon]", "[Kickstarter]", "Just found", "Check out"} {
		title = strings.TrimSpace(strings.ReplaceAll(title, prefix, ""))
	}

	if m := redditQuoted.FindStringSubmatch(title); m != nil {
		return m[1]
	}

	best := ""
	for _, m := range redditProduct.FindAllStringSubmatch(title, -1) {
		if len(m[1]) > len(best) {
			best = m[1]
		}
	}
	if best != "" {
		return best
	}

	clean := strings.Trim(title, "!?. ")
	if len(clean) < 80 {
		return clean
	}
	return ""
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Permalink   string  `json:"permalink"`
	Selftext    string  `json:"selftext"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
	Stickied    bool    `json:"stickied"`
}

type redditCommentListing struct {
	Data struct {
		Children []struct {
			Kind string `json:"kind"`
			Data struct {
				Body string `json:"body"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}
