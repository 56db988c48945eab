package source

import (
	"strconv"
	"strings"
)

// Metadata keys producers may set. Every key is optional; absence means unknown.
const (
	MetaCategory     = "category"
	MetaPrice        = "price"
	MetaImageURL     = "image_url"
	MetaProductURL   = "product_url"
	MetaURL          = "url"
	MetaTitle        = "title"
	MetaBody         = "body"
	MetaDescription  = "description"
	MetaTopComments  = "top_comments"
	MetaReviewText   = "review_text"
	MetaAuthor       = "author"
	MetaCreator      = "creator"
	MetaUsername     = "username"
	MetaRank         = "rank"
	MetaReviewCount  = "review_count"
	MetaPlayCount    = "play_count"
	MetaLikeCount    = "like_count"
	MetaShareCount   = "share_count"
	MetaCommentCount = "comment_count"
)

// Metadata is the free-form key/value payload attached to a signal.
type Metadata map[string]any

// String returns a non-empty string value for key.
func (m Metadata) String(key string) (string, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// Float returns a numeric value for key. JSON numbers and numeric strings
// are both accepted.
func (m Metadata) Float(key string) (float64, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimPrefix(strings.TrimSpace(n), "$"), 64)
		return f, err == nil
	}
	return 0, false
}

// Strings returns the text entries stored under key. A list may hold plain
// strings or objects carrying a "body" field; a bare string is a one-item list.
func (m Metadata) Strings(key string) []string {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	var out []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	switch list := v.(type) {
	case string:
		add(list)
	case []string:
		for _, s := range list {
			add(s)
		}
	case []any:
		for _, item := range list {
			switch c := item.(type) {
			case string:
				add(c)
			case map[string]any:
				if body, ok := c["body"].(string); ok {
					add(body)
				}
			}
		}
	}
	return out
}

// FirstString returns the first present string among keys.
func (m Metadata) FirstString(keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := m.String(k); ok {
			return s, true
		}
	}
	return "", false
}
