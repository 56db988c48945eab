package trend

import (
	"math"
	"regexp"
	"time"

	"github.com/elonfeng/productradar/pkg/source"
)

// Neutral is the score used when a component has nothing to go on.
const Neutral = 50.0

// Fine-grained TikTok engagement denominators: a count at or above the
// denominator saturates that term.
const (
	tiktokViewsFull    = 1_000_000
	tiktokLikesFull    = 100_000
	tiktokSharesFull   = 10_000
	tiktokCommentsFull = 10_000
)

var intentPattern = regexp.MustCompile(`(?i)where (?:can i|to|do i) buy|` +
	`need this|take my money|shut up and take|` +
	`link\??|just bought|how much|` +
	`where.{0,10}get (?:this|one|it)|` +
	`added to (?:cart|wishlist)|` +
	`in stock|buy (?:this|one|it)|` +
	`price\??|cost\??|` +
	`want (?:this|one|it) so bad`)

// retailRankTypes are rank scores already on a 0-100 scale.
var retailRankTypes = map[string]bool{
	source.TypeWalmartBest:    true,
	source.TypeTargetTrending: true,
	source.TypeShopifyBest:    true,
	source.TypeAliExpressHot:  true,
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// maxValue returns the largest value among signals of src and typ, or 0.
func maxValue(signals []source.Signal, src source.SourceType, typ string) float64 {
	best := 0.0
	for _, s := range signals {
		if s.Source == src && s.Type == typ && s.Value > best {
			best = s.Value
		}
	}
	return best
}

// SearchAcceleration scores search interest: peak velocity over 50, a flat
// 30 for any breakout, and 5 per rising query up to 20.
func SearchAcceleration(signals []source.Signal) float64 {
	base := clamp(maxValue(signals, source.SourceGoogleTrends, source.TypeSearchVelocity)/50, 0, 100)

	breakout, rising := 0.0, 0
	for _, s := range signals {
		if s.Source != source.SourceGoogleTrends {
			continue
		}
		switch s.Type {
		case source.TypeBreakout:
			breakout = 30
		case source.TypeRising:
			rising++
		}
	}
	return math.Min(base+breakout+math.Min(float64(5*rising), 20), 100)
}

// SocialVelocity blends TikTok (0.55), Reddit (0.35) and YouTube (0.10)
// engagement and adds 5 per distinct TikTok creator up to 15.
func SocialVelocity(signals []source.Signal) float64 {
	tiktok := 0.0
	authors := make(map[string]bool)
	for _, s := range signals {
		if s.Source != source.SourceTikTok || s.Type != source.TypeTikTokPopularity {
			continue
		}
		tiktok = math.Max(tiktok, tiktokEngagement(s))
		if author, ok := s.Metadata.FirstString(source.MetaAuthor, source.MetaCreator, source.MetaUsername); ok {
			authors[author] = true
		}
	}

	reddit := clamp(maxValue(signals, source.SourceReddit, source.TypeUpvoteVelocity), 0, 100)
	youtube := clamp(maxValue(signals, source.SourceYouTube, source.TypeVideoViews)/10000*100, 0, 100)
	diversity := math.Min(float64(5*len(authors)), 15)

	return math.Min(0.55*tiktok+0.35*reddit+0.10*youtube+diversity, 100)
}

// tiktokEngagement uses the view, like, share and comment counts when any
// are present, else the raw popularity value over 100.
func tiktokEngagement(s source.Signal) float64 {
	views, hasViews := s.Metadata.Float(source.MetaPlayCount)
	likes, hasLikes := s.Metadata.Float(source.MetaLikeCount)
	shares, hasShares := s.Metadata.Float(source.MetaShareCount)
	comments, hasComments := s.Metadata.Float(source.MetaCommentCount)
	if !hasViews && !hasLikes && !hasShares && !hasComments {
		return clamp(s.Value/100, 0, 100)
	}

	term := func(v, full float64) float64 { return clamp(v/full*100, 0, 100) }
	return 0.30*term(views, tiktokViewsFull) +
		0.40*term(likes, tiktokLikesFull) +
		0.20*term(shares, tiktokSharesFull) +
		0.10*term(comments, tiktokCommentsFull)
}

// RetailMomentum is the strongest retail signal: Amazon rank change over 10
// or any marketplace rank score.
func RetailMomentum(signals []source.Signal) float64 {
	best := clamp(maxValue(signals, source.SourceAmazon, source.TypeBSRMomentum)/10, 0, 100)
	for _, s := range signals {
		if retailRankTypes[s.Type] {
			best = math.Max(best, clamp(s.Value, 0, 100))
		}
	}
	return best
}

// PriceFit maps the price midpoint onto a curve that peaks at $20-$60.
// Either bound alone stands in for the midpoint; no price at all is neutral.
func PriceFit(low, high *float64) float64 {
	var price float64
	switch {
	case low != nil && high != nil:
		price = (*low + *high) / 2
	case low != nil:
		price = *low
	case high != nil:
		price = *high
	default:
		return Neutral
	}

	switch {
	case price >= 20 && price <= 60:
		return 100
	case price >= 10 && price < 20:
		return 50 + (price-10)/10*50
	case price > 60 && price <= 80:
		return 100 - (price-60)/20*50
	case price >= 0 && price < 10:
		return price / 10 * 50
	case price > 80 && price <= 150:
		return math.Max(50-(price-80)/70*50, 0)
	default:
		return 0
	}
}

// TrendShape classifies a chronological series of composite scores. A rise
// of more than 15 directly followed by a drop of more than 10 is a fad.
func TrendShape(history []float64) float64 {
	if len(history) < 3 {
		return Neutral
	}

	deltas := make([]float64, len(history)-1)
	sum := 0.0
	for i := range deltas {
		deltas[i] = history[i+1] - history[i]
		sum += deltas[i]
	}
	avg := sum / float64(len(deltas))

	for i := 0; i < len(deltas)-1; i++ {
		if deltas[i] > 15 && deltas[i+1] < -10 {
			return 15
		}
	}

	if avg < -2 {
		return math.Max(30+(avg+2)/18*30, 0)
	}

	if avg > 0 {
		steady := true
		for _, d := range deltas {
			if d > 20 {
				steady = false
				break
			}
		}
		if steady {
			return math.Min(70+avg/10*30, 100)
		}
	}
	return Neutral
}

// intentTexts collects the free text of Reddit, Amazon and TikTok signals.
func intentTexts(signals []source.Signal) []string {
	var texts []string
	for _, s := range signals {
		switch s.Source {
		case source.SourceReddit, source.SourceAmazon, source.SourceTikTok:
		default:
			continue
		}
		if title, ok := s.Metadata.String(source.MetaTitle); ok {
			texts = append(texts, title)
		}
		texts = append(texts, s.Metadata.Strings(source.MetaTopComments)...)
		if body, ok := s.Metadata.FirstString(source.MetaBody, source.MetaDescription); ok {
			texts = append(texts, body)
		}
	}
	return texts
}

// PurchaseIntent is the share of texts that express buying intent, as a
// percentage. No text scores 0.
func PurchaseIntent(signals []source.Signal) float64 {
	texts := intentTexts(signals)
	if len(texts) == 0 {
		return 0
	}
	matches := 0
	for _, t := range texts {
		if intentPattern.MatchString(t) {
			matches++
		}
	}
	return math.Min(float64(matches)/float64(len(texts))*100, 100)
}

// Recency scores signal volume in the 24 hours before now; five or more
// signals score 100.
func Recency(signals []source.Signal, now time.Time) float64 {
	cutoff := now.Add(-24 * time.Hour)
	n := 0
	for _, s := range signals {
		if !s.CollectedAt.Before(cutoff) {
			n++
		}
	}
	return math.Min(float64(n)/5*100, 100)
}

// PlatformCount scores how many distinct sources mention a product, against
// the number of known source types.
func PlatformCount(signals []source.Signal) float64 {
	return math.Min(float64(DistinctSources(signals))/float64(len(source.AllSourceTypes()))*100, 100)
}

// DistinctSources counts the different sources among signals.
func DistinctSources(signals []source.Signal) int {
	seen := make(map[source.SourceType]bool)
	for _, s := range signals {
		seen[s.Source] = true
	}
	return len(seen)
}
