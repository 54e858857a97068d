package quality

import "math"

// Source kinds that change how counts are derived.
const (
	KindYouTube = "youtube"
	KindWebsite = "website"
)

const (
	DefaultYouTubeCharsPerMinute = 400
	DefaultBytesRatio            = 0.5
	DefaultCharacters            = 3000
)

// Source is everything the extractor may look at for one content item.
type Source struct {
	Kind                string
	MetadataCharacters  *int
	EstimatedCharacters *int
	DurationSeconds     *float64
	ContentLength       *int
	Size                int64
}

// Count is a character count and whether it was measured or guessed.
type Count struct {
	Characters int  `json:"characters"`
	Exact      bool `json:"exact"`
}

// Extractor resolves character counts. YouTubeCharsPerMinute differs between
// upload flows, so it is configured rather than fixed.
type Extractor struct {
	YouTubeCharsPerMinute float64
	BytesRatio            float64
	DefaultCharacters     int
}

// NewExtractor returns an extractor with the default rates.
func NewExtractor() Extractor {
	return Extractor{
		YouTubeCharsPerMinute: DefaultYouTubeCharsPerMinute,
		BytesRatio:            DefaultBytesRatio,
		DefaultCharacters:     DefaultCharacters,
	}
}

// Extract returns the first count that applies, in order: measured metadata,
// explicit estimate, YouTube duration, scraped website length, raw size, default.
func (e Extractor) Extract(s Source) Count {
	if s.MetadataCharacters != nil {
		return Count{Characters: nonNegative(*s.MetadataCharacters), Exact: true}
	}
	if s.EstimatedCharacters != nil {
		return Count{Characters: nonNegative(*s.EstimatedCharacters)}
	}
	if s.Kind == KindYouTube && s.DurationSeconds != nil && *s.DurationSeconds > 0 {
		rate := e.YouTubeCharsPerMinute
		if rate <= 0 {
			rate = DefaultYouTubeCharsPerMinute
		}
		return Count{Characters: int(math.Round(*s.DurationSeconds / 60 * rate))}
	}
	if s.Kind == KindWebsite && s.ContentLength != nil {
		return Count{Characters: nonNegative(*s.ContentLength), Exact: true}
	}
	if s.Size > 0 {
		ratio := e.BytesRatio
		if ratio <= 0 {
			ratio = DefaultBytesRatio
		}
		return Count{Characters: int(math.Round(float64(s.Size) * ratio))}
	}
	def := e.DefaultCharacters
	if def <= 0 {
		def = DefaultCharacters
	}
	return Count{Characters: def}
}

// Total is the aggregate count over a selection.
type Total struct {
	Characters int  `json:"characters"`
	Estimated  bool `json:"estimated"`
}

// Sum adds counts together. Any inexact count, or any item whose count could
// not be recomputed (failed > 0), marks the total as estimated.
func Sum(counts []Count, failed int) Total {
	t := Total{Estimated: failed > 0}
	for _, c := range counts {
		t.Characters += c.Characters
		if !c.Exact {
			t.Estimated = true
		}
	}
	return t
}

// Quota is the server-supplied billing baseline.
type Quota struct {
	FreeCharacters    int     `json:"free_characters"`
	PricePerCharacter float64 `json:"price_per_character"`
}

// Assessment bundles every derived value shown next to a dataset.
type Assessment struct {
	Total         Total   `json:"total"`
	Profile       Profile `json:"profile"`
	Tier          Tier    `json:"tier"`
	Progress      float64 `json:"progress"`
	QuotaProgress float64 `json:"quota_progress"`
	Cost          float64 `json:"cost"`
	NextTier      Tier    `json:"next_tier,omitempty"`
	ToNextTier    int     `json:"to_next_tier"`
}

// Assess evaluates a total against a profile and quota. minRecommended overrides
// the profile minimum for the free-quota bar when positive.
func Assess(total Total, p Profile, minRecommended int, q Quota) Assessment {
	if minRecommended <= 0 {
		minRecommended = p.Min
	}
	a := Assessment{
		Total:         total,
		Profile:       p,
		Tier:          Classify(total.Characters, p),
		Progress:      Progress(total.Characters, p),
		QuotaProgress: ProgressWithFreeQuota(total.Characters, minRecommended, q.FreeCharacters),
		Cost:          EstimatedCost(total.Characters, q.FreeCharacters, q.PricePerCharacter),
	}
	var threshold int
	switch a.Tier {
	case TierInsufficient:
		a.NextTier, threshold = TierMinimal, p.Min
	case TierMinimal:
		a.NextTier, threshold = TierGood, p.Min*2
	case TierGood:
		a.NextTier, threshold = TierOptimal, p.Optimal
	}
	if a.NextTier != "" {
		a.ToNextTier = threshold - total.Characters
	}
	return a
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
