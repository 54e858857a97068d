// Package quality estimates how ready a fine-tuning dataset is from its character count.
//
// Everything here is pure: callers pass counts, profiles and quota values and get tiers,
// progress-bar values and costs back.
package quality

import "math"

// Tier is the qualitative readiness of a character count against a usage profile.
type Tier string

const (
	TierInsufficient Tier = "insufficient"
	TierMinimal      Tier = "minimal"
	TierGood         Tier = "good"
	TierOptimal      Tier = "optimal"
	TierExcessive    Tier = "excessive"
)

// Profile holds the character thresholds for one usage category.
type Profile struct {
	Name    string `yaml:"name" json:"name"`
	Min     int    `yaml:"min" json:"min"`
	Optimal int    `yaml:"optimal" json:"optimal"`
	Max     int    `yaml:"max" json:"max"`
}

// DefaultProfiles returns the built-in usage profiles.
func DefaultProfiles() []Profile {
	return []Profile{
		{Name: "legal", Min: 10000, Optimal: 50000, Max: 200000},
		{Name: "customer_service", Min: 5000, Optimal: 30000, Max: 100000},
		{Name: "knowledge_base", Min: 8000, Optimal: 40000, Max: 150000},
		{Name: "education", Min: 6000, Optimal: 35000, Max: 120000},
		{Name: "other", Min: 5000, Optimal: 30000, Max: 100000},
	}
}

// FindProfile looks a profile up by name. Unknown names fall back to "other" when present.
func FindProfile(profiles []Profile, name string) (Profile, bool) {
	var fallback *Profile
	for i := range profiles {
		if profiles[i].Name == name {
			return profiles[i], true
		}
		if profiles[i].Name == "other" {
			fallback = &profiles[i]
		}
	}
	if fallback != nil {
		return *fallback, false
	}
	return Profile{}, false
}

// Classify maps a character count to a tier. Boundaries are checked in order,
// so a count equal to Min is already minimal.
func Classify(count int, p Profile) Tier {
	switch {
	case count < p.Min:
		return TierInsufficient
	case count < p.Min*2:
		return TierMinimal
	case count < p.Optimal:
		return TierGood
	case count <= p.Max:
		return TierOptimal
	default:
		return TierExcessive
	}
}

// Progress maps a count onto a 0-100 segmented bar: [0,min) fills 0-30,
// [min,optimal) fills 30-70 and [optimal,max] fills 70-100.
func Progress(count int, p Profile) float64 {
	return interpolate(float64(count),
		[]float64{0, float64(p.Min), float64(p.Optimal), float64(p.Max)},
		[]float64{0, 30, 70, 100},
	)
}

// ProgressWithFreeQuota is the progress bar used when a free-quota baseline exists.
// Break points 0, freeCredits, minRecommended and 4*minRecommended map to 0/25/50/100.
// Without free credits the bar has two segments: [0,min] to 0-50 and (min,4*min] to 50-100.
func ProgressWithFreeQuota(count, minRecommended, freeCredits int) float64 {
	c := float64(count)
	m := float64(minRecommended)
	if freeCredits <= 0 {
		return interpolate(c, []float64{0, m, 4 * m}, []float64{0, 50, 100})
	}
	return interpolate(c,
		[]float64{0, float64(freeCredits), m, 4 * m},
		[]float64{0, 25, 50, 100},
	)
}

// EstimatedCost returns the billable cost of count characters after the free quota.
func EstimatedCost(count, freeCredits int, pricePerCharacter float64) float64 {
	billable := count - freeCredits
	if billable <= 0 || pricePerCharacter <= 0 {
		return 0
	}
	return float64(billable) * pricePerCharacter
}

// interpolate walks the break points xs and linearly maps c onto ys.
// Segments whose end does not lie past their start are skipped, which keeps
// the result non-decreasing when break points arrive out of order.
func interpolate(c float64, xs, ys []float64) float64 {
	if c <= xs[0] {
		return clamp(ys[0])
	}
	for i := 0; i+1 < len(xs); i++ {
		lo, hi := xs[i], xs[i+1]
		if c > hi {
			continue
		}
		if hi <= lo || c < lo {
			return clamp(ys[i+1])
		}
		return clamp(ys[i] + (ys[i+1]-ys[i])*(c-lo)/(hi-lo))
	}
	return clamp(ys[len(ys)-1])
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
