package recommend

import "fmt"

// fallbackAnalysis is the deterministic template used when the reasoning
// service cannot be used. The verdict follows the unrounded suitability.
func fallbackAnalysis(c Candidate, cause error) Analysis {
	verdict := VerdictSpeculative
	switch {
	case c.Suitability >= 60:
		verdict = VerdictStrong
	case c.Suitability >= 40:
		verdict = VerdictModerate
	}

	channel := "Google Shopping"
	if c.Score.Platforms >= 3 {
		channel = "TikTok Ads"
	}

	return Analysis{
		Name:    c.Product.CanonicalName,
		Verdict: verdict,
		Strengths: []string{
			fmt.Sprintf("Trend shape score: %.0f/100", c.Score.TrendShape),
			fmt.Sprintf("Price fit score: %.0f/100", c.Score.PriceFit),
			fmt.Sprintf("Present on %d platform(s)", c.Score.Platforms),
		},
		Risks: []string{
			fmt.Sprintf("Analysis unavailable (%v)", cause),
			"Verify margin before sourcing",
		},
		Strategy:      "Research suppliers and validate margins before launching ad campaigns.",
		TargetChannel: channel,
	}
}
