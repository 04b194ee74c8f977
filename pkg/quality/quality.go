// Package quality computes an advisory completeness score for one
// scraped datasheet. The score is metadata only; it never blocks
// ingestion.
package quality

import (
	"github.com/AndrewDeWitt/GrimLog-sub006/pkg/preparse"
	"github.com/AndrewDeWitt/GrimLog-sub006/pkg/selector"
)

// QualityScore summarizes structural completeness on a 0-100 scale.
type QualityScore struct {
	Score   int
	Factors map[string]int
	Flags   []string
}

// Penalty table. The score starts at 100 and only decreases, floored
// at 0; each triggered penalty appends its named flag.
const (
	penaltyTinyContent    = 30
	penaltySmallContent   = 10
	penaltyLowSelector    = 20
	penaltyMediumSelector = 10
	penaltyNoKeywords     = 15
	penaltyFewKeywords    = 5
	penaltyNoWeapons      = 20
	penaltyNoAbilities    = 10
	penaltyNoPoints       = 15
	penaltyMissingStats   = 25
)

// Score applies the penalty table to one record.
func Score(contentLen int, selConf selector.Confidence, pre *preparse.PreParsedRecord) QualityScore {
	q := QualityScore{Score: 100, Factors: map[string]int{}}

	switch {
	case contentLen < 1000:
		q.apply("tiny_content", penaltyTinyContent)
	case contentLen < 5000:
		q.apply("small_content", penaltySmallContent)
	}

	switch selConf {
	case selector.ConfidenceLow:
		q.apply("low_confidence_selector", penaltyLowSelector)
	case selector.ConfidenceMedium:
		q.apply("medium_confidence_selector", penaltyMediumSelector)
	}

	if pre != nil {
		switch {
		case len(pre.Keywords) == 0:
			q.apply("no_keywords", penaltyNoKeywords)
		case len(pre.Keywords) < 3:
			q.apply("few_keywords", penaltyFewKeywords)
		}
		if len(pre.Weapons) == 0 {
			q.apply("no_weapons", penaltyNoWeapons)
		}
		if len(pre.AbilityNames) == 0 {
			q.apply("no_abilities", penaltyNoAbilities)
		}
		if pre.PointsCost == nil {
			q.apply("no_points", penaltyNoPoints)
		}
		if pre.Stats.Toughness == nil || pre.Stats.Wounds == nil {
			q.apply("missing_core_stats", penaltyMissingStats)
		}
	}

	if q.Score < 0 {
		q.Score = 0
	}
	return q
}

func (q *QualityScore) apply(flag string, penalty int) {
	q.Score -= penalty
	q.Factors[flag] = penalty
	q.Flags = append(q.Flags, flag)
}
