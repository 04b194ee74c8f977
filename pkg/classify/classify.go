package classify

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Confidence expresses how strongly the accumulated signals back a
// classification.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Signal weights and thresholds. These values are empirically tuned
// against the source site; keep them as-is rather than re-deriving them.
const (
	WeightStructuralMarker = 10
	WeightURLSegment       = 5
	WeightNameLexicon      = 3
	WeightKnownName        = 2

	FlagThreshold             = 3
	ConfidenceHighThreshold   = 10
	ConfidenceMediumThreshold = 5
)

// Signal records a single matched classification signal.
type Signal struct {
	Flag   string // "legends" | "forgeworld"
	Source string // "marker" | "url" | "lexicon" | "known-name"
	Weight int
	Detail string
}

// Classification carries the two independent variant flags for a
// datasheet, along with the evidence that produced them.
type Classification struct {
	Legends    bool
	ForgeWorld bool
	Confidence Confidence
	Signals    []Signal
	Score      int
}

const (
	flagLegends    = "legends"
	flagForgeWorld = "forgeworld"
)

// Structural markers the source uses to badge non-standard datasheets.
var structuralMarkers = map[string]string{
	flagLegends:    ".LegendsBadge, [data-legends], .legends-icon",
	flagForgeWorld: ".FWBadge, [data-forgeworld], .fw-icon",
}

// Reserved URL path segments.
var urlSegments = map[string][]string{
	flagLegends:    {"/legends/", "/wh40k10ed/legends"},
	flagForgeWorld: {"/forge-world/", "/forgeworld/"},
}

// nameLexicon groups curated name substrings under the flag they
// indicate, lowercased for matching.
var nameLexicon = map[string][]string{
	flagLegends:    {"(legends)", "legends field ordnance"},
	flagForgeWorld: {"malanthrope", "kharybdis", "thunderhawk", "mastodon", "tantalus", "dimachaeron", "sho'joki", "gorgon transport"},
}

// knownNames is a validation backstop for sheets the site marks
// inconsistently. Weight 2 keeps it below the flag threshold on its
// own unless another signal fires, and it never produces high
// confidence by itself.
var knownNames = map[string][]string{
	flagLegends:    {"chaplain on bike", "terrax-pattern termite"},
	flagForgeWorld: {"greater blight drone", "blood slaughterer"},
}

// Classify scores a candidate datasheet. ctx may be nil when no local
// DOM context is available (e.g. re-classifying cached link lists); in
// that case only URL, name, and known-name signals apply and the
// resulting confidence is capped at medium.
func Classify(name, rawURL string, ctx *goquery.Selection) Classification {
	c := Classification{}
	flagScores := map[string]int{}

	for _, flag := range []string{flagLegends, flagForgeWorld} {
		fired := false

		if ctx != nil {
			if sel, ok := nearestMarker(ctx, structuralMarkers[flag]); ok {
				c.addSignal(&fired, flagScores, Signal{Flag: flag, Source: "marker", Weight: WeightStructuralMarker, Detail: sel})
			}
		}

		lowerURL := strings.ToLower(rawURL)
		for _, seg := range urlSegments[flag] {
			if strings.Contains(lowerURL, seg) {
				c.addSignal(&fired, flagScores, Signal{Flag: flag, Source: "url", Weight: WeightURLSegment, Detail: seg})
				break
			}
		}

		lowerName := strings.ToLower(name)
		for _, term := range nameLexicon[flag] {
			if strings.Contains(lowerName, term) {
				c.addSignal(&fired, flagScores, Signal{Flag: flag, Source: "lexicon", Weight: WeightNameLexicon, Detail: term})
				break
			}
		}

		// Backstop only when nothing else fired for this flag.
		if !fired {
			for _, known := range knownNames[flag] {
				if lowerName == known {
					c.addSignal(&fired, flagScores, Signal{Flag: flag, Source: "known-name", Weight: WeightKnownName, Detail: known})
					break
				}
			}
		}
	}

	c.Legends = flagScores[flagLegends] >= FlagThreshold
	c.ForgeWorld = flagScores[flagForgeWorld] >= FlagThreshold

	switch {
	case c.Score >= ConfidenceHighThreshold:
		c.Confidence = ConfidenceHigh
	case c.Score >= ConfidenceMediumThreshold:
		c.Confidence = ConfidenceMedium
	default:
		c.Confidence = ConfidenceLow
	}

	// Without DOM context the strongest signal class is unavailable, so
	// high confidence is not achievable honestly.
	if ctx == nil && c.Confidence == ConfidenceHigh {
		c.Confidence = ConfidenceMedium
	}

	return c
}

func (c *Classification) addSignal(fired *bool, flagScores map[string]int, s Signal) {
	*fired = true
	c.Signals = append(c.Signals, s)
	c.Score += s.Weight
	flagScores[s.Flag] += s.Weight
}

// nearestMarker reports whether the element or any structural ancestor
// matches one of the marker selectors.
func nearestMarker(sel *goquery.Selection, pattern string) (string, bool) {
	if sel.Is(pattern) || sel.Find(pattern).Length() > 0 {
		return pattern, true
	}
	if closest := sel.Closest(pattern); closest.Length() > 0 {
		return pattern, true
	}
	// Markers are sometimes siblings inside the same list row.
	if parent := sel.Parent(); parent.Length() > 0 && parent.Find(pattern).Length() > 0 {
		return fmt.Sprintf("parent:%s", pattern), true
	}
	return "", false
}
