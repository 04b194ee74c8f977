// Package datasheet holds the shared record model used by the
// navigation, pipeline, and storage layers.
package datasheet

import (
	"regexp"
	"strings"

	"github.com/AndrewDeWitt/GrimLog-sub006/pkg/classify"
)

// CandidateLink is one datasheet link discovered on a faction index
// page, tagged with the running category label and its classification.
type CandidateLink struct {
	Name             string
	URL              string
	Faction          string
	Classification   classify.Classification
	DegradedFallback bool
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// LogicalID derives the stable cross-run key for one record from its
// name and faction.
func LogicalID(name, faction string) string {
	return slugify(faction) + "--" + slugify(name)
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugStrip.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
