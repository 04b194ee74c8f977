package selector

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"
)

// Confidence is the tier a strategy declares for its pattern.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Strategy is one candidate CSS pattern for locating a document
// region. Strategies are tried in order, highest confidence first.
type Strategy struct {
	Pattern    string
	Confidence Confidence
}

// Result is the outcome of a strategy run. FallbackLevel is the index
// of the strategy that matched; when every strategy fails it equals
// len(strategies) and the whole document is returned at low
// confidence instead of an error.
type Result struct {
	Selection     *goquery.Selection
	Pattern       string
	FallbackLevel int
	Confidence    Confidence
	Warning       string
}

// Degraded reports whether the result fell through the whole strategy
// list.
func (r Result) Degraded() bool {
	return r.Warning != ""
}

// Select walks the ordered strategy list and returns the first pattern
// that yields exactly one match. Zero or multiple matches advance to
// the next strategy; an exhausted list degrades to document scope
// rather than failing, so consumers can discount the extraction
// instead of losing it.
func Select(doc *goquery.Document, strategies []Strategy) Result {
	for i, s := range strategies {
		sel := doc.Find(s.Pattern)
		if sel.Length() == 1 {
			return Result{
				Selection:     sel,
				Pattern:       s.Pattern,
				FallbackLevel: i,
				Confidence:    s.Confidence,
			}
		}
	}
	return Result{
		Selection:     doc.Selection,
		Pattern:       "",
		FallbackLevel: len(strategies),
		Confidence:    ConfidenceLow,
		Warning:       fmt.Sprintf("all %d selector strategies failed, using whole document", len(strategies)),
	}
}

// ContentStrategies locates the datasheet body on a record page.
var ContentStrategies = []Strategy{
	{Pattern: "div#wrapper div.Columns2", Confidence: ConfidenceHigh},
	{Pattern: "div.dsAbility, div.datasheet", Confidence: ConfidenceMedium},
	{Pattern: "div#wrapper", Confidence: ConfidenceLow},
}

// NavStrategies locates the faction navigation region on an index page.
var NavStrategies = []Strategy{
	{Pattern: "div.NavColumns3", Confidence: ConfidenceHigh},
	{Pattern: "div.NavSideBar", Confidence: ConfidenceMedium},
	{Pattern: "div#wrapper nav", Confidence: ConfidenceLow},
}
