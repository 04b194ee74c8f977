package selector

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

func mkDoc(t *testing.T, body string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<html><body>" + body + "</body></html>"))
	if err != nil {
		t.Fatalf("parsing fixture: %v", err)
	}
	return doc
}

func TestSelectFirstStrategyWins(t *testing.T) {
	doc := mkDoc(t, `<div class="primary">content</div><div class="secondary">content</div>`)
	res := Select(doc, []Strategy{
		{Pattern: "div.primary", Confidence: ConfidenceHigh},
		{Pattern: "div.secondary", Confidence: ConfidenceMedium},
	})
	if res.FallbackLevel != 0 {
		t.Fatalf("expected fallback level 0, got %d", res.FallbackLevel)
	}
	if res.Confidence != ConfidenceHigh {
		t.Fatalf("expected high confidence, got %s", res.Confidence)
	}
	if res.Degraded() {
		t.Fatalf("unexpected degradation: %s", res.Warning)
	}
}

func TestSelectFallbackLevelMatchesStrategyIndex(t *testing.T) {
	// Only the third strategy yields exactly one match.
	doc := mkDoc(t, `<div class="b">one</div><div class="b">two</div><div class="c">only</div>`)
	res := Select(doc, []Strategy{
		{Pattern: "div.a", Confidence: ConfidenceHigh},
		{Pattern: "div.b", Confidence: ConfidenceMedium},
		{Pattern: "div.c", Confidence: ConfidenceLow},
	})
	if res.FallbackLevel != 2 {
		t.Fatalf("expected fallback level 2, got %d", res.FallbackLevel)
	}
	if res.Confidence != ConfidenceLow {
		t.Fatalf("expected low confidence, got %s", res.Confidence)
	}
}

func TestSelectMultipleMatchesAdvance(t *testing.T) {
	doc := mkDoc(t, `<div class="a">one</div><div class="a">two</div>`)
	res := Select(doc, []Strategy{
		{Pattern: "div.a", Confidence: ConfidenceHigh},
	})
	if res.FallbackLevel != 1 {
		t.Fatalf("ambiguous match should not be selected, got level %d", res.FallbackLevel)
	}
}

func TestSelectExhaustionDegradesToDocument(t *testing.T) {
	doc := mkDoc(t, `<p>nothing matches</p>`)
	strategies := []Strategy{
		{Pattern: "div.a", Confidence: ConfidenceHigh},
		{Pattern: "div.b", Confidence: ConfidenceMedium},
	}
	res := Select(doc, strategies)
	if res.FallbackLevel != len(strategies) {
		t.Fatalf("expected fallback level %d, got %d", len(strategies), res.FallbackLevel)
	}
	if res.Confidence != ConfidenceLow {
		t.Fatalf("expected low confidence on exhaustion, got %s", res.Confidence)
	}
	if !res.Degraded() {
		t.Fatal("expected a degradation warning")
	}
	if res.Selection == nil || res.Selection.Find("p").Length() != 1 {
		t.Fatal("expected whole-document scope on exhaustion")
	}
}
