package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

type fakeClient struct {
	status  int
	body    string
	lastReq *http.Request
}

func (f *fakeClient) Do(req *http.Request) (*http.Response, error) {
	f.lastReq = req
	return &http.Response{
		StatusCode: f.status,
		Body:       io.NopCloser(strings.NewReader(f.body)),
		Header:     http.Header{},
	}, nil
}

func chatResponse(content string) string {
	b, _ := json.Marshal(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"content": content}},
		},
	})
	return string(b)
}

func TestParseDatasheetJSON(t *testing.T) {
	meta := SheetMeta{Name: "Intercessor Squad", Faction: "Space Marines"}
	content := `{
		"name": "Intercessor Squad",
		"stats": {"movement": "6\"", "toughness": 4, "save": "3+", "wounds": 2, "objective_control": 2},
		"points": 80,
		"weapons": [{"name": "Bolt rifle", "range": "24\"", "strength": "4", "damage": "1"}],
		"keywords": ["Infantry", "Imperium", ""],
		"abilities": ["Oath of Moment"]
	}`

	ds, err := parseDatasheetJSON(content, meta)
	if err != nil {
		t.Fatalf("parseDatasheetJSON: %v", err)
	}
	if ds.Faction != "Space Marines" {
		t.Fatalf("missing faction should fall back to metadata, got %q", ds.Faction)
	}
	if ds.Toughness == nil || *ds.Toughness != 4 {
		t.Fatalf("toughness: %v", ds.Toughness)
	}
	if ds.Leadership != nil {
		t.Fatal("absent field must stay nil, not zero")
	}
	if ds.Points == nil || *ds.Points != 80 {
		t.Fatalf("points: %v", ds.Points)
	}
	if len(ds.Weapons) != 1 || ds.Weapons[0].Name != "Bolt rifle" {
		t.Fatalf("weapons: %+v", ds.Weapons)
	}
	if len(ds.Keywords) != 2 {
		t.Fatalf("blank keyword entries should be dropped: %v", ds.Keywords)
	}
}

func TestParseDatasheetJSONRejectsGarbage(t *testing.T) {
	if _, err := parseDatasheetJSON("I could not find a datasheet here.", SheetMeta{}); err == nil {
		t.Fatal("prose response should be rejected")
	}
}

func TestExtractDatasheetRequestShape(t *testing.T) {
	fake := &fakeClient{status: 200, body: chatResponse(`{"name":"Captain","stats":{"toughness":4}}`)}
	ext := &openAIExtractor{apiKey: "test-key", model: "gpt-4.1-mini", endpoint: "https://api.example/v1/chat/completions", client: fake}

	ds, err := ext.ExtractDatasheet(context.Background(), SheetMeta{Name: "Captain", Faction: "Space Marines"}, "## Captain\nT4 W5")
	if err != nil {
		t.Fatalf("ExtractDatasheet: %v", err)
	}
	if ds.Name != "Captain" || ds.Toughness == nil || *ds.Toughness != 4 {
		t.Fatalf("unexpected datasheet: %+v", ds)
	}

	if got := fake.lastReq.Header.Get("Authorization"); got != "Bearer test-key" {
		t.Fatalf("auth header: %q", got)
	}
	raw, _ := io.ReadAll(fake.lastReq.Body)
	var req openAIChatRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		t.Fatalf("request body: %v", err)
	}
	if req.ResponseFormat.Type != "json_object" || req.Temperature != 0 {
		t.Fatalf("request not pinned to deterministic JSON mode: %+v", req)
	}
	if len(req.Messages) != 2 || !strings.Contains(req.Messages[1].Content, "Captain") {
		t.Fatalf("user message should carry sheet metadata: %+v", req.Messages)
	}
}

func TestExtractDatasheetSurfacesAPIError(t *testing.T) {
	fake := &fakeClient{status: 429, body: `{"error":{"message":"rate limited"}}`}
	ext := &openAIExtractor{apiKey: "k", model: "m", endpoint: "https://api.example/x", client: fake}

	_, err := ext.ExtractDatasheet(context.Background(), SheetMeta{}, "some content")
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected API error message surfaced, got %v", err)
	}
}

func TestExtractDatasheetRejectsEmptyContent(t *testing.T) {
	ext := &openAIExtractor{apiKey: "k", model: "m", endpoint: "x", client: &fakeClient{status: 200}}
	if _, err := ext.ExtractDatasheet(context.Background(), SheetMeta{}, "   "); err == nil {
		t.Fatal("blank content should not produce an API call")
	}
}

func TestNewExtractorValidation(t *testing.T) {
	if _, err := NewExtractor(Config{}); err == nil {
		t.Fatal("missing API key should be rejected")
	}
	if _, err := NewExtractor(Config{Provider: "aol", APIKey: "k"}); err == nil {
		t.Fatal("unknown provider should be rejected")
	}
	ext, err := NewExtractor(Config{APIKey: "k"})
	if err != nil || ext == nil {
		t.Fatalf("default provider should build: %v", err)
	}
}

func TestCleanContentStripsMarkup(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader([]byte(`<html><body><div id="ds">
<h1>Intercessor Squad</h1>
<p>Heroes of the <b>Adeptus Astartes</b>.</p>
</div></body></html>`)))
	if err != nil {
		t.Fatalf("parsing fixture: %v", err)
	}

	text := CleanContent(doc.Find("#ds"))
	if !strings.Contains(text, "Intercessor Squad") {
		t.Fatalf("heading lost: %q", text)
	}
	if strings.Contains(text, "<p>") || strings.Contains(text, "<b>") {
		t.Fatalf("markup leaked into cleaned text: %q", text)
	}
}
