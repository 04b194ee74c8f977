// Package ai invokes an LLM to extract a structured datasheet from
// cleaned page text. Its output is untrusted: everything numeric is
// cross-checked against the deterministic pre-extraction before a
// record is persisted.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
)

// SheetMeta carries the minimal context the model needs.
type SheetMeta struct {
	Name    string
	Faction string
	URL     string
}

// Weapon is one extracted weapon profile.
type Weapon struct {
	Name     string `json:"name"`
	Range    string `json:"range"`
	Strength string `json:"strength"`
	Damage   string `json:"damage"`
}

// Datasheet is the model's candidate record. Numeric fields are
// pointers so absence is distinguishable from zero.
type Datasheet struct {
	Name             string
	Faction          string
	Movement         string
	Toughness        *int
	Save             string
	InvulnSave       string
	Wounds           *int
	Leadership       *int
	ObjectiveControl *int
	Points           *int
	Weapons          []Weapon
	Keywords         []string
	Abilities        []string
}

// Config controls the extractor.
type Config struct {
	Provider   string
	APIKey     string
	Model      string
	Endpoint   string
	HTTPClient *http.Client
}

// Extractor turns cleaned datasheet text into a candidate record.
type Extractor interface {
	ExtractDatasheet(ctx context.Context, meta SheetMeta, cleanedText string) (*Datasheet, error)
}

const (
	defaultProvider = "openai"
	defaultModel    = "gpt-4.1-mini"
	defaultEndpoint = "https://api.openai.com/v1/chat/completions"
)

// NewExtractor builds a concrete Extractor based on the provided config.
func NewExtractor(cfg Config) (Extractor, error) {
	cfg.Provider = strings.TrimSpace(strings.ToLower(cfg.Provider))
	if cfg.Provider == "" {
		cfg.Provider = defaultProvider
	}

	switch cfg.Provider {
	case "openai":
		return newOpenAIExtractor(cfg)
	default:
		return nil, fmt.Errorf("unsupported AI provider: %s", cfg.Provider)
	}
}

type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type openAIExtractor struct {
	apiKey   string
	model    string
	endpoint string
	client   httpClient
}

func newOpenAIExtractor(cfg Config) (*openAIExtractor, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("ai extraction requires an API key (set ai.api_key in config or OPENAI_API_KEY)")
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	return &openAIExtractor{apiKey: apiKey, model: model, endpoint: endpoint, client: client}, nil
}

// CleanContent converts the selected datasheet region into markdown
// text suitable for the model. Markdown keeps table structure readable
// while dropping the markup noise that wastes tokens.
func CleanContent(region *goquery.Selection) string {
	conv := md.NewConverter("", true, nil)
	return conv.Convert(region)
}

func (e *openAIExtractor) ExtractDatasheet(ctx context.Context, meta SheetMeta, cleanedText string) (*Datasheet, error) {
	if strings.TrimSpace(cleanedText) == "" {
		return nil, errors.New("empty content")
	}

	userPayload, err := json.Marshal(map[string]string{
		"name":    meta.Name,
		"faction": meta.Faction,
		"url":     meta.URL,
		"content": cleanedText,
	})
	if err != nil {
		return nil, err
	}

	reqBody := openAIChatRequest{
		Model: e.model,
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: string(userPayload)},
		},
		Temperature:    0.0,
		ResponseFormat: openAIResponseFormat{Type: "json_object"},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErrResp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErrResp)
		if apiErrResp.Error.Message != "" {
			return nil, fmt.Errorf("ai extraction: %s", apiErrResp.Error.Message)
		}
		return nil, fmt.Errorf("ai extraction failed with HTTP %d", resp.StatusCode)
	}

	var apiResp openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, err
	}

	if len(apiResp.Choices) == 0 || strings.TrimSpace(apiResp.Choices[0].Message.Content) == "" {
		return nil, errors.New("ai extraction returned an empty response")
	}

	return parseDatasheetJSON(apiResp.Choices[0].Message.Content, meta)
}

// parseDatasheetJSON reads the model output field by field with gjson
// rather than strict unmarshalling, so one malformed field does not
// discard the whole response.
func parseDatasheetJSON(content string, meta SheetMeta) (*Datasheet, error) {
	content = strings.TrimSpace(content)
	if !gjson.Valid(content) {
		return nil, errors.New("ai extraction returned invalid JSON")
	}

	ds := &Datasheet{
		Name:    strOr(gjson.Get(content, "name").String(), meta.Name),
		Faction: strOr(gjson.Get(content, "faction").String(), meta.Faction),
	}

	ds.Movement = gjson.Get(content, "stats.movement").String()
	ds.Save = gjson.Get(content, "stats.save").String()
	ds.InvulnSave = gjson.Get(content, "stats.invuln_save").String()
	ds.Toughness = intPtr(gjson.Get(content, "stats.toughness"))
	ds.Wounds = intPtr(gjson.Get(content, "stats.wounds"))
	ds.Leadership = intPtr(gjson.Get(content, "stats.leadership"))
	ds.ObjectiveControl = intPtr(gjson.Get(content, "stats.objective_control"))
	ds.Points = intPtr(gjson.Get(content, "points"))

	gjson.Get(content, "weapons").ForEach(func(_, w gjson.Result) bool {
		ds.Weapons = append(ds.Weapons, Weapon{
			Name:     w.Get("name").String(),
			Range:    w.Get("range").String(),
			Strength: w.Get("strength").String(),
			Damage:   w.Get("damage").String(),
		})
		return true
	})
	gjson.Get(content, "keywords").ForEach(func(_, k gjson.Result) bool {
		if s := strings.TrimSpace(k.String()); s != "" {
			ds.Keywords = append(ds.Keywords, s)
		}
		return true
	})
	gjson.Get(content, "abilities").ForEach(func(_, a gjson.Result) bool {
		if s := strings.TrimSpace(a.String()); s != "" {
			ds.Abilities = append(ds.Abilities, s)
		}
		return true
	})

	return ds, nil
}

func intPtr(r gjson.Result) *int {
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	v := int(r.Int())
	return &v
}

func strOr(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

const systemPrompt = `You extract Warhammer 40,000 unit datasheets from page text.

For the page you receive:
- Read the unit stat line (M, T, Sv, invulnerable save, W, Ld, OC).
- Read every weapon profile table (ranged and melee).
- Collect the unit keywords and ability names.
- Find the points cost; when multiple unit sizes are listed, report the cheapest.
- Never invent values. Omit any field you cannot find.

Return ONLY JSON following this schema:
{
  "name": "string",
  "faction": "string",
  "stats": {"movement": "6\"", "toughness": 4, "save": "3+", "invuln_save": "5+", "wounds": 3, "leadership": 6, "objective_control": 2},
  "points": 95,
  "weapons": [{"name": "string", "range": "12\"", "strength": "4", "damage": "1"}],
  "keywords": ["string"],
  "abilities": ["string"]
}`

type openAIChatRequest struct {
	Model          string               `json:"model"`
	Messages       []openAIMessage      `json:"messages"`
	Temperature    float64              `json:"temperature"`
	ResponseFormat openAIResponseFormat `json:"response_format"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}
