// Package preparse performs a deterministic, pattern-based extraction
// of a datasheet skeleton. Its output is a cheap oracle used to
// cross-check the AI extractor, never the system of record.
package preparse

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Stats holds the unit stat line. Every field is nullable: a missing
// or unrecognizable cell stays nil instead of guessing.
type Stats struct {
	Movement         *string
	Toughness        *int
	Save             *string
	InvulnSave       *string
	Wounds           *int
	Leadership       *int
	ObjectiveControl *int
}

// WeaponRow is one row of a weapon profile table, mapped positionally.
type WeaponRow struct {
	Name     string
	Range    string
	Attacks  string
	Skill    string
	Strength string
	AP       string
	Damage   string
}

// PointsTier pairs a model count with its cost.
type PointsTier struct {
	Models int
	Points int
}

// PreParsedRecord is the best-effort skeleton of one datasheet page.
type PreParsedRecord struct {
	Stats           Stats
	Weapons         []WeaponRow
	Keywords        []string
	AbilityNames    []string
	PointsCost      *int
	PointsTiers     []PointsTier
	ParseConfidence float64
	Warnings        []string
}

// Penalties applied to ParseConfidence. One per selector fallback
// level consumed upstream, one per sub-extraction that found nothing.
const (
	fallbackPenalty = 0.10
	missingPenalty  = 0.15
)

// Value-shape patterns. Cell values are classified by shape, not by
// column position, because the source reorders stat columns between
// revisions. Kept as data so the table can be tuned without touching
// the extraction logic.
var (
	movementShape = regexp.MustCompile(`^\d+"?$`)
	saveShape     = regexp.MustCompile(`^[2-6]\+\+?$`)
	invulnShape   = regexp.MustCompile(`^[2-6]\+\+$`)

	intBounds = map[string][2]int{
		"toughness":         {1, 14},
		"wounds":            {1, 40},
		"leadership":        {4, 10},
		"objective_control": {0, 10},
	}
)

// statHeaderTokens maps normalized header cell text to stat fields.
// Headers resolve the ambiguity shapes cannot (a bare "4" is a legal
// toughness, wound, or OC value).
var statHeaderTokens = map[string]string{
	"m":      "movement",
	"move":   "movement",
	"t":      "toughness",
	"sv":     "save",
	"save":   "save",
	"inv":    "invuln",
	"invuln": "invuln",
	"w":      "wounds",
	"ld":     "leadership",
	"oc":     "objective_control",
}

var (
	quantityPhrase = regexp.MustCompile(`(?i)(\d+)\s+models?`)
	pricePattern   = regexp.MustCompile(`(\d+)\s*pts`)
	bareNumber     = regexp.MustCompile(`^\d+$`)
)

// Parse extracts the skeleton from a datasheet region. fallbackLevel
// is the selector fallback level consumed while locating the region;
// it feeds the confidence penalty.
func Parse(root *goquery.Selection, fallbackLevel int) *PreParsedRecord {
	rec := &PreParsedRecord{ParseConfidence: 1.0}

	for i := 0; i < fallbackLevel; i++ {
		rec.penalize(fallbackPenalty, fmt.Sprintf("selector fallback level %d consumed", i+1))
	}

	statsFound := rec.extractStats(root)
	rec.extractWeapons(root)
	rec.extractKeywords(root)
	rec.extractAbilities(root)
	rec.extractPoints(root)

	if !statsFound {
		rec.penalize(missingPenalty, "no stat table recognized")
	}
	if len(rec.Weapons) == 0 {
		rec.penalize(missingPenalty, "no weapon tables recognized")
	}
	if len(rec.Keywords) == 0 {
		rec.penalize(missingPenalty, "no keyword badges recognized")
	}
	if len(rec.AbilityNames) == 0 {
		rec.penalize(missingPenalty, "no ability name candidates found")
	}
	if rec.PointsCost == nil {
		rec.penalize(missingPenalty, "no points cost recognized")
	}

	return rec
}

func (r *PreParsedRecord) penalize(amount float64, warning string) {
	r.ParseConfidence -= amount
	if r.ParseConfidence < 0 {
		r.ParseConfidence = 0
	}
	r.Warnings = append(r.Warnings, warning)
}

// extractStats locates the first table whose header row matches the
// stat signature and maps its value cells. Returns false when no such
// table exists.
func (r *PreParsedRecord) extractStats(root *goquery.Selection) bool {
	found := false
	root.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		headers := headerCells(table)
		fields := make([]string, len(headers))
		known := 0
		for i, h := range headers {
			if f, ok := statHeaderTokens[h]; ok {
				fields[i] = f
				known++
			}
		}
		// Signature: at least toughness and wounds headers present.
		if known < 2 || !containsField(fields, "toughness") || !containsField(fields, "wounds") {
			return true
		}

		row := table.Find("tr").Eq(1)
		row.Find("td").Each(func(i int, cell *goquery.Selection) {
			if i < len(fields) {
				r.assignStat(fields[i], cleanCell(cell.Text()))
			}
		})
		found = true
		return false
	})
	return found
}

// assignStat validates raw against the field's value shape before
// assignment; malformed values are dropped, not coerced.
func (r *PreParsedRecord) assignStat(field, raw string) {
	if raw == "" || raw == "-" {
		return
	}
	switch field {
	case "movement":
		if movementShape.MatchString(raw) {
			r.Stats.Movement = &raw
		}
	case "save":
		// A double-plus value in a save column is really an invuln.
		if invulnShape.MatchString(raw) {
			r.Stats.InvulnSave = &raw
		} else if saveShape.MatchString(raw) {
			r.Stats.Save = &raw
		}
	case "invuln":
		if saveShape.MatchString(raw) {
			r.Stats.InvulnSave = &raw
		}
	case "toughness", "wounds", "leadership", "objective_control":
		v, err := strconv.Atoi(strings.TrimSuffix(raw, "+"))
		if err != nil {
			return
		}
		b := intBounds[field]
		if v < b[0] || v > b[1] {
			return
		}
		switch field {
		case "toughness":
			r.Stats.Toughness = &v
		case "wounds":
			r.Stats.Wounds = &v
		case "leadership":
			r.Stats.Leadership = &v
		case "objective_control":
			r.Stats.ObjectiveControl = &v
		}
	}
}

// extractWeapons collects rows from tables whose header row carries
// range/strength/damage shaped headers. Rows with at least four cells
// are mapped positionally; shorter rows are ignored as continuation
// or note rows.
func (r *PreParsedRecord) extractWeapons(root *goquery.Selection) {
	root.Find("table").Each(func(_ int, table *goquery.Selection) {
		headers := headerCells(table)
		if !isWeaponHeader(headers) {
			return
		}
		table.Find("tr").Each(func(i int, row *goquery.Selection) {
			if i == 0 {
				return
			}
			cells := row.Find("td").Map(func(_ int, c *goquery.Selection) string {
				return cleanCell(c.Text())
			})
			if len(cells) < 4 {
				return
			}
			w := WeaponRow{Name: cells[0], Range: cells[1]}
			rest := cells[2:]
			targets := []*string{&w.Attacks, &w.Skill, &w.Strength, &w.AP, &w.Damage}
			for i := 0; i < len(rest) && i < len(targets); i++ {
				*targets[i] = rest[i]
			}
			if w.Name != "" {
				r.Weapons = append(r.Weapons, w)
			}
		})
	})
}

func isWeaponHeader(headers []string) bool {
	var hasRange, hasStrength, hasDamage bool
	for _, h := range headers {
		switch h {
		case "range":
			hasRange = true
		case "s", "strength":
			hasStrength = true
		case "d", "damage":
			hasDamage = true
		}
	}
	return hasRange && hasStrength && hasDamage
}

// extractKeywords gathers badge-shaped elements, deduplicated
// case-insensitively. Tooltip wrappers are read first: plain badges
// fragment multi-word phrases into separate single-word tokens, while
// the wrapper keeps the phrase intact.
func (r *PreParsedRecord) extractKeywords(root *goquery.Selection) {
	seen := map[string]bool{}
	add := func(text string) {
		text = cleanCell(text)
		if text == "" {
			return
		}
		key := strings.ToLower(text)
		if seen[key] {
			return
		}
		seen[key] = true
		r.Keywords = append(r.Keywords, text)
	}

	root.Find(".tooltip_wrap .kwb, .tooltip_wrap .kwb2, [data-tooltip] .kwb").Each(func(_ int, s *goquery.Selection) {
		add(s.Text())
	})
	root.Find(".kwb, .kwb2, span.badge").Each(func(_ int, s *goquery.Selection) {
		// Skip fragments whose phrase was already recovered whole.
		if fragmentOfSeen(seen, cleanCell(s.Text())) {
			return
		}
		add(s.Text())
	})
}

func fragmentOfSeen(seen map[string]bool, text string) bool {
	if text == "" || strings.Contains(text, " ") {
		return false
	}
	lower := strings.ToLower(text)
	for phrase := range seen {
		if phrase != lower && strings.Contains(phrase, lower) {
			return true
		}
	}
	return false
}

// extractAbilities pulls short, colon-free, non-numeric-leading
// strings from emphasis-styled elements. Deliberately noisy; the
// output is only ever used as a presence signal.
func (r *PreParsedRecord) extractAbilities(root *goquery.Selection) {
	seen := map[string]bool{}
	root.Find("b, strong, .dsAbility span.name").Each(func(_ int, s *goquery.Selection) {
		text := cleanCell(s.Text())
		if len(text) < 2 || len(text) > 50 {
			return
		}
		if strings.Contains(text, ":") {
			return
		}
		if text[0] >= '0' && text[0] <= '9' {
			return
		}
		key := strings.ToLower(text)
		if seen[key] {
			return
		}
		seen[key] = true
		r.AbilityNames = append(r.AbilityNames, text)
	})
}

// extractPoints reads cost tables: any table containing a recognized
// price marker. Each row pairs an "N models" quantity phrase with the
// adjacent price value; tiers sort ascending by quantity and the
// minimum tier (or a lone price) becomes the baseline cost.
func (r *PreParsedRecord) extractPoints(root *goquery.Selection) {
	root.Find("table").Each(func(_ int, table *goquery.Selection) {
		if !strings.Contains(strings.ToLower(table.Text()), "pts") {
			return
		}
		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			rowText := row.Text()
			qm := quantityPhrase.FindStringSubmatch(rowText)
			pm := pricePattern.FindStringSubmatch(rowText)

			var price int
			switch {
			case pm != nil:
				price, _ = strconv.Atoi(pm[1])
			default:
				// Price may sit in its own bare-number cell; skip the
				// cell carrying the quantity phrase, take the first
				// bare number from the rest.
				row.Find("td").Each(func(_ int, c *goquery.Selection) {
					t := cleanCell(c.Text())
					if price != 0 || qm == nil || quantityPhrase.MatchString(t) {
						return
					}
					if bareNumber.MatchString(t) {
						price, _ = strconv.Atoi(t)
					}
				})
			}
			if price == 0 {
				return
			}

			models := 1
			if qm != nil {
				models, _ = strconv.Atoi(qm[1])
			}
			r.PointsTiers = append(r.PointsTiers, PointsTier{Models: models, Points: price})
		})
	})

	if len(r.PointsTiers) == 0 {
		return
	}
	sort.Slice(r.PointsTiers, func(i, j int) bool {
		return r.PointsTiers[i].Models < r.PointsTiers[j].Models
	})
	base := r.PointsTiers[0].Points
	r.PointsCost = &base
}

func containsField(fields []string, field string) bool {
	for _, f := range fields {
		if f == field {
			return true
		}
	}
	return false
}

func headerCells(table *goquery.Selection) []string {
	row := table.Find("tr").First()
	cells := row.Find("th")
	if cells.Length() == 0 {
		cells = row.Find("td")
	}
	return cells.Map(func(_ int, c *goquery.Selection) string {
		return strings.ToLower(cleanCell(c.Text()))
	})
}

func cleanCell(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
