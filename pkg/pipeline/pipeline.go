// Package pipeline drives one scrape run: fetch-or-cache, structural
// selection, deterministic pre-extraction, classification, quality
// scoring, AI extraction, cross-validation, and persistence. Records
// are processed one at a time; a single record's failure never aborts
// the run.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/AndrewDeWitt/GrimLog-sub006/pkg/ai"
	"github.com/AndrewDeWitt/GrimLog-sub006/pkg/cache"
	"github.com/AndrewDeWitt/GrimLog-sub006/pkg/classify"
	"github.com/AndrewDeWitt/GrimLog-sub006/pkg/datasheet"
	"github.com/AndrewDeWitt/GrimLog-sub006/pkg/fetch"
	"github.com/AndrewDeWitt/GrimLog-sub006/pkg/nav"
	"github.com/AndrewDeWitt/GrimLog-sub006/pkg/preparse"
	"github.com/AndrewDeWitt/GrimLog-sub006/pkg/quality"
	"github.com/AndrewDeWitt/GrimLog-sub006/pkg/selector"
	"github.com/AndrewDeWitt/GrimLog-sub006/pkg/storage"
	"github.com/AndrewDeWitt/GrimLog-sub006/pkg/validate"
)

// Logger abstracts logging so callers can use logrus, stdlib log, or
// any other logger that satisfies this interface.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// nopLogger silently discards all messages.
type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

// Config holds everything Run needs for a single faction scrape.
type Config struct {
	IndexURL string
	PathRoot string
	Faction  string
	MinLinks int

	Force          bool // refetch even on cache hit
	ExcludeFlagged bool // drop Legends/Forge World sheets
	Limit          int  // 0 = no limit

	Fetcher   *fetch.Client
	Cache     *cache.Store
	DB        *storage.DB  // optional
	Extractor ai.Extractor // optional
	Log       Logger       // optional; nil = no logging
}

// RecordError attributes one failure to one record.
type RecordError struct {
	Name string
	Err  error
}

// Result is the end-of-run report. It is always produced, even under
// partial failure.
type Result struct {
	StartedAt        time.Time
	FinishedAt       time.Time
	Processed        int
	Failed           int
	Skipped          int
	Changed          int
	Errors           []RecordError
	QualityHistogram map[string]int
	Issues           map[string][]validate.Issue
}

// Run executes the pipeline for one faction index page.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	log := cfg.Log
	if log == nil {
		log = nopLogger{}
	}

	result := &Result{
		StartedAt:        time.Now().UTC(),
		QualityHistogram: map[string]int{},
		Issues:           map[string][]validate.Issue{},
	}
	// The summary row is written however the run ends, including an
	// index fetch failure.
	defer func() {
		result.FinishedAt = time.Now().UTC()
		if cfg.DB != nil {
			if serr := cfg.DB.SaveRunSummary(ctx, summaryOf(result)); serr != nil {
				log.Warnf("Could not save run summary: %v", serr)
			}
		}
	}()

	indexDoc, err := loadPage(ctx, cfg, "index--"+cfg.Faction, cfg.IndexURL, log)
	if err != nil {
		return result, fmt.Errorf("fetching index page: %w", err)
	}

	navResult, err := nav.Extract(indexDoc.doc, nav.Options{
		IndexURL: cfg.IndexURL,
		PathRoot: cfg.PathRoot,
		MinLinks: cfg.MinLinks,
		Faction:  cfg.Faction,
	})
	if err != nil {
		return result, fmt.Errorf("extracting navigation: %w", err)
	}
	for _, w := range navResult.Warnings {
		log.Warnf("%s", w)
	}

	links := navResult.Links
	if cfg.ExcludeFlagged {
		kept, dropped := nav.FilterFlagged(links)
		for _, d := range dropped {
			log.Debugf("Excluding flagged sheet %s (legends=%v forgeworld=%v confidence=%s)",
				d.Name, d.Classification.Legends, d.Classification.ForgeWorld, d.Classification.Confidence)
		}
		result.Skipped += len(dropped)
		links = kept
	}
	log.Infof("Found %d datasheet links for %s", len(links), cfg.Faction)

	for i, link := range links {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if cfg.Limit > 0 && i >= cfg.Limit {
			result.Skipped += len(links) - i
			break
		}

		if err := processRecord(ctx, cfg, link, result, log); err != nil {
			log.Warnf("Failed to process %s: %v", link.Name, err)
			result.Failed++
			result.Errors = append(result.Errors, RecordError{Name: link.Name, Err: err})
			continue
		}
		result.Processed++
	}

	return result, nil
}

type loadedPage struct {
	doc     *goquery.Document
	content []byte
	rec     *cache.CacheRecord
	fetched bool // false when served from the cache
}

// loadPage serves content from the cache when possible. The fetch
// pacing slot is consumed even on a hit, so cache state never changes
// overall request cadence.
func loadPage(ctx context.Context, cfg Config, id, pageURL string, log Logger) (*loadedPage, error) {
	if !cfg.Force {
		if content, rec, ok, err := cfg.Cache.Get(id); err == nil && ok {
			if err := cfg.Fetcher.Pace(ctx); err != nil {
				return nil, err
			}
			doc, derr := goquery.NewDocumentFromReader(bytes.NewReader(content))
			if derr == nil {
				log.Debugf("Cache hit for %s", id)
				return &loadedPage{doc: doc, content: content, rec: rec}, nil
			}
		} else if err != nil {
			log.Warnf("Cache read error for %s: %v", id, err)
		}
	}

	src, err := cfg.Fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	rec, err := cfg.Cache.Put(id, src.Body, &cache.CacheRecord{
		URL:          pageURL,
		FetchedAt:    src.FetchedAt,
		LastModified: src.LastModified,
		ETag:         src.ETag,
	})
	if err != nil {
		return nil, err
	}
	if rec.ChangeDetected {
		log.Infof("Content change detected for %s", id)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(src.Body))
	if err != nil {
		return nil, err
	}
	return &loadedPage{doc: doc, content: src.Body, rec: rec, fetched: true}, nil
}

func processRecord(ctx context.Context, cfg Config, link datasheet.CandidateLink, result *Result, log Logger) error {
	id := datasheet.LogicalID(link.Name, link.Faction)

	page, err := loadPage(ctx, cfg, id, link.URL, log)
	if err != nil {
		return err
	}
	// The sidecar keeps ChangeDetected from the last real fetch; a
	// cache-served page saw no new content this run.
	if page.fetched && page.rec.ChangeDetected {
		result.Changed++
	}

	sel := selector.Select(page.doc, selector.ContentStrategies)
	if sel.Degraded() {
		log.Debugf("%s: %s", link.Name, sel.Warning)
	}

	pre := preparse.Parse(sel.Selection, sel.FallbackLevel)
	for _, w := range pre.Warnings {
		log.Debugf("%s: %s", link.Name, w)
	}

	// Re-classify with the full record page as context; the index link
	// only saw its local nav row.
	cls := classify.Classify(link.Name, link.URL, sel.Selection)
	if cls.Score < link.Classification.Score {
		cls = link.Classification
	}

	q := quality.Score(len(page.content), sel.Confidence, pre)
	result.QualityHistogram[qualityBucket(q.Score)]++
	log.Debugf("%s: quality %d %v", link.Name, q.Score, q.Flags)

	page.rec.SelectorUsed = sel.Pattern
	page.rec.FallbackLevel = sel.FallbackLevel
	page.rec.Quality = &q
	page.rec.PreParsed = pre
	if err := cfg.Cache.UpdateSidecar(page.rec); err != nil {
		log.Warnf("Could not update cache sidecar for %s: %v", id, err)
	}

	var sem *ai.Datasheet
	var issues []validate.Issue
	if cfg.Extractor != nil {
		cleaned := ai.CleanContent(sel.Selection)
		sem, err = cfg.Extractor.ExtractDatasheet(ctx, ai.SheetMeta{
			Name:    link.Name,
			Faction: link.Faction,
			URL:     link.URL,
		}, cleaned)
		if err != nil {
			log.Warnf("AI extraction failed for %s: %v", link.Name, err)
			sem = nil
		} else {
			issues = validate.Compare(pre, sem)
			for _, iss := range issues {
				log.Warnf("%s: [%s] %s", link.Name, iss.Severity, iss.Message)
			}
			if len(issues) > 0 {
				result.Issues[link.Name] = issues
			}
		}
	}

	if cfg.DB == nil {
		return nil
	}

	rec := buildRecord(id, link, cls, pre, sem, q, issues, page.rec.ContentHash)
	changeType, err := cfg.DB.UpsertDatasheet(ctx, rec)
	if err != nil {
		return fmt.Errorf("upserting %s: %w", link.Name, err)
	}
	if changeType != "" {
		log.Infof("%s %s (%s)", changeType, link.Name, link.Faction)
	}
	return nil
}

// buildRecord merges the two extraction passes. Numeric fields from
// the deterministic pass win whenever both sides read one; the AI
// extractor only fills gaps and supplies descriptive text.
func buildRecord(id string, link datasheet.CandidateLink, cls classify.Classification, pre *preparse.PreParsedRecord, sem *ai.Datasheet, q quality.QualityScore, issues []validate.Issue, contentHash string) storage.Record {
	rec := storage.Record{
		LogicalID:    id,
		Name:         link.Name,
		Faction:      link.Faction,
		Legends:      cls.Legends,
		ForgeWorld:   cls.ForgeWorld,
		URL:          link.URL,
		WeaponCount:  len(pre.Weapons),
		Keywords:     pre.Keywords,
		QualityScore: q.Score,
		QualityFlags: q.Flags,
		ContentHash:  contentHash,
	}

	if pre.Stats.Movement != nil {
		rec.Movement = *pre.Stats.Movement
	}
	if pre.Stats.Save != nil {
		rec.Save = *pre.Stats.Save
	}
	if pre.Stats.InvulnSave != nil {
		rec.InvulnSave = *pre.Stats.InvulnSave
	}
	rec.Toughness = pre.Stats.Toughness
	rec.Wounds = pre.Stats.Wounds
	rec.Leadership = pre.Stats.Leadership
	rec.ObjectiveControl = pre.Stats.ObjectiveControl
	rec.Points = pre.PointsCost

	if sem != nil {
		if rec.Movement == "" {
			rec.Movement = sem.Movement
		}
		if rec.Save == "" {
			rec.Save = sem.Save
		}
		if rec.InvulnSave == "" {
			rec.InvulnSave = sem.InvulnSave
		}
		if rec.Toughness == nil {
			rec.Toughness = sem.Toughness
		}
		if rec.Wounds == nil {
			rec.Wounds = sem.Wounds
		}
		if rec.Leadership == nil {
			rec.Leadership = sem.Leadership
		}
		if rec.ObjectiveControl == nil {
			rec.ObjectiveControl = sem.ObjectiveControl
		}
		if rec.Points == nil {
			rec.Points = sem.Points
		}
		if len(rec.Keywords) == 0 {
			rec.Keywords = sem.Keywords
		}
		// The deterministic ability list is noise by design; only the
		// AI list is ever persisted.
		rec.Abilities = sem.Abilities
		if rec.WeaponCount == 0 {
			rec.WeaponCount = len(sem.Weapons)
		}
	}

	if len(issues) > 0 {
		if data, err := json.Marshal(issues); err == nil {
			rec.IssuesJSON = string(data)
		}
	}

	return rec
}

func qualityBucket(score int) string {
	switch {
	case score >= 90:
		return "90-100"
	case score >= 70:
		return "70-89"
	case score >= 50:
		return "50-69"
	default:
		return "0-49"
	}
}

func summaryOf(r *Result) storage.RunSummary {
	s := storage.RunSummary{
		StartedAt:        r.StartedAt,
		FinishedAt:       r.FinishedAt,
		Processed:        r.Processed,
		Failed:           r.Failed,
		Skipped:          r.Skipped,
		QualityHistogram: r.QualityHistogram,
	}
	for _, e := range r.Errors {
		s.Errors = append(s.Errors, fmt.Sprintf("%s: %v", e.Name, e.Err))
	}
	return s
}
