package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/AndrewDeWitt/GrimLog-sub006/pkg/ai"
	"github.com/AndrewDeWitt/GrimLog-sub006/pkg/cache"
	"github.com/AndrewDeWitt/GrimLog-sub006/pkg/classify"
	"github.com/AndrewDeWitt/GrimLog-sub006/pkg/datasheet"
	"github.com/AndrewDeWitt/GrimLog-sub006/pkg/fetch"
	"github.com/AndrewDeWitt/GrimLog-sub006/pkg/preparse"
	"github.com/AndrewDeWitt/GrimLog-sub006/pkg/quality"
	"github.com/AndrewDeWitt/GrimLog-sub006/pkg/storage"
)

const recordPage = `<html><body><div id="wrapper"><div class="Columns2">
<h1>%s</h1>
<p>Errata pass %d</p>
<table>
  <tr><th>M</th><th>T</th><th>SV</th><th>W</th><th>LD</th><th>OC</th></tr>
  <tr><td>6"</td><td>4</td><td>3+</td><td>2</td><td>6</td><td>2</td></tr>
</table>
<table>
  <tr><th>Ranged Weapons</th><th>Range</th><th>A</th><th>BS</th><th>S</th><th>AP</th><th>D</th></tr>
  <tr><td>Bolt rifle</td><td>24"</td><td>2</td><td>3+</td><td>4</td><td>-1</td><td>1</td></tr>
</table>
<span class="kwb">Infantry</span><span class="kwb">Imperium</span><span class="kwb">Tacticus</span>
<b>Oath of Moment</b>
<table><tr><td>5 models</td><td>85 pts</td></tr></table>
</div></div></body></html>`

type testSite struct {
	srv     *httptest.Server
	fetches int32
	version int32
}

func newTestSite(t *testing.T) *testSite {
	t.Helper()
	site := &testSite{version: 1}
	mux := http.NewServeMux()
	mux.HandleFunc("/wh40k10ed/factions/test-faction", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&site.fetches, 1)
		fmt.Fprint(w, `<html><body><div class="NavColumns3"><h3>Battleline</h3>`)
		for i := 1; i <= 6; i++ {
			fmt.Fprintf(w, `<div class="NavLink"><a href="/wh40k10ed/factions/test-faction/Unit-%d">Unit %d</a></div>`, i, i)
		}
		fmt.Fprint(w, `</div></body></html>`)
	})
	mux.HandleFunc("/wh40k10ed/factions/test-faction/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&site.fetches, 1)
		fmt.Fprintf(w, recordPage, r.URL.Path, atomic.LoadInt32(&site.version))
	})
	site.srv = httptest.NewServer(mux)
	t.Cleanup(site.srv.Close)
	return site
}

func testConfig(t *testing.T, site *testSite) Config {
	t.Helper()
	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("cache.NewStore: %v", err)
	}
	return Config{
		IndexURL: site.srv.URL + "/wh40k10ed/factions/test-faction",
		PathRoot: "/wh40k10ed/factions/",
		Faction:  "Test Faction",
		Fetcher: fetch.NewClient(fetch.Options{
			MaxRetries:  1,
			BaseDelay:   time.Millisecond,
			MinInterval: time.Millisecond,
		}),
		Cache: store,
	}
}

func TestRunProcessesAllRecords(t *testing.T) {
	site := newTestSite(t)
	res, err := Run(context.Background(), testConfig(t, site))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Processed != 6 || res.Failed != 0 {
		t.Fatalf("expected 6 processed, got %+v", res)
	}
	// Complete fixtures only lose points for their small page size.
	if res.QualityHistogram["70-89"] != 6 {
		t.Fatalf("unexpected quality histogram: %v", res.QualityHistogram)
	}
	if res.FinishedAt.Before(res.StartedAt) {
		t.Fatalf("bad run timestamps: %+v", res)
	}
}

func TestRunServesSecondPassFromCache(t *testing.T) {
	site := newTestSite(t)
	cfg := testConfig(t, site)

	if _, err := Run(context.Background(), cfg); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first := atomic.LoadInt32(&site.fetches)
	if first != 7 {
		t.Fatalf("expected 7 fetches (index + 6 records), got %d", first)
	}

	if _, err := Run(context.Background(), cfg); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := atomic.LoadInt32(&site.fetches); got != first {
		t.Fatalf("second run should be fully cache-served, got %d extra fetches", got-first)
	}
}

func TestRunForceBypassesCache(t *testing.T) {
	site := newTestSite(t)
	cfg := testConfig(t, site)

	if _, err := Run(context.Background(), cfg); err != nil {
		t.Fatalf("first run: %v", err)
	}
	cfg.Force = true
	if _, err := Run(context.Background(), cfg); err != nil {
		t.Fatalf("forced run: %v", err)
	}
	if got := atomic.LoadInt32(&site.fetches); got != 14 {
		t.Fatalf("forced run should refetch everything, got %d total fetches", got)
	}
}

func TestChangedCountsOnlyFreshFetches(t *testing.T) {
	site := newTestSite(t)
	cfg := testConfig(t, site)

	if _, err := Run(context.Background(), cfg); err != nil {
		t.Fatalf("first run: %v", err)
	}

	atomic.StoreInt32(&site.version, 2)
	cfg.Force = true
	res, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("forced run: %v", err)
	}
	if res.Changed != 6 {
		t.Fatalf("revised pages should count as changed, got %d", res.Changed)
	}

	// A cache-served run saw no new content, whatever the sidecars
	// recorded at the last fetch.
	cfg.Force = false
	res, err = Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("cached run: %v", err)
	}
	if res.Changed != 0 {
		t.Fatalf("cache-served run should count no changes, got %d", res.Changed)
	}
}

func TestRunSummaryPersistedOnIndexFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("cache.NewStore: %v", err)
	}
	dbPath := filepath.Join(t.TempDir(), "run.sqlite")
	db, err := storage.Open(dbPath)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}

	_, err = Run(context.Background(), Config{
		IndexURL: srv.URL + "/wh40k10ed/factions/test-faction",
		PathRoot: "/wh40k10ed/factions/",
		Faction:  "Test Faction",
		Fetcher: fetch.NewClient(fetch.Options{
			MaxRetries:  1,
			BaseDelay:   time.Millisecond,
			MinInterval: time.Millisecond,
		}),
		Cache: store,
		DB:    db,
	})
	if err == nil {
		t.Fatal("unreachable index should fail the run")
	}
	if err := db.Close(); err != nil {
		t.Fatalf("closing db: %v", err)
	}

	raw, err := sql.Open("sqlite", "file:"+dbPath)
	if err != nil {
		t.Fatalf("reopening db: %v", err)
	}
	defer raw.Close()
	var runs int
	if err := raw.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&runs); err != nil {
		t.Fatalf("counting runs: %v", err)
	}
	if runs != 1 {
		t.Fatalf("a failed run should still write its summary row, got %d rows", runs)
	}
}

func TestRunLimit(t *testing.T) {
	site := newTestSite(t)
	cfg := testConfig(t, site)
	cfg.Limit = 2

	res, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Processed != 2 || res.Skipped != 4 {
		t.Fatalf("limit not honored: %+v", res)
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	site := newTestSite(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, testConfig(t, site))
	if err == nil {
		t.Fatal("cancelled context should abort the run")
	}
}

func TestBuildRecordMergesPasses(t *testing.T) {
	preToughness, points := 4, 85
	semToughness, semLeadership := 5, 6
	pre := &preparse.PreParsedRecord{
		Stats:      preparse.Stats{Toughness: &preToughness},
		Weapons:    []preparse.WeaponRow{{Name: "Bolt rifle"}},
		Keywords:   []string{"Infantry"},
		PointsCost: &points,
	}
	sem := &ai.Datasheet{
		Toughness:  &semToughness,
		Leadership: &semLeadership,
		Abilities:  []string{"Oath of Moment"},
		Keywords:   []string{"Wrong"},
	}
	link := datasheet.CandidateLink{Name: "Intercessor Squad", Faction: "Space Marines", URL: "https://example.com/x"}

	rec := buildRecord("sm--intercessors", link, classify.Classification{}, pre, sem, quality.QualityScore{Score: 90}, nil, "hash")

	if rec.Toughness == nil || *rec.Toughness != 4 {
		t.Fatalf("deterministic reading must win: %v", rec.Toughness)
	}
	if rec.Leadership == nil || *rec.Leadership != 6 {
		t.Fatal("ai pass should fill gaps the deterministic pass missed")
	}
	if len(rec.Keywords) != 1 || rec.Keywords[0] != "Infantry" {
		t.Fatalf("deterministic keywords must win: %v", rec.Keywords)
	}
	if len(rec.Abilities) != 1 || rec.Abilities[0] != "Oath of Moment" {
		t.Fatalf("abilities come from the ai pass: %v", rec.Abilities)
	}
	if rec.WeaponCount != 1 || rec.Points == nil || *rec.Points != 85 {
		t.Fatalf("unexpected merge: %+v", rec)
	}
}

func TestQualityBucket(t *testing.T) {
	cases := map[int]string{100: "90-100", 90: "90-100", 89: "70-89", 70: "70-89", 55: "50-69", 10: "0-49"}
	for score, want := range cases {
		if got := qualityBucket(score); got != want {
			t.Fatalf("bucket(%d) = %s, want %s", score, got, want)
		}
	}
}
