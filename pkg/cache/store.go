// Package cache persists raw page content keyed by logical id, with
// change detection over a normalized content hash. The cache is
// authoritative unless the caller forces a refresh.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/AndrewDeWitt/GrimLog-sub006/pkg/preparse"
	"github.com/AndrewDeWitt/GrimLog-sub006/pkg/quality"
)

// CacheRecord is the sidecar metadata stored next to the raw content
// file. Quality and PreParsed are advisory output written once per
// run; they are recomputed from content every run and never read back
// as input, so algorithm changes apply to already-cached pages.
type CacheRecord struct {
	ID                string                    `json:"id"`
	URL               string                    `json:"url"`
	ContentHash       string                    `json:"content_hash"`
	RawSize           int                       `json:"raw_size"`
	CleanedSize       int                       `json:"cleaned_size"`
	FetchedAt         time.Time                 `json:"fetched_at"`
	LastModified      string                    `json:"last_modified,omitempty"`
	ETag              string                    `json:"etag,omitempty"`
	PreviousHash      string                    `json:"previous_hash,omitempty"`
	PreviousFetchedAt time.Time                 `json:"previous_fetched_at,omitempty"`
	ChangeDetected    bool                      `json:"change_detected"`
	SelectorUsed      string                    `json:"selector_used,omitempty"`
	FallbackLevel     int                       `json:"fallback_level"`
	Quality           *quality.QualityScore     `json:"quality,omitempty"`
	PreParsed         *preparse.PreParsedRecord `json:"pre_parsed,omitempty"`
}

// Store is a content-addressed file cache: <id>.html for raw bytes,
// <id>.json for the sidecar.
type Store struct {
	root string
}

// NewStore creates the cache directory if needed.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	return &Store{root: root}, nil
}

// Get returns cached content and metadata for id. ok is false on a
// cache miss; a missing or unreadable sidecar is treated as a miss so
// a partial previous write never poisons the pipeline.
func (s *Store) Get(id string) (content []byte, rec *CacheRecord, ok bool, err error) {
	content, err = os.ReadFile(s.contentPath(id))
	if os.IsNotExist(err) {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, err
	}

	data, rerr := os.ReadFile(s.sidecarPath(id))
	if rerr != nil {
		return nil, nil, false, nil
	}
	rec = &CacheRecord{}
	if jerr := json.Unmarshal(data, rec); jerr != nil {
		return nil, nil, false, nil
	}
	return content, rec, true, nil
}

// Put stores content under id, computing the normalized hash and
// comparing it to the previous record to set ChangeDetected. The old
// hash and timestamp are retained for diffing. Both files are written
// atomically so the previous record stays intact until the new one
// fully commits.
func (s *Store) Put(id string, content []byte, rec *CacheRecord) (*CacheRecord, error) {
	normalized := NormalizeContent(content)
	sum := sha256.Sum256(normalized)

	rec.ID = id
	rec.ContentHash = hex.EncodeToString(sum[:])
	rec.RawSize = len(content)
	rec.CleanedSize = len(normalized)
	if rec.FetchedAt.IsZero() {
		rec.FetchedAt = time.Now().UTC()
	}

	if prev := s.readSidecar(id); prev != nil {
		rec.PreviousHash = prev.ContentHash
		rec.PreviousFetchedAt = prev.FetchedAt
		rec.ChangeDetected = prev.ContentHash != rec.ContentHash
	}

	if err := atomicWrite(s.contentPath(id), content); err != nil {
		return nil, fmt.Errorf("writing cache content for %s: %w", id, err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := atomicWrite(s.sidecarPath(id), data); err != nil {
		return nil, fmt.Errorf("writing cache sidecar for %s: %w", id, err)
	}
	return rec, nil
}

// UpdateSidecar rewrites only the metadata file, used after the
// selector/quality stages filled the advisory fields in.
func (s *Store) UpdateSidecar(rec *CacheRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(s.sidecarPath(rec.ID), data)
}

func (s *Store) readSidecar(id string) *CacheRecord {
	data, err := os.ReadFile(s.sidecarPath(id))
	if err != nil {
		return nil
	}
	rec := &CacheRecord{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil
	}
	return rec
}

func (s *Store) contentPath(id string) string {
	return filepath.Join(s.root, sanitizeID(id)+".html")
}

func (s *Store) sidecarPath(id string) string {
	return filepath.Join(s.root, sanitizeID(id)+".json")
}

var unsafeIDChars = regexp.MustCompile(`[^a-z0-9._-]+`)

func sanitizeID(id string) string {
	return unsafeIDChars.ReplaceAllString(id, "_")
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
