package storage

import "time"

// Record is one validated datasheet ready for persistence. Numeric
// stats are pointers: absence must survive the round trip into the
// nullable columns.
type Record struct {
	LogicalID string
	Name      string
	Faction   string

	// Variant flags, part of the natural identity.
	Legends    bool
	ForgeWorld bool

	URL              string
	Movement         string
	Toughness        *int
	Save             string
	InvulnSave       string
	Wounds           *int
	Leadership       *int
	ObjectiveControl *int
	Points           *int
	WeaponCount      int
	Keywords         []string
	Abilities        []string

	// Advisory metadata from the extraction pipeline.
	QualityScore int
	QualityFlags []string
	IssuesJSON   string
	ContentHash  string
}

// Change captures a single change event for auditing or printing.
type Change struct {
	OccurredAt time.Time
	LogicalID  string
	Name       string
	Faction    string
	ChangeType string // added | updated
}

// RunSummary is the end-of-run report persisted to the runs table.
type RunSummary struct {
	StartedAt        time.Time
	FinishedAt       time.Time
	Processed        int
	Failed           int
	Skipped          int
	QualityHistogram map[string]int
	Errors           []string
}
