// Package validate reconciles the deterministic pre-extraction against
// the AI extractor's candidate record. Both sides read the same page,
// so tightly patterned numeric fields must agree; disagreement on
// those indicates a real extraction bug rather than model noise.
package validate

import (
	"fmt"
	"strconv"

	"github.com/AndrewDeWitt/GrimLog-sub006/pkg/ai"
	"github.com/AndrewDeWitt/GrimLog-sub006/pkg/preparse"
)

// Severity ranks a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Issue describes one field-level disagreement between the two
// extraction passes. Issues are reported, never raised: downstream
// triage decides whether to block ingestion.
type Issue struct {
	Field    string
	Message  string
	Severity Severity
	PreValue string
	SemValue string
}

// Weapon counts may legitimately differ by a couple of rows (profile
// splits, wargear options), so only larger gaps are reported.
const weaponCountTolerance = 2

// Compare checks every field present on both sides. Absence on either
// side alone is never an issue.
func Compare(pre *preparse.PreParsedRecord, sem *ai.Datasheet) []Issue {
	if pre == nil || sem == nil {
		return nil
	}

	var issues []Issue

	issues = appendIntMismatch(issues, "stats.toughness", SeverityError, pre.Stats.Toughness, sem.Toughness)
	issues = appendIntMismatch(issues, "stats.wounds", SeverityError, pre.Stats.Wounds, sem.Wounds)
	issues = appendIntMismatch(issues, "stats.objective_control", SeverityWarning, pre.Stats.ObjectiveControl, sem.ObjectiveControl)
	issues = appendIntMismatch(issues, "points", SeverityWarning, pre.PointsCost, sem.Points)

	if len(pre.Weapons) > 0 && len(sem.Weapons) > 0 {
		diff := len(pre.Weapons) - len(sem.Weapons)
		if diff < 0 {
			diff = -diff
		}
		if diff > weaponCountTolerance {
			issues = append(issues, Issue{
				Field:    "weapon_count",
				Message:  fmt.Sprintf("weapon count differs by %d (tolerance %d)", diff, weaponCountTolerance),
				Severity: SeverityWarning,
				PreValue: strconv.Itoa(len(pre.Weapons)),
				SemValue: strconv.Itoa(len(sem.Weapons)),
			})
		}
	}

	return issues
}

func appendIntMismatch(issues []Issue, field string, sev Severity, pre, sem *int) []Issue {
	if pre == nil || sem == nil {
		return issues
	}
	if *pre == *sem {
		return issues
	}
	return append(issues, Issue{
		Field:    field,
		Message:  fmt.Sprintf("%s mismatch: deterministic pass read %d, ai extractor read %d", field, *pre, *sem),
		Severity: sev,
		PreValue: strconv.Itoa(*pre),
		SemValue: strconv.Itoa(*sem),
	})
}
