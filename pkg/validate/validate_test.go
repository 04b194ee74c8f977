package validate

import (
	"testing"

	"github.com/AndrewDeWitt/GrimLog-sub006/pkg/ai"
	"github.com/AndrewDeWitt/GrimLog-sub006/pkg/preparse"
)

func intp(v int) *int { return &v }

func TestToughnessMismatchIsError(t *testing.T) {
	pre := &preparse.PreParsedRecord{Stats: preparse.Stats{Toughness: intp(4)}}
	sem := &ai.Datasheet{Toughness: intp(5)}

	issues := Compare(pre, sem)
	if len(issues) != 1 {
		t.Fatalf("expected exactly one issue, got %d: %+v", len(issues), issues)
	}
	is := issues[0]
	if is.Field != "stats.toughness" || is.Severity != SeverityError {
		t.Fatalf("unexpected issue: %+v", is)
	}
	if is.PreValue != "4" || is.SemValue != "5" {
		t.Fatalf("issue should carry both readings: %+v", is)
	}
}

func TestWoundsMismatchIsError(t *testing.T) {
	issues := Compare(
		&preparse.PreParsedRecord{Stats: preparse.Stats{Wounds: intp(3)}},
		&ai.Datasheet{Wounds: intp(4)},
	)
	if len(issues) != 1 || issues[0].Severity != SeverityError {
		t.Fatalf("wounds mismatch should be an error, got %+v", issues)
	}
}

func TestSoftFieldMismatchIsWarning(t *testing.T) {
	issues := Compare(
		&preparse.PreParsedRecord{Stats: preparse.Stats{ObjectiveControl: intp(2)}, PointsCost: intp(95)},
		&ai.Datasheet{ObjectiveControl: intp(3), Points: intp(100)},
	)
	if len(issues) != 2 {
		t.Fatalf("expected two warnings, got %+v", issues)
	}
	for _, is := range issues {
		if is.Severity != SeverityWarning {
			t.Fatalf("%s should be a warning, got %s", is.Field, is.Severity)
		}
	}
}

func TestAbsenceIsNeverAnIssue(t *testing.T) {
	// One side missing a field says nothing about correctness.
	issues := Compare(
		&preparse.PreParsedRecord{Stats: preparse.Stats{Toughness: intp(4)}},
		&ai.Datasheet{Wounds: intp(3)},
	)
	if len(issues) != 0 {
		t.Fatalf("absent fields should not produce issues, got %+v", issues)
	}
	if Compare(nil, &ai.Datasheet{}) != nil || Compare(&preparse.PreParsedRecord{}, nil) != nil {
		t.Fatal("nil side should yield no issues")
	}
}

func TestAgreementProducesNoIssues(t *testing.T) {
	issues := Compare(
		&preparse.PreParsedRecord{Stats: preparse.Stats{Toughness: intp(4), Wounds: intp(3)}, PointsCost: intp(95)},
		&ai.Datasheet{Toughness: intp(4), Wounds: intp(3), Points: intp(95)},
	)
	if len(issues) != 0 {
		t.Fatalf("expected clean comparison, got %+v", issues)
	}
}

func TestWeaponCountTolerance(t *testing.T) {
	mkWeapons := func(n int) []preparse.WeaponRow {
		rows := make([]preparse.WeaponRow, n)
		for i := range rows {
			rows[i].Name = "weapon"
		}
		return rows
	}
	semWeapons := []ai.Weapon{{Name: "weapon"}, {Name: "weapon"}}

	within := Compare(&preparse.PreParsedRecord{Weapons: mkWeapons(4)}, &ai.Datasheet{Weapons: semWeapons})
	if len(within) != 0 {
		t.Fatalf("diff of 2 is within tolerance, got %+v", within)
	}

	beyond := Compare(&preparse.PreParsedRecord{Weapons: mkWeapons(5)}, &ai.Datasheet{Weapons: semWeapons})
	if len(beyond) != 1 || beyond[0].Field != "weapon_count" || beyond[0].Severity != SeverityWarning {
		t.Fatalf("diff of 3 should warn, got %+v", beyond)
	}
}
