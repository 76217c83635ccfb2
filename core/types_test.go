package core

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestAddSafe(t *testing.T) {
	if v, err := AddSafe(10, 5); err != nil || v != 15 {
		t.Fatalf("got %v %v", v, err)
	}
	if _, err := AddSafe(math.MaxInt64, 1); err == nil {
		t.Fatalf("expected overflow")
	}
}

func TestNormalizeUserID(t *testing.T) {
	id, err := NormalizeUserID(" Alice ")
	if err != nil || id != "alice" {
		t.Fatalf("got %v %v", id, err)
	}
	if _, err := NormalizeUserID("   "); err == nil {
		t.Fatalf("expected empty error")
	}
}

func TestLevelForXP(t *testing.T) {
	if LevelForXP(0) != 1 {
		t.Fatal("min level should be 1")
	}
	if LevelForXP(-50) != 1 {
		t.Fatal("negative xp should clamp to level 1")
	}
	if got := LevelForXP(10_000); got != 11 {
		t.Fatalf("want 11 got %d", got)
	}
}

func TestValidateCode(t *testing.T) {
	if err := ValidateCode("streak_day_7"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := ValidateCode("bad code"); err == nil {
		t.Fatalf("expected invalid code err")
	}
	if err := ValidateCode(""); err == nil {
		t.Fatalf("expected empty code err")
	}
}

func TestDedupeByCode(t *testing.T) {
	in := []UnlockResult{{Code: "a", Name: "first"}, {Code: "b"}, {Code: "a", Name: "second"}}
	out := DedupeByCode(in)
	if len(out) != 2 || out[0].Name != "first" || out[1].Code != "b" {
		t.Fatalf("unexpected %+v", out)
	}
}

func TestDateOf(t *testing.T) {
	loc := time.FixedZone("x", 5*3600)
	got := DateOf(time.Date(2026, 2, 7, 23, 30, 0, 0, loc))
	if !got.Equal(NewDate(2026, 2, 7)) {
		t.Fatalf("got %v", got)
	}
	if _, err := ParseDate("2026-02-30"); err == nil {
		t.Fatal("expected invalid date")
	}
}

func TestEvaluationErrorUnwrap(t *testing.T) {
	cause := errors.New("query failed")
	err := error(&EvaluationError{Code: "r1", Err: cause})
	if !errors.Is(err, cause) {
		t.Fatal("expected unwrap to cause")
	}
	var ee *EvaluationError
	if !errors.As(err, &ee) || ee.Code != "r1" {
		t.Fatal("expected EvaluationError")
	}
}

func TestEventVariants(t *testing.T) {
	var events = []Event{
		NewActivityRecorded("u", 1, "Running", time.Now()),
		NewRankChanged("u", "Iron"),
	}
	for _, ev := range events {
		switch e := ev.(type) {
		case ActivityRecorded:
			if e.Type() != EventActivityRecorded || e.User() != "u" {
				t.Fatalf("bad activity event %+v", e)
			}
		case RankChanged:
			if e.Type() != EventRankChanged || e.NewRank != "Iron" {
				t.Fatalf("bad rank event %+v", e)
			}
		default:
			t.Fatalf("unexpected event %T", ev)
		}
	}
}
