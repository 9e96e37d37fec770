package dates

import (
	"context"
	"testing"
	"time"

	"cakeday/internal/domain"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func TestParseDayMonth(t *testing.T) {
	p, err := Parse("25/12", testNow)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Day != 25 || p.Month != 12 || p.Year != nil {
		t.Fatalf("unexpected parse result: %#v", p)
	}
	if got := Format(p); got != "25/12" {
		t.Fatalf("format round trip: got %q", got)
	}
}

func TestParseDayMonthYear(t *testing.T) {
	p, err := Parse("14/7/1990", testNow)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Day != 14 || p.Month != 7 || p.Year == nil || *p.Year != 1990 {
		t.Fatalf("unexpected parse result: %#v", p)
	}
	if got := Format(p); got != "14/07/1990" {
		t.Fatalf("format round trip: got %q", got)
	}
}

func TestParseEuropeanSeparators(t *testing.T) {
	for _, input := range []string{"14-07-1990", "14.07.1990"} {
		p, err := Parse(input, testNow)
		if err != nil {
			t.Fatalf("parse %q: %v", input, err)
		}
		if p.Day != 14 || p.Month != 7 {
			t.Fatalf("parse %q: %#v", input, p)
		}
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("next tuesday", testNow)
	if !domain.IsKind(err, domain.KindInputInvalid) {
		t.Fatalf("expected input_invalid, got %v", err)
	}
}

func TestValidateYearBounds(t *testing.T) {
	tooOld := 1899
	if err := Validate(1, 1, &tooOld, testNow); !domain.IsKind(err, domain.KindInputInvalid) {
		t.Fatalf("expected rejection for year 1899, got %v", err)
	}
	future := testNow.Year() + 1
	if err := Validate(1, 1, &future, testNow); !domain.IsKind(err, domain.KindInputInvalid) {
		t.Fatalf("expected rejection for future year, got %v", err)
	}
	ok := 1990
	if err := Validate(1, 1, &ok, testNow); err != nil {
		t.Fatalf("expected 1990 to pass: %v", err)
	}
}

func TestValidateAcceptsLeapDay(t *testing.T) {
	if err := Validate(29, 2, nil, testNow); err != nil {
		t.Fatalf("expected 29/02 to be a valid birthday date: %v", err)
	}
	if err := Validate(30, 2, nil, testNow); err == nil {
		t.Fatalf("expected 30/02 to be rejected")
	}
}

type fakeNLP struct {
	result NLPResult
	err    error
	calls  int
}

func (f *fakeNLP) ExtractDate(_ context.Context, _ string) (NLPResult, error) {
	f.calls++
	return f.result, f.err
}

func TestParseWithNLPFallback(t *testing.T) {
	year := 1991
	nlp := &fakeNLP{result: NLPResult{Day: 3, Month: 4, Year: &year}}

	p, err := ParseWithNLP(context.Background(), "the third of april, ninety-one", nlp, testNow)
	if err != nil {
		t.Fatalf("nlp fallback: %v", err)
	}
	if p.Day != 3 || p.Month != 4 || *p.Year != 1991 {
		t.Fatalf("unexpected nlp parse: %#v", p)
	}
	if nlp.calls != 1 {
		t.Fatalf("expected one nlp call, got %d", nlp.calls)
	}
}

func TestParseWithNLPNotCalledForRegexHit(t *testing.T) {
	nlp := &fakeNLP{}
	if _, err := ParseWithNLP(context.Background(), "25/12", nlp, testNow); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if nlp.calls != 0 {
		t.Fatalf("nlp should not run when regex matches")
	}
}

func TestParseWithNLPRejectsInvalidDay(t *testing.T) {
	nlp := &fakeNLP{result: NLPResult{Day: 32, Month: 1}}
	_, err := ParseWithNLP(context.Background(), "the thirty-second", nlp, testNow)
	if !domain.IsKind(err, domain.KindInputInvalid) {
		t.Fatalf("expected invalid date values error, got %v", err)
	}
	if err == nil || err.Error() == "" {
		t.Fatalf("expected error message")
	}
}

func TestCelebrationDayFeb29NonLeap(t *testing.T) {
	rec := domain.BirthdayRecord{Day: 29, Month: 2}

	feb28 := time.Date(2026, 2, 28, 9, 0, 0, 0, time.UTC) // 2026 is not a leap year
	if !CelebrationDayMatches(rec, feb28) {
		t.Fatalf("expected Feb-29 birthday to fire on Feb-28 in a non-leap year")
	}

	mar1 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if CelebrationDayMatches(rec, mar1) {
		t.Fatalf("Feb-29 birthday must not fire on Mar-1")
	}

	feb29 := time.Date(2028, 2, 29, 9, 0, 0, 0, time.UTC)
	if !CelebrationDayMatches(rec, feb29) {
		t.Fatalf("expected Feb-29 birthday to fire on Feb-29 in a leap year")
	}
	feb28Leap := time.Date(2028, 2, 28, 9, 0, 0, 0, time.UTC)
	if CelebrationDayMatches(rec, feb28Leap) {
		t.Fatalf("Feb-29 birthday must not fire on Feb-28 in a leap year")
	}
}

func TestDueInTimezone(t *testing.T) {
	rec := domain.BirthdayRecord{Day: 15, Month: 3}

	// 08:00 UTC, user at UTC+2 -> 10:00 local, past the 09:00 threshold.
	now := time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC)
	due, localDate := DueInTimezone(rec, 2*3600, now, 9)
	if !due {
		t.Fatalf("expected due at 10:00 local")
	}
	if localDate != "2026-03-15" {
		t.Fatalf("unexpected local date %q", localDate)
	}

	// Same instant, user at UTC-5 -> 03:00 local, not yet due.
	due, _ = DueInTimezone(rec, -5*3600, now, 9)
	if due {
		t.Fatalf("expected not due at 03:00 local")
	}
}

func TestStarSign(t *testing.T) {
	cases := []struct {
		day, month int
		want       string
	}{
		{15, 3, "Pisces"},
		{21, 3, "Aries"},
		{1, 1, "Capricorn"},
		{25, 12, "Capricorn"},
		{23, 8, "Virgo"},
		{22, 8, "Leo"},
	}
	for _, c := range cases {
		if got := StarSign(c.day, c.month); got != c.want {
			t.Fatalf("StarSign(%d,%d) = %q, want %q", c.day, c.month, got, c.want)
		}
	}
}

func TestInWords(t *testing.T) {
	cases := map[string]string{
		InWords(15, 3):  "March 15th",
		InWords(1, 1):   "January 1st",
		InWords(2, 5):   "May 2nd",
		InWords(3, 5):   "May 3rd",
		InWords(11, 11): "November 11th",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
}

func TestAge(t *testing.T) {
	year := 1990
	rec := domain.BirthdayRecord{Day: 15, Month: 3, Year: &year}
	age := Age(rec, testNow)
	if age == nil || *age != 36 {
		t.Fatalf("expected age 36, got %v", age)
	}
	if Age(domain.BirthdayRecord{Day: 1, Month: 1}, testNow) != nil {
		t.Fatalf("expected nil age without a birth year")
	}
}
