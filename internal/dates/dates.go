// Package dates is the time model: date-string parsing, leap-year policy,
// star signs, and the "is today their birthday" checks for both scheduler
// modes.
package dates

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"cakeday/internal/domain"
)

var (
	slashDatePattern = regexp.MustCompile(`^\s*([0-3]?\d)/([01]?\d)(?:/(\d{4}))?\s*$`)
	euroDatePattern  = regexp.MustCompile(`^\s*([0-3]?\d)[.-]([01]?\d)(?:[.-](\d{4}))?\s*$`)
)

// NLPResult is the typed object the LLM fallback returns.
type NLPResult struct {
	Day       int      `json:"day"`
	Month     int      `json:"month"`
	Year      *int     `json:"year"`
	Ambiguous bool     `json:"ambiguous"`
	Options   []string `json:"options,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// DateNLP is the optional language-model date extractor.
type DateNLP interface {
	ExtractDate(ctx context.Context, text string) (NLPResult, error)
}

// Parsed is the outcome of date extraction.
type Parsed struct {
	Day   int
	Month int
	Year  *int
}

// Parse extracts a day/month(/year) from text using the regex strategies
// only. Ordered: DD/MM[/YYYY], then European DD-MM[-YYYY] (also dots).
func Parse(text string, now time.Time) (Parsed, error) {
	for _, pattern := range []*regexp.Regexp{slashDatePattern, euroDatePattern} {
		m := pattern.FindStringSubmatch(text)
		if len(m) == 0 {
			continue
		}
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		var year *int
		if strings.TrimSpace(m[3]) != "" {
			y, _ := strconv.Atoi(m[3])
			year = &y
		}
		if err := Validate(day, month, year, now); err != nil {
			return Parsed{}, err
		}
		return Parsed{Day: day, Month: month, Year: year}, nil
	}
	return Parsed{}, domain.E(domain.KindInputInvalid, "unrecognized date format")
}

// ParseWithNLP runs the regex strategies and, when they fail and an
// extractor is configured, one LLM call.
func ParseWithNLP(ctx context.Context, text string, nlp DateNLP, now time.Time) (Parsed, error) {
	parsed, err := Parse(text, now)
	if err == nil {
		return parsed, nil
	}
	if domain.KindOf(err) == domain.KindInputInvalid && nlp == nil {
		return Parsed{}, err
	}
	if nlp == nil {
		return Parsed{}, err
	}

	result, nlpErr := nlp.ExtractDate(ctx, text)
	if nlpErr != nil {
		return Parsed{}, domain.Wrap(domain.KindUpstreamTransient, "nlp date extraction", nlpErr)
	}
	if result.Error != "" {
		return Parsed{}, domain.E(domain.KindInputInvalid, result.Error)
	}
	if result.Ambiguous {
		return Parsed{}, domain.E(domain.KindInputInvalid, "ambiguous date: "+strings.Join(result.Options, " or "))
	}
	if err := Validate(result.Day, result.Month, result.Year, now); err != nil {
		return Parsed{}, domain.E(domain.KindInputInvalid, "Invalid date values")
	}
	return Parsed{Day: result.Day, Month: result.Month, Year: result.Year}, nil
}

// Validate checks ranges and calendar validity. Feb-29 is accepted as a
// birthday date (celebrated per the leap policy).
func Validate(day, month int, year *int, now time.Time) error {
	if day < 1 || day > 31 || month < 1 || month > 12 {
		return domain.E(domain.KindInputInvalid, "Invalid date values")
	}

	// Calendar validity is checked against a leap year so 29/02 passes.
	ref := time.Date(2024, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if int(ref.Month()) != month || ref.Day() != day {
		return domain.E(domain.KindInputInvalid, "Invalid calendar date")
	}

	if year != nil {
		if *year < 1900 || *year > now.Year() {
			return domain.E(domain.KindInputInvalid, "Year must be between 1900 and the current year")
		}
	}
	return nil
}

// Format renders DD/MM or DD/MM/YYYY. The no-year form drops the leading
// zero on the day to round-trip short inputs like "25/12".
func Format(p Parsed) string {
	if p.Year != nil {
		return fmt.Sprintf("%02d/%02d/%d", p.Day, p.Month, *p.Year)
	}
	return fmt.Sprintf("%d/%d", p.Day, p.Month)
}

// IsLeapYear follows the Gregorian rule.
func IsLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// CelebrationDayMatches reports whether the record's birthday should be
// celebrated on the given local date. Feb-29 birthdays fire on Feb-28 in
// non-leap years and never on Mar-1.
func CelebrationDayMatches(rec domain.BirthdayRecord, localDate time.Time) bool {
	day, month := localDate.Day(), int(localDate.Month())
	if rec.Day == day && rec.Month == month {
		return true
	}
	if rec.Day == 29 && rec.Month == 2 && !IsLeapYear(localDate.Year()) {
		return day == 28 && month == 2
	}
	return false
}

// DueToday is the fleet-wide daily check against server-local time.
func DueToday(rec domain.BirthdayRecord, now time.Time) bool {
	return CelebrationDayMatches(rec, now)
}

// DueInTimezone is the timezone-aware check: the user's local time has
// reached the celebration hour on a matching date. The returned local date
// forms the ledger idempotency key together with the user ID.
func DueInTimezone(rec domain.BirthdayRecord, tzOffsetSecs int, now time.Time, celebrationHour int) (bool, string) {
	local := now.UTC().Add(time.Duration(tzOffsetSecs) * time.Second)
	localDate := local.Format("2006-01-02")
	if local.Hour() < celebrationHour {
		return false, localDate
	}
	return CelebrationDayMatches(rec, local), localDate
}

// Age computes the age the person turns on this birthday, nil without a
// birth year.
func Age(rec domain.BirthdayRecord, now time.Time) *int {
	if rec.Year == nil {
		return nil
	}
	age := now.Year() - *rec.Year
	if age < 0 {
		return nil
	}
	return &age
}

type signRange struct {
	name       string
	month, day int // range start
}

// Ranges are ordered by start date within the year.
var signRanges = []signRange{
	{"Capricorn", 1, 1},
	{"Aquarius", 1, 20},
	{"Pisces", 2, 19},
	{"Aries", 3, 21},
	{"Taurus", 4, 20},
	{"Gemini", 5, 21},
	{"Cancer", 6, 21},
	{"Leo", 7, 23},
	{"Virgo", 8, 23},
	{"Libra", 9, 23},
	{"Scorpio", 10, 23},
	{"Sagittarius", 11, 22},
	{"Capricorn", 12, 22},
}

// StarSign derives the zodiac sign for a month/day.
func StarSign(day, month int) string {
	sign := signRanges[0].name
	for _, r := range signRanges {
		if month > r.month || (month == r.month && day >= r.day) {
			sign = r.name
		}
	}
	return sign
}

// InWords renders "March 15th" style dates for message copy.
func InWords(day, month int) string {
	return fmt.Sprintf("%s %d%s", time.Month(month).String(), day, ordinalSuffix(day))
}

func ordinalSuffix(day int) string {
	if day >= 11 && day <= 13 {
		return "th"
	}
	switch day % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	default:
		return "th"
	}
}
