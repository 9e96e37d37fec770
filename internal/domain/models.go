package domain

import (
	"fmt"
	"time"
)

// CelebrationStyle controls how loud a birthday announcement is.
type CelebrationStyle string

const (
	StyleQuiet    CelebrationStyle = "quiet"
	StyleStandard CelebrationStyle = "standard"
	StyleEpic     CelebrationStyle = "epic"
)

type Preferences struct {
	Active           bool             `json:"active"`
	ImageEnabled     bool             `json:"image_enabled"`
	ShowAge          bool             `json:"show_age"`
	CelebrationStyle CelebrationStyle `json:"celebration_style"`
}

func DefaultPreferences() Preferences {
	return Preferences{
		Active:           true,
		ImageEnabled:     true,
		ShowAge:          true,
		CelebrationStyle: StyleStandard,
	}
}

// BirthdayRecord is the one piece of personal data the bot keeps.
// Year is optional; when absent the record displays without an age.
type BirthdayRecord struct {
	UserID      string      `json:"-"`
	Day         int         `json:"day"`
	Month       int         `json:"month"`
	Year        *int        `json:"year,omitempty"`
	Preferences Preferences `json:"preferences"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// DateString renders the record in DD/MM or DD/MM/YYYY form.
func (r BirthdayRecord) DateString() string {
	if r.Year != nil {
		return fmt.Sprintf("%02d/%02d/%d", r.Day, r.Month, *r.Year)
	}
	return fmt.Sprintf("%02d/%02d", r.Day, r.Month)
}

// UserProfile is a cached view over the platform's user record. It is never
// authoritative; the resolver refreshes it on TTL expiry.
type UserProfile struct {
	UserID       string            `json:"user_id"`
	DisplayName  string            `json:"display_name"`
	RealName     string            `json:"real_name"`
	Title        string            `json:"title"`
	Timezone     string            `json:"timezone"`
	TZOffsetSecs int               `json:"timezone_offset_seconds"`
	PhotoURLs    map[string]string `json:"photo_urls"`
	IsDeleted    bool              `json:"is_deleted"`
	IsBot        bool              `json:"is_bot"`
	IsAdmin      bool              `json:"is_admin"`
	CustomFields map[string]string `json:"custom_fields"`
	FetchedAt    time.Time         `json:"fetched_at"`
}

// PreferredName picks the name a message should address the user by.
func (p UserProfile) PreferredName() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	if p.RealName != "" {
		return p.RealName
	}
	return p.UserID
}

// BestPhotoURL returns the largest available profile photo, or "".
func (p UserProfile) BestPhotoURL() string {
	for _, key := range []string{"image_512", "image_192", "image_72"} {
		if url := p.PhotoURLs[key]; url != "" {
			return url
		}
	}
	return ""
}

// ObservanceSourceName identifies where a special day came from.
type ObservanceSourceName string

const (
	SourceUN           ObservanceSourceName = "UN"
	SourceUNESCO       ObservanceSourceName = "UNESCO"
	SourceWHO          ObservanceSourceName = "WHO"
	SourceCalendarific ObservanceSourceName = "Calendarific"
	SourceCustom       ObservanceSourceName = "Custom"
)

// SourcePriority orders sources for deduplication; lower wins.
func SourcePriority(s ObservanceSourceName) int {
	switch s {
	case SourceUN:
		return 0
	case SourceUNESCO:
		return 1
	case SourceWHO:
		return 2
	case SourceCalendarific:
		return 3
	default:
		return 4
	}
}

type ObservanceCategory string

const (
	CategoryGlobalHealth ObservanceCategory = "Global Health"
	CategoryTech         ObservanceCategory = "Tech"
	CategoryCulture      ObservanceCategory = "Culture"
	CategoryCompany      ObservanceCategory = "Company"
)

// SpecialDay is one externally-sourced observance on a month/day.
type SpecialDay struct {
	Day         int                  `json:"day"`
	Month       int                  `json:"month"`
	Name        string               `json:"name"`
	Category    ObservanceCategory   `json:"category"`
	Description string               `json:"description,omitempty"`
	Source      ObservanceSourceName `json:"source"`
	URL         string               `json:"url,omitempty"`
	Emoji       string               `json:"emoji,omitempty"`
	Enabled     bool                 `json:"enabled"`
}

// MMDD renders the month-day key used by ledger entries and cache lookups.
func (d SpecialDay) MMDD() string {
	return fmt.Sprintf("%02d-%02d", d.Month, d.Day)
}

type ThreadType string

const (
	ThreadBirthday   ThreadType = "birthday"
	ThreadSpecialDay ThreadType = "special_day"
)

// TrackedThread is one announced message the bot keeps engaging with until
// it expires.
type TrackedThread struct {
	ChannelID      string       `json:"channel_id"`
	ThreadTS       string       `json:"thread_ts"`
	Type           ThreadType   `json:"thread_type"`
	Personality    string       `json:"personality"`
	CreatedAt      time.Time    `json:"created_at"`
	ReactionsCount int          `json:"reactions_count"`
	ResponsesSent  int          `json:"responses_sent"`
	BirthdayPeople []string     `json:"birthday_people,omitempty"`
	SpecialDays    []SpecialDay `json:"special_day_info,omitempty"`
}

// Key is the tracker map key for a thread.
func (t TrackedThread) Key() string {
	return t.ChannelID + ":" + t.ThreadTS
}

// BirthdayPerson bundles a record with its resolved profile for one
// pipeline run.
type BirthdayPerson struct {
	Record      BirthdayRecord
	Profile     UserProfile
	Age         *int
	StarSign    string
	DateInWords string
}

// Mention renders the Slack mention token for the person.
func (p BirthdayPerson) Mention() string {
	return "<@" + p.Record.UserID + ">"
}

type CelebrationMode string

const (
	ModeProduction CelebrationMode = "production"
	ModeTest       CelebrationMode = "test"
)

// CelebrationRequest is the transient input to one pipeline run.
type CelebrationRequest struct {
	RunID               string
	ChannelID           string
	People              []BirthdayPerson
	Mode                CelebrationMode
	PersonalityOverride string
	IncludeImage        bool
	TextOnly            bool
	ImageQuality        string
	ImageSize           string
}

// SchedulerStats is the scheduler's persisted run record.
type SchedulerStats struct {
	StartedAt        time.Time `json:"started_at"`
	LastHeartbeat    time.Time `json:"last_heartbeat"`
	TotalExecutions  int       `json:"total_executions"`
	FailedExecutions int       `json:"failed_executions"`
	LastSuccessAt    time.Time `json:"last_success_at,omitempty"`
	LastError        string    `json:"last_error,omitempty"`
}

// CanvasState tracks the live dashboard document and its backup thread.
type CanvasState struct {
	CanvasID        string    `json:"canvas_id,omitempty"`
	CanvasUpdatedAt time.Time `json:"canvas_updated_at,omitempty"`
	BackupThreadTS  string    `json:"backup_thread_ts,omitempty"`
	BackupCacheKey  string    `json:"backup_cache_key,omitempty"`
	BackupPermalink string    `json:"backup_permalink,omitempty"`
}

// PersonalityState persists the selected personality and the recent-pick
// exclusion window for random mode.
type PersonalityState struct {
	Current             string            `json:"current_personality"`
	CustomSettings      map[string]string `json:"custom_settings,omitempty"`
	RecentPersonalities []string          `json:"recent_personalities"`
}

// SpecialDaysConfig controls observance visibility and digest cadence.
type SpecialDaysConfig struct {
	CategoryEnabled map[ObservanceCategory]bool `json:"category_enabled"`
	Mode            string                      `json:"mode"` // daily | weekly
	WeeklyDay       time.Weekday                `json:"weekly_day"`
}

func DefaultSpecialDaysConfig() SpecialDaysConfig {
	return SpecialDaysConfig{
		CategoryEnabled: map[ObservanceCategory]bool{
			CategoryGlobalHealth: true,
			CategoryTech:         true,
			CategoryCulture:      true,
			CategoryCompany:      true,
		},
		Mode:      "daily",
		WeeklyDay: time.Monday,
	}
}
