package types

import (
	"fmt"
	"time"
)

// Cadence is how often a schedule repeats.
type Cadence string

const (
	Daily  Cadence = "daily"
	Weekly Cadence = "weekly"
)

// Status controls whether the engine considers a schedule.
type Status string

const (
	Active Status = "active"
	Paused Status = "paused"
)

// JobKind selects the JobSpec variant.
type JobKind string

const (
	RepostExisting   JobKind = "repost"
	GenerateThenPost JobKind = "generate"
)

// Weekday uses Monday = 0 through Sunday = 6.
type Weekday int

// WeekdayOf converts a time.Weekday (Sunday = 0) to Monday-based numbering.
func WeekdayOf(d time.Weekday) Weekday {
	return Weekday((int(d) + 6) % 7)
}

// CronDay converts back to cron's Sunday = 0 numbering.
func (w Weekday) CronDay() int {
	return (int(w) + 1) % 7
}

var weekdayNames = [...]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

func (w Weekday) String() string {
	if w < 0 || int(w) >= len(weekdayNames) {
		return fmt.Sprintf("Weekday(%d)", int(w))
	}
	return weekdayNames[w]
}

// ClockTime is a wall-clock hour and minute.
type ClockTime struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// JobSpec is the work a schedule fires. Exactly one variant is populated
// according to Kind. Immutable once the schedule exists.
type JobSpec struct {
	Kind JobKind `json:"kind"`

	// RepostExisting
	ArticleID int64 `json:"article_id,omitempty"`

	// GenerateThenPost
	Topic           string `json:"topic,omitempty"`
	TrendKeyword    string `json:"trend_keyword,omitempty"`
	Tone            string `json:"tone,omitempty"`
	Length          string `json:"length,omitempty"`
	OtherConditions string `json:"other_conditions,omitempty"`
	CustomPrompt    string `json:"custom_prompt,omitempty"`
	Provider        string `json:"provider,omitempty"`
}

// Schedule is a persistent recurring trigger bound to a job.
type Schedule struct {
	ID          string     `json:"id"`
	AccountID   string     `json:"account_id"`
	Cadence     Cadence    `json:"cadence"`
	DayOfWeek   *Weekday   `json:"day_of_week,omitempty"` // set iff Cadence == Weekly
	FireTime    ClockTime  `json:"fire_time"`
	Job         JobSpec    `json:"job"`
	Status      Status     `json:"status"`
	LastFiredAt *time.Time `json:"last_fired_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Credential is borrowed read-only per execution; never persisted by the core.
type Credential struct {
	AccountID   string
	LoginID     string
	LoginSecret string
}

// PromptDefaults fill blanks in a GenerateThenPost spec.
type PromptDefaults struct {
	Tone            string `json:"tone"`
	Length          string `json:"length"`
	OtherConditions string `json:"other_conditions"`
}

// Settings are the per-account settings held in the record store.
type Settings struct {
	AccountID   string         `json:"account_id"`
	LoginID     string         `json:"login_id"`
	LoginSecret string         `json:"-"`
	Provider    string         `json:"provider"`
	Prompt      PromptDefaults `json:"prompt"`
}

// Article is a generated or manually written post body.
type Article struct {
	ID           int64      `json:"id"`
	AccountID    string     `json:"account_id"`
	Title        string     `json:"title"`
	Body         string     `json:"body"`
	Topic        string     `json:"topic"`
	TrendKeyword string     `json:"trend_keyword,omitempty"`
	Posted       bool       `json:"posted"`
	PostedAt     *time.Time `json:"posted_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// ActionResult reports how one UI action or attempt resolved.
type ActionResult struct {
	Succeeded            bool          `json:"succeeded"`
	MatchedStrategyIndex int           `json:"matched_strategy_index"`
	Elapsed              time.Duration `json:"elapsed"`
	Artifact             string        `json:"artifact,omitempty"`
}

// DraftResult is what a successful draft save leaves behind.
type DraftResult struct {
	URL     string `json:"url"`
	DraftID string `json:"draft_id,omitempty"`
}

// PostOutcome is the terminal record of one job execution.
type PostOutcome struct {
	ID           int64     `json:"id,omitempty"`
	ScheduleID   string    `json:"schedule_id"`
	AccountID    string    `json:"account_id"`
	FiredAt      time.Time `json:"fired_at"`
	Success      bool      `json:"success"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ResultURL    string    `json:"result_url,omitempty"`
	ArticleID    int64     `json:"article_id,omitempty"`
}

// Trend is one trending keyword. Weight is the tweet count when known.
type Trend struct {
	Keyword string `json:"keyword"`
	Weight  *int   `json:"weight,omitempty"`
}
