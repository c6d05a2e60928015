package scheduler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ibeckermayer/notedraft/internal/failure"
	"github.com/ibeckermayer/notedraft/internal/types"
)

// Spec is a request to create a schedule.
type Spec struct {
	AccountID string
	Cadence   types.Cadence
	// DayOfWeek is required for weekly schedules and must be nil for daily ones.
	DayOfWeek *types.Weekday
	// FireTime is "HH:MM" in the engine's location.
	FireTime string
	Job      types.JobSpec
}

// ParseClock parses "HH:MM" with 0 <= HH <= 23 and 0 <= MM <= 59.
func ParseClock(s string) (types.ClockTime, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) == 0 || len(hh) > 2 || len(mm) != 2 || !allDigits(hh) || !allDigits(mm) {
		return types.ClockTime{}, failure.Newf(failure.KindScheduleValidation, "time %q is not HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return types.ClockTime{}, failure.Newf(failure.KindScheduleValidation, "hour in %q must be 00-23", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return types.ClockTime{}, failure.Newf(failure.KindScheduleValidation, "minute in %q must be 00-59", s)
	}
	return types.ClockTime{Hour: h, Minute: m}, nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Validate checks spec and returns the parsed fire time. Every violation is a
// ScheduleValidationError.
func Validate(spec Spec) (types.ClockTime, error) {
	invalid := func(format string, args ...any) (types.ClockTime, error) {
		return types.ClockTime{}, failure.Newf(failure.KindScheduleValidation, format, args...)
	}

	if strings.TrimSpace(spec.AccountID) == "" {
		return invalid("account id is required")
	}
	ct, err := ParseClock(spec.FireTime)
	if err != nil {
		return types.ClockTime{}, err
	}

	switch spec.Cadence {
	case types.Daily:
		if spec.DayOfWeek != nil {
			return invalid("daily schedule must not set a day of week")
		}
	case types.Weekly:
		if spec.DayOfWeek == nil {
			return invalid("weekly schedule needs a day of week")
		}
		if d := *spec.DayOfWeek; d < 0 || d > 6 {
			return invalid("day of week %d out of range 0-6 (Monday=0)", int(d))
		}
	default:
		return invalid("unknown cadence %q", spec.Cadence)
	}

	if err := validateJob(spec.Job); err != nil {
		return types.ClockTime{}, err
	}
	return ct, nil
}

func validateJob(j types.JobSpec) error {
	switch j.Kind {
	case types.RepostExisting:
		if j.ArticleID <= 0 {
			return failure.Newf(failure.KindScheduleValidation, "repost job needs an article id")
		}
	case types.GenerateThenPost:
	default:
		return failure.Newf(failure.KindScheduleValidation, "unknown job kind %q", j.Kind)
	}
	return nil
}

// validateStored re-checks a persisted schedule before it is seeded.
func validateStored(s types.Schedule) error {
	if s.ID == "" {
		return fmt.Errorf("schedule without id")
	}
	_, err := Validate(Spec{
		AccountID: s.AccountID,
		Cadence:   s.Cadence,
		DayOfWeek: s.DayOfWeek,
		FireTime:  s.FireTime.String(),
		Job:       s.Job,
	})
	return err
}
