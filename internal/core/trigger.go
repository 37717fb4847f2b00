package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ErrInvalidTrigger is returned for malformed trigger specs.
var ErrInvalidTrigger = errors.New("invalid trigger")

// TriggerKind identifies the rule family of a trigger.
type TriggerKind string

const (
	TriggerDaily    TriggerKind = "daily"
	TriggerWeekly   TriggerKind = "weekly"
	TriggerInterval TriggerKind = "every"
	TriggerCron     TriggerKind = "cron"
)

// TimeOfDay is a wall-clock time with minute precision.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" in 24-hour format.
func ParseTimeOfDay(value string) (TimeOfDay, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok {
		return TimeOfDay{}, fmt.Errorf("%w: time %q must be HH:MM", ErrInvalidTrigger, value)
	}
	hour, err := strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return TimeOfDay{}, fmt.Errorf("%w: hour out of range in %q", ErrInvalidTrigger, value)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return TimeOfDay{}, fmt.Errorf("%w: minute out of range in %q", ErrInvalidTrigger, value)
	}
	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Trigger decides when a task becomes due. The zero value is not usable;
// build one with Daily, Weekly, Interval, Cron or ParseTrigger.
type Trigger struct {
	Kind    TriggerKind
	At      TimeOfDay
	Weekday time.Weekday
	Every   time.Duration
	Expr    string

	schedule cron.Schedule
}

// Daily fires every day at the given time of day.
func Daily(at TimeOfDay) (Trigger, error) {
	schedule, err := cronParser.Parse(fmt.Sprintf("%d %d * * *", at.Minute, at.Hour))
	if err != nil {
		return Trigger{}, fmt.Errorf("%w: %v", ErrInvalidTrigger, err)
	}
	return Trigger{Kind: TriggerDaily, At: at, schedule: schedule}, nil
}

// Weekly fires once a week on the given weekday and time of day.
func Weekly(day time.Weekday, at TimeOfDay) (Trigger, error) {
	if day < time.Sunday || day > time.Saturday {
		return Trigger{}, fmt.Errorf("%w: weekday %d", ErrInvalidTrigger, day)
	}
	schedule, err := cronParser.Parse(fmt.Sprintf("%d %d * * %d", at.Minute, at.Hour, int(day)))
	if err != nil {
		return Trigger{}, fmt.Errorf("%w: %v", ErrInvalidTrigger, err)
	}
	return Trigger{Kind: TriggerWeekly, At: at, Weekday: day, schedule: schedule}, nil
}

// Interval fires repeatedly, every d after the previous firing. d is rounded to whole seconds.
func Interval(d time.Duration) (Trigger, error) {
	if d < time.Second {
		return Trigger{}, fmt.Errorf("%w: interval %s is shorter than one second", ErrInvalidTrigger, d)
	}
	every := cron.Every(d)
	return Trigger{Kind: TriggerInterval, Every: every.Delay, schedule: every}, nil
}

// Cron fires according to a standard 5-field cron expression.
func Cron(expr string) (Trigger, error) {
	schedule, err := ParseCron(expr)
	if err != nil {
		return Trigger{}, err
	}
	return Trigger{Kind: TriggerCron, Expr: strings.TrimSpace(expr), schedule: schedule}, nil
}

// ParseCron ensures the expression is a valid 5-field cron definition and returns the underlying schedule.
func ParseCron(expr string) (cron.Schedule, error) {
	if strings.HasPrefix(strings.TrimSpace(expr), "@") {
		return nil, fmt.Errorf("%w: only 5-field cron expressions are supported", ErrInvalidTrigger)
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid cron expression: %v", ErrInvalidTrigger, err)
	}
	return schedule, nil
}

// ParseTrigger parses the textual trigger form used by configuration and the APIs:
//
//	daily@05:00
//	weekly@friday@22:30
//	every@30m
//	cron@0 5 * * 1-5
func ParseTrigger(spec string) (Trigger, error) {
	kind, rest, ok := strings.Cut(strings.TrimSpace(spec), "@")
	if !ok || rest == "" {
		return Trigger{}, fmt.Errorf("%w: %q must look like kind@value", ErrInvalidTrigger, spec)
	}
	switch TriggerKind(strings.ToLower(kind)) {
	case TriggerDaily:
		at, err := ParseTimeOfDay(rest)
		if err != nil {
			return Trigger{}, err
		}
		return Daily(at)
	case TriggerWeekly:
		dayPart, timePart, ok := strings.Cut(rest, "@")
		if !ok {
			return Trigger{}, fmt.Errorf("%w: %q must look like weekly@<day>@HH:MM", ErrInvalidTrigger, spec)
		}
		day, err := ParseWeekday(dayPart)
		if err != nil {
			return Trigger{}, err
		}
		at, err := ParseTimeOfDay(timePart)
		if err != nil {
			return Trigger{}, err
		}
		return Weekly(day, at)
	case TriggerInterval:
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil {
			return Trigger{}, fmt.Errorf("%w: %v", ErrInvalidTrigger, err)
		}
		return Interval(d)
	case TriggerCron:
		return Cron(rest)
	default:
		return Trigger{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidTrigger, kind)
	}
}

// ParseWeekday accepts full English weekday names or their three-letter abbreviations.
func ParseWeekday(value string) (time.Weekday, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if v == name || v == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown weekday %q", ErrInvalidTrigger, value)
}

// Next returns the first activation strictly after t, evaluated in t's location.
func (t Trigger) Next(after time.Time) time.Time {
	if t.schedule == nil {
		return time.Time{}
	}
	return t.schedule.Next(after)
}

// Spec returns the textual form accepted by ParseTrigger.
func (t Trigger) Spec() string {
	switch t.Kind {
	case TriggerDaily:
		return fmt.Sprintf("daily@%s", t.At)
	case TriggerWeekly:
		return fmt.Sprintf("weekly@%s@%s", strings.ToLower(t.Weekday.String()), t.At)
	case TriggerInterval:
		return fmt.Sprintf("every@%s", t.Every)
	case TriggerCron:
		return fmt.Sprintf("cron@%s", t.Expr)
	default:
		return ""
	}
}

// String describes the trigger for humans.
func (t Trigger) String() string {
	switch t.Kind {
	case TriggerDaily:
		return fmt.Sprintf("every day at %s", t.At)
	case TriggerWeekly:
		return fmt.Sprintf("every %s at %s", t.Weekday, t.At)
	case TriggerInterval:
		return fmt.Sprintf("every %s", t.Every)
	case TriggerCron:
		return fmt.Sprintf("cron %q", t.Expr)
	default:
		return "invalid trigger"
	}
}

// NextOccurrences returns the next n execution times from a base time.
func NextOccurrences(trigger Trigger, base time.Time, n int) []time.Time {
	times := make([]time.Time, 0, n)
	next := base
	for i := 0; i < n; i++ {
		next = trigger.Next(next)
		if next.IsZero() {
			break
		}
		times = append(times, next)
	}
	return times
}
