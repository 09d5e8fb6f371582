package jetstream

import (
	"fmt"
	"time"

	natsgo "github.com/natsgo/client"
)

// Nats-Schedule and Nats-Schedule-Target are the scheduling headers
// introduced in NATS 2.12 for delayed and recurring delivery. No
// teacher source covers delivery scheduling, so this file is built
// directly from the broker's documented header grammar.
const (
	ScheduleHeader       = "Nats-Schedule"
	ScheduleTargetHeader = "Nats-Schedule-Target"
	SchedulerHeader      = "Nats-Scheduler"
)

// Schedule is one Nats-Schedule header value, built by one of the four
// constructors below.
type Schedule struct {
	value string
}

// At schedules a single delivery at t; past instants mean immediate
// delivery ("@at <RFC3339 UTC timestamp>").
func At(t time.Time) Schedule {
	return Schedule{value: "@at " + t.UTC().Format(time.RFC3339)}
}

// Every schedules a repeating interval ("@every <duration>", duration
// grammar "<integer><unit>", unit in s|m|h).
func Every(d time.Duration) Schedule {
	return Schedule{value: "@every " + formatScheduleDuration(d)}
}

// PredefinedInterval names one of the broker's predefined intervals.
type PredefinedInterval string

const (
	Hourly  PredefinedInterval = "hourly"
	Daily   PredefinedInterval = "daily"
	Weekly  PredefinedInterval = "weekly"
	Monthly PredefinedInterval = "monthly"
	Yearly  PredefinedInterval = "yearly"
)

// Predefined schedules one of the named intervals
// ("@hourly|@daily|@weekly|@monthly|@yearly").
func Predefined(kind PredefinedInterval) Schedule {
	return Schedule{value: "@" + string(kind)}
}

// Cron schedules by a 6-field cron expression "sec min hour dom mon dow".
func Cron(spec string) Schedule {
	return Schedule{value: spec}
}

// Header returns the literal Nats-Schedule header value.
func (s Schedule) Header() string { return s.value }

// Apply sets Nats-Schedule (and, if target != "", Nats-Schedule-Target)
// on p.
func (s Schedule) Apply(p *natsgo.Payload, target string) {
	p.SetHeader(ScheduleHeader, s.value)
	if target != "" {
		p.SetHeader(ScheduleTargetHeader, target)
	}
}

// formatScheduleDuration renders d as "<integer><unit>" using the
// largest unit that divides it evenly, falling back to seconds.
func formatScheduleDuration(d time.Duration) string {
	switch {
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", int64(d/time.Hour))
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", int64(d/time.Minute))
	default:
		return fmt.Sprintf("%ds", int64(d/time.Second))
	}
}
