package settlement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kevin07696/settlement-service/internal/domain"
	"github.com/kevin07696/settlement-service/internal/domain/ports"
	serviceports "github.com/kevin07696/settlement-service/internal/services/ports"
	"github.com/kevin07696/settlement-service/pkg/timeutil"
)

// Schedule is a weekly wall-clock trigger, e.g. Sunday 23:30 Asia/Colombo
type Schedule struct {
	Location *time.Location
	Weekday  time.Weekday
	Hour     int
	Minute   int
}

// ParseSchedule builds a Schedule from a weekday name, "HH:MM" and an IANA zone
func ParseSchedule(weekday, at, timezone string) (Schedule, error) {
	day, err := ParseWeekday(weekday)
	if err != nil {
		return Schedule{}, err
	}
	t, err := time.Parse("15:04", at)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid schedule time %q: %w", at, err)
	}
	loc, err := timeutil.LoadLocation(timezone)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid schedule timezone %q: %w", timezone, err)
	}
	return Schedule{Location: loc, Weekday: day, Hour: t.Hour(), Minute: t.Minute()}, nil
}

// ParseWeekday accepts full or three-letter English weekday names
func ParseWeekday(value string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := d.String()
		if strings.EqualFold(value, name) || strings.EqualFold(value, name[:3]) {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("invalid weekday %q", value)
}

// Next returns the first fire time strictly after t
func (s Schedule) Next(after time.Time) time.Time {
	local := after.In(s.Location)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), s.Hour, s.Minute, 0, 0, s.Location)
	offset := (int(s.Weekday) - int(candidate.Weekday()) + 7) % 7
	candidate = candidate.AddDate(0, 0, offset)
	if !candidate.After(after) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate
}

// Scheduler runs the settlement batch on a weekly schedule
type Scheduler struct {
	processor serviceports.SettlementProcessor
	logger    ports.Logger
	now       timeutil.Clock
	after     func(d time.Duration) <-chan time.Time
	schedule  Schedule
	catchUp   bool
}

// NewScheduler constructs a Scheduler.
func NewScheduler(processor serviceports.SettlementProcessor, schedule Schedule, catchUp bool, logger ports.Logger) *Scheduler {
	return &Scheduler{
		processor: processor,
		logger:    logger,
		now:       timeutil.Now,
		after:     time.After,
		schedule:  schedule,
		catchUp:   catchUp,
	}
}

// Start blocks, running the batch at every scheduled time until ctx ends.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.processor == nil {
		return
	}

	for {
		next := s.schedule.Next(s.now())
		s.logger.Info("next settlement run scheduled",
			ports.String("at", next.Format(time.RFC3339)),
		)

		select {
		case <-ctx.Done():
			return
		case <-s.after(next.Sub(s.now())):
		}

		s.runOnce(ctx)
	}
}

// runOnce lets the processor resolve the most recently completed week.
func (s *Scheduler) runOnce(ctx context.Context) {
	result, err := s.processor.ProcessWeek(ctx, serviceports.ProcessWeekRequest{
		CatchUp: s.catchUp,
		Trigger: "scheduler",
	})
	if err != nil {
		s.logger.Error("scheduled settlement run failed", ports.Err(err))
		return
	}
	s.logger.Info("scheduled settlement run finished",
		ports.String("week_ending", domain.FormatWeekEnding(result.WeekEnding)),
		ports.Int("processed", result.Processed),
		ports.Int("successful", result.Successful),
		ports.Int("failed", result.Failed),
	)
}
