package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	serviceports "github.com/kevin07696/settlement-service/internal/services/ports"
	"github.com/kevin07696/settlement-service/test/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWeekday(t *testing.T) {
	for _, in := range []string{"Sunday", "sunday", "SUN", "sun"} {
		day, err := ParseWeekday(in)
		require.NoError(t, err, in)
		assert.Equal(t, time.Sunday, day)
	}

	day, err := ParseWeekday("wed")
	require.NoError(t, err)
	assert.Equal(t, time.Wednesday, day)

	_, err = ParseWeekday("someday")
	assert.Error(t, err)
}

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule("Sunday", "23:30", "UTC")
	require.NoError(t, err)
	assert.Equal(t, time.Sunday, s.Weekday)
	assert.Equal(t, 23, s.Hour)
	assert.Equal(t, 30, s.Minute)
	assert.Equal(t, time.UTC, s.Location)

	_, err = ParseSchedule("Sunday", "25:00", "UTC")
	assert.Error(t, err)

	_, err = ParseSchedule("Sunday", "23:30", "Not/AZone")
	assert.Error(t, err)

	_, err = ParseSchedule("Funday", "23:30", "UTC")
	assert.Error(t, err)
}

func TestSchedule_Next(t *testing.T) {
	s := Schedule{Location: colombo, Weekday: time.Sunday, Hour: 23, Minute: 30}
	fire := time.Date(2024, 1, 7, 23, 30, 0, 0, colombo)

	tests := []struct {
		name  string
		after time.Time
		want  time.Time
	}{
		{name: "earlier the same day", after: time.Date(2024, 1, 7, 20, 0, 0, 0, colombo), want: fire},
		{name: "exactly at fire time", after: fire, want: fire.AddDate(0, 0, 7)},
		{name: "just after fire time", after: fire.Add(time.Second), want: fire.AddDate(0, 0, 7)},
		{name: "midweek", after: time.Date(2024, 1, 3, 9, 0, 0, 0, colombo), want: fire},
		{name: "utc input", after: time.Date(2024, 1, 7, 17, 0, 0, 0, time.UTC), want: fire},
		{name: "utc input past local fire", after: time.Date(2024, 1, 7, 18, 30, 0, 0, time.UTC), want: fire.AddDate(0, 0, 7)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Next(tt.after)
			assert.True(t, tt.want.Equal(got), "want %s got %s", tt.want, got)
		})
	}
}

type recordingProcessor struct {
	calls chan serviceports.ProcessWeekRequest
	err   error
}

func (r *recordingProcessor) ProcessWeek(_ context.Context, req serviceports.ProcessWeekRequest) (*serviceports.BatchResult, error) {
	r.calls <- req
	if r.err != nil {
		return nil, r.err
	}
	return &serviceports.BatchResult{WeekEnding: week1}, nil
}

func TestScheduler_Start(t *testing.T) {
	processor := &recordingProcessor{calls: make(chan serviceports.ProcessWeekRequest, 4)}
	schedule := Schedule{Location: colombo, Weekday: time.Sunday, Hour: 23, Minute: 30}
	s := NewScheduler(processor, schedule, true, mocks.NewMockLogger())

	now := time.Date(2024, 1, 7, 23, 0, 0, 0, colombo)
	s.now = func() time.Time { return now }

	waits := make(chan time.Duration, 4)
	fire := make(chan time.Time)
	s.after = func(d time.Duration) <-chan time.Time {
		waits <- d
		return fire
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	assert.Equal(t, 30*time.Minute, <-waits)
	fire <- now

	req := <-processor.calls
	assert.Nil(t, req.WeekEnding)
	assert.True(t, req.CatchUp)
	assert.Equal(t, "scheduler", req.Trigger)

	// waiting for the following run
	<-waits
	cancel()
	<-done
}

func TestScheduler_RunFailureKeepsLooping(t *testing.T) {
	processor := &recordingProcessor{
		calls: make(chan serviceports.ProcessWeekRequest, 4),
		err:   errors.New("list failed"),
	}
	logger := mocks.NewMockLogger()
	s := NewScheduler(processor, Schedule{Location: time.UTC, Weekday: time.Sunday}, false, logger)

	fire := make(chan time.Time)
	waits := make(chan struct{}, 4)
	s.after = func(time.Duration) <-chan time.Time {
		waits <- struct{}{}
		return fire
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	<-waits
	fire <- time.Now()
	<-processor.calls
	<-waits
	cancel()
	<-done

	assert.True(t, logger.HasError("scheduled settlement run failed"))
}
