package server

import (
	"testing"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/mohammad-safakhou/autoposter/internal/workflow"
)

type fakeStarter struct {
	err      error
	triggers []string
	topics   []string
}

func (f *fakeStarter) TryStart(trigger, topic string) (string, error) {
	f.triggers = append(f.triggers, trigger)
	f.topics = append(f.topics, topic)
	if f.err != nil {
		return "", f.err
	}
	return "run-1", nil
}

func TestIsDue(t *testing.T) {
	expr := cronexpr.MustParse("0 0,6,12,18 * * *")
	last := time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before slot", time.Date(2026, 3, 1, 5, 59, 0, 0, time.UTC), false},
		{"on slot", time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC), true},
		{"after slot", time.Date(2026, 3, 1, 6, 0, 40, 0, time.UTC), true},
		{"several slots missed", time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isDue(expr, last, tc.now); got != tc.want {
				t.Fatalf("isDue(%s) = %v, want %v", tc.now, got, tc.want)
			}
		})
	}
}

func TestSchedulerTick(t *testing.T) {
	starter := &fakeStarter{}
	s, err := NewScheduler("0 */6 * * *", "kubernetes", starter, nil)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	now := time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	s.last = now

	now = now.Add(time.Hour)
	if s.tick() {
		t.Fatalf("should not fire before the next slot")
	}
	now = time.Date(2026, 3, 1, 6, 0, 30, 0, time.UTC)
	if !s.tick() {
		t.Fatalf("expected fire at 06:00")
	}
	now = now.Add(time.Minute)
	if s.tick() {
		t.Fatalf("should fire once per slot")
	}
	if len(starter.triggers) != 1 || starter.triggers[0] != workflow.TriggerSchedule || starter.topics[0] != "kubernetes" {
		t.Fatalf("unexpected starts %v %v", starter.triggers, starter.topics)
	}
}

func TestSchedulerSkipsWhenBusy(t *testing.T) {
	starter := &fakeStarter{err: ErrBusy}
	s, err := NewScheduler("@hourly", "", starter, nil)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	now := time.Date(2026, 3, 1, 1, 30, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	s.last = now

	now = time.Date(2026, 3, 1, 2, 0, 10, 0, time.UTC)
	if s.tick() {
		t.Fatalf("busy fire should be reported as skipped")
	}
	now = now.Add(time.Minute)
	if s.tick() {
		t.Fatalf("skipped slot must not be retried")
	}
	if len(starter.triggers) != 1 {
		t.Fatalf("expected a single attempt, got %d", len(starter.triggers))
	}
}

func TestNewSchedulerRejectsBadSpec(t *testing.T) {
	if _, err := NewScheduler("every tuesday", "", &fakeStarter{}, nil); err == nil {
		t.Fatalf("expected parse error")
	}
}
