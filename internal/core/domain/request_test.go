package domain

import (
	"testing"
	"time"
)

func TestRequest_ReminderDue(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	base := func() *Request {
		return &Request{
			Status:           RequestPending,
			CreatedAt:        created.UnixMilli(),
			ExpiresAt:        created.Add(30 * 24 * time.Hour).UnixMilli(),
			MaxReminders:     3,
			ReminderInterval: (24 * time.Hour).Milliseconds(),
		}
	}

	tests := []struct {
		name   string
		mutate func(*Request)
		at     time.Time
		want   bool
	}{
		{"before first interval", func(*Request) {}, created.Add(23 * time.Hour), false},
		{"first interval elapsed", func(*Request) {}, created.Add(24 * time.Hour), true},
		{"since last reminder", func(r *Request) {
			r.ReminderCount = 1
			r.LastReminderAt = created.Add(48 * time.Hour).UnixMilli()
		}, created.Add(60 * time.Hour), false},
		{"cap reached", func(r *Request) { r.ReminderCount = 3 }, created.Add(10 * 24 * time.Hour), false},
		{"signed", func(r *Request) { r.Status = RequestSigned }, created.Add(48 * time.Hour), false},
		{"expired", func(*Request) {}, created.Add(31 * 24 * time.Hour), false},
		{"reminders disabled", func(r *Request) { r.ReminderInterval = 0 }, created.Add(48 * time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := base()
			tt.mutate(r)
			if got := r.ReminderDue(tt.at); got != tt.want {
				t.Errorf("ReminderDue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReminderPolicyFor(t *testing.T) {
	if p := ReminderPolicyFor(ReminderWeekly, 3); p.Interval != 7*24*time.Hour || p.MaxReminders != 3 {
		t.Errorf("weekly = %+v", p)
	}
	if p := ReminderPolicyFor(ReminderNone, 3); p.MaxReminders != 0 {
		t.Errorf("none = %+v", p)
	}
}

func TestAttendanceSession_Transitions(t *testing.T) {
	s, err := NewAttendanceSession("org", "class_session", "cs1", ProximityAnchor{}, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("NewAttendanceSession() error = %v", err)
	}
	if s.Anchor.AllowedRadiusMeters != DefaultAllowedRadiusMeters {
		t.Errorf("default radius = %v", s.Anchor.AllowedRadiusMeters)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
	if s.CanTransition(SessionClosed) {
		t.Error("draft must not close directly")
	}
	if !s.CanTransition(SessionActive) {
		t.Error("draft should launch")
	}
	s.Status = SessionClosed
	if s.CanTransition(SessionActive) {
		t.Error("closed is terminal")
	}
}
