package chatroom

import "time"

// reaper holds a room's single idle alarm. Every new connection pushes the
// alarm out by the full timeout; the room acts only when the stored alarm
// time has passed, so a stale timer firing early just rearms.
type reaper struct {
	timeout time.Duration
	timer   *time.Timer
	alarmAt time.Time
	now     func() time.Time
}

func newReaper(timeout time.Duration) *reaper {
	t := time.NewTimer(timeout)
	t.Stop()
	return &reaper{timeout: timeout, timer: t, now: time.Now}
}

// Schedule replaces any pending alarm with one timeout from now
func (r *reaper) Schedule() {
	r.alarmAt = r.now().Add(r.timeout)
	r.timer.Reset(r.timeout)
}

// C fires when the alarm might be due
func (r *reaper) C() <-chan time.Time {
	return r.timer.C
}

// Due reports whether the alarm has passed; if not it rearms for the rest
func (r *reaper) Due() bool {
	if r.alarmAt.IsZero() {
		return false
	}
	remaining := r.alarmAt.Sub(r.now())
	if remaining > 0 {
		r.timer.Reset(remaining)
		return false
	}
	return true
}

// AlarmAt returns the pending alarm time, zero when none is set
func (r *reaper) AlarmAt() time.Time {
	return r.alarmAt
}

func (r *reaper) Stop() {
	r.timer.Stop()
	r.alarmAt = time.Time{}
}
