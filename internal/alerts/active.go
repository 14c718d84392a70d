package alerts

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/willibrandon/devicealarm/internal/models"
)

// AlarmView is an alarm prepared for display.
type AlarmView struct {
	models.Alarm

	// Duration is how long the alarm has been (or was) open.
	Duration time.Duration
}

// NewAlarmView creates an AlarmView relative to now.
func NewAlarmView(alarm models.Alarm, now time.Time) AlarmView {
	return AlarmView{
		Alarm:    alarm,
		Duration: alarm.Duration(now),
	}
}

// IsCritical returns true for critical or high severity alarms.
func (v AlarmView) IsCritical() bool {
	return v.Severity == models.SeverityCritical || v.Severity == models.SeverityHigh
}

// Age returns a relative trigger time such as "3 minutes ago".
func (v AlarmView) Age() string {
	return humanize.Time(v.TriggeredAt)
}

// DurationString returns a compact duration string.
func (v AlarmView) DurationString() string {
	d := v.Duration
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}
