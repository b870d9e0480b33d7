package entity

import "time"

// Quota window names as reported by upstream. five_hour is the one the
// selector reasons about; the rest are carried for display.
const (
	WindowFiveHour          = "five_hour"
	WindowSevenDay          = "seven_day"
	WindowSevenDayOpus      = "seven_day_opus"
	WindowSevenDayOAuthApps = "seven_day_oauth_apps"
)

// FiveHourWindowSeconds is the fixed length of the rolling five-hour quota
// window used for elapsed-percentage math.
const FiveHourWindowSeconds = 18000

// WindowUsage is the upstream-reported consumption of one quota window.
type WindowUsage struct {
	// Utilization is the percentage of the window's allowance consumed.
	// Upstream may report values above 100 when its clocks drift.
	Utilization float64
	// ResetsAt is the absolute UTC instant the window rolls over; zero when
	// upstream omitted it.
	ResetsAt time.Time
}

// ElapsedPct returns how far into the window we are, in percent, derived
// from the reset instant and the fixed window length. Values are clamped to
// 100 (a reset instant in the past reads as a fully elapsed window). Returns
// 0 when the reset instant is unknown.
func (w WindowUsage) ElapsedPct(now time.Time) float64 {
	if w.ResetsAt.IsZero() {
		return 0
	}
	secondsUntil := w.ResetsAt.Sub(now).Seconds()
	elapsed := (FiveHourWindowSeconds - secondsUntil) * 100 / FiveHourWindowSeconds
	if elapsed > 100 {
		return 100
	}
	return elapsed
}

// UsageToTimeRatio relates consumption to elapsed window time: a credential
// burning quota faster than time passes sorts later. When the elapsed
// percentage is unknown or not positive, the raw utilization stands in.
func (w WindowUsage) UsageToTimeRatio(now time.Time) float64 {
	elapsed := w.ElapsedPct(now)
	if elapsed <= 0 {
		return w.Utilization
	}
	return w.Utilization / elapsed
}

// UsageSnapshot is one fetch of a credential's quota windows. Snapshots are
// immutable once stored; a refresh replaces the whole snapshot.
type UsageSnapshot struct {
	Windows   map[string]WindowUsage
	FetchedAt time.Time
}

// FiveHour returns the five-hour window, if present.
func (s *UsageSnapshot) FiveHour() (WindowUsage, bool) {
	if s == nil {
		return WindowUsage{}, false
	}
	w, ok := s.Windows[WindowFiveHour]
	return w, ok
}

// FiveHourUtilization returns the five-hour utilization, or 0 when unknown.
func (s *UsageSnapshot) FiveHourUtilization() float64 {
	w, ok := s.FiveHour()
	if !ok {
		return 0
	}
	return w.Utilization
}

// Age returns how old the snapshot is at now.
func (s *UsageSnapshot) Age(now time.Time) time.Duration {
	if s == nil {
		return 0
	}
	return now.Sub(s.FetchedAt)
}
