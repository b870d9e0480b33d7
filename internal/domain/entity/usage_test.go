package entity

import (
	"testing"
	"time"
)

func TestWindowUsage_ElapsedPct(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		resetsAt time.Time
		want     float64
	}{
		{"half window remaining", now.Add(2*time.Hour + 30*time.Minute), 50},
		{"full window remaining", now.Add(5 * time.Hour), 0},
		{"reset in the past clamps to 100", now.Add(-time.Minute), 100},
		{"unknown reset", time.Time{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := WindowUsage{Utilization: 40, ResetsAt: tt.resetsAt}
			got := w.ElapsedPct(now)
			if got < tt.want-0.01 || got > tt.want+0.01 {
				t.Fatalf("ElapsedPct = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWindowUsage_UsageToTimeRatio(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// 40% used at 50% elapsed: ratio 0.8.
	w := WindowUsage{Utilization: 40, ResetsAt: now.Add(2*time.Hour + 30*time.Minute)}
	if got := w.UsageToTimeRatio(now); got < 0.79 || got > 0.81 {
		t.Fatalf("ratio = %v, want 0.8", got)
	}

	// Unknown reset instant: the raw utilization stands in.
	w = WindowUsage{Utilization: 40}
	if got := w.UsageToTimeRatio(now); got != 40 {
		t.Fatalf("ratio with unknown reset = %v, want 40", got)
	}

	// Window just started (elapsed 0): raw utilization again.
	w = WindowUsage{Utilization: 12, ResetsAt: now.Add(5 * time.Hour)}
	if got := w.UsageToTimeRatio(now); got != 12 {
		t.Fatalf("ratio at window start = %v, want 12", got)
	}
}

func TestUsageSnapshot_FiveHour(t *testing.T) {
	now := time.Now().UTC()
	s := &UsageSnapshot{
		Windows: map[string]WindowUsage{
			WindowFiveHour: {Utilization: 33, ResetsAt: now.Add(time.Hour)},
			WindowSevenDay: {Utilization: 70},
		},
		FetchedAt: now.Add(-time.Minute),
	}

	w, ok := s.FiveHour()
	if !ok || w.Utilization != 33 {
		t.Fatalf("FiveHour() = %v, %v", w, ok)
	}
	if got := s.FiveHourUtilization(); got != 33 {
		t.Fatalf("FiveHourUtilization() = %v, want 33", got)
	}
	if got := s.Age(now); got != time.Minute {
		t.Fatalf("Age() = %v, want 1m", got)
	}

	var nilSnap *UsageSnapshot
	if _, ok := nilSnap.FiveHour(); ok {
		t.Fatal("nil snapshot must report no five_hour window")
	}
	if nilSnap.FiveHourUtilization() != 0 {
		t.Fatal("nil snapshot utilization must be 0")
	}
}
