package notify

import (
	"testing"
	"time"
)

func ptr(f float64) *float64 { return &f }

func TestRecord_Active(t *testing.T) {
	sentAt := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	rec := Record{Sent: true, Timestamp: sentAt.UnixMilli(), City: "Paris", MaxTemp: ptr(14)}

	tests := []struct {
		name    string
		rec     Record
		now     time.Time
		city    string
		maxTemp *float64
		want    bool
	}{
		{"unset record", Record{}, sentAt, "Paris", nil, false},
		{"within cooldown", rec, sentAt.Add(10 * time.Minute), "Paris", nil, true},
		{"cooldown boundary is still active", rec, sentAt.Add(Cooldown), "Paris", nil, true},
		{"cooldown elapsed", rec, sentAt.Add(Cooldown + time.Millisecond), "Paris", nil, false},
		{"different city", rec, sentAt.Add(time.Minute), "Lyon", nil, false},
		{"temperature change within tolerance", rec, sentAt.Add(time.Minute), "Paris", ptr(16), true},
		{"temperature drop within tolerance", rec, sentAt.Add(time.Minute), "Paris", ptr(12), true},
		{"temperature change beyond tolerance", rec, sentAt.Add(time.Minute), "Paris", ptr(16.5), false},
		{"no stored max", Record{Sent: true, Timestamp: sentAt.UnixMilli(), City: "Paris"}, sentAt, "Paris", ptr(30), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.Active(tt.now, tt.city, tt.maxTemp); got != tt.want {
				t.Errorf("Active() = %v, want %v", got, tt.want)
			}
		})
	}
}
