package task

import (
	"testing"
	"time"
)

func TestNextOccurrence(t *testing.T) {
	// Monday 2025-06-02 10:30 UTC
	now := time.Date(2025, 6, 2, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		cfg  RecurringConfig
		want time.Time
	}{
		{
			name: "daily before today's slot",
			cfg:  RecurringConfig{Frequency: FreqDaily, TimeOfDay: "18:00"},
			want: time.Date(2025, 6, 2, 18, 0, 0, 0, time.UTC),
		},
		{
			name: "daily after today's slot rolls to tomorrow",
			cfg:  RecurringConfig{Frequency: FreqDaily, TimeOfDay: "09:00"},
			want: time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "weekly later this week",
			cfg:  RecurringConfig{Frequency: FreqWeekly, DayOfWeek: 3, TimeOfDay: "09:00"},
			want: time.Date(2025, 6, 4, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "weekly on today but slot passed rolls a full week",
			cfg:  RecurringConfig{Frequency: FreqWeekly, DayOfWeek: 1, TimeOfDay: "09:00"},
			want: time.Date(2025, 6, 9, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "weekly on today with slot still ahead stays today",
			cfg:  RecurringConfig{Frequency: FreqWeekly, DayOfWeek: 1, TimeOfDay: "23:00"},
			want: time.Date(2025, 6, 2, 23, 0, 0, 0, time.UTC),
		},
		{
			name: "biweekly rolls two weeks when slot passed",
			cfg:  RecurringConfig{Frequency: FreqBiweekly, DayOfWeek: 1, TimeOfDay: "09:00"},
			want: time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "monthly advances one month",
			cfg:  RecurringConfig{Frequency: FreqMonthly, TimeOfDay: "10:00"},
			want: time.Date(2025, 7, 2, 10, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextOccurrence(&tt.cfg, now)
			if err != nil {
				t.Fatalf("NextOccurrence() error = %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("NextOccurrence() = %v, want %v", got, tt.want)
			}
			if !got.After(now) {
				t.Errorf("NextOccurrence() = %v is not after now %v", got, now)
			}
		})
	}
}

func TestNextOccurrenceInvalid(t *testing.T) {
	now := time.Date(2025, 6, 2, 10, 30, 0, 0, time.UTC)

	bad := []RecurringConfig{
		{Frequency: FreqDaily, TimeOfDay: "25:00"},
		{Frequency: FreqDaily, TimeOfDay: "10:75"},
		{Frequency: FreqDaily, TimeOfDay: "morning"},
		{Frequency: "hourly", TimeOfDay: "10:00"},
	}
	for _, cfg := range bad {
		if _, err := NextOccurrence(&cfg, now); err == nil {
			t.Errorf("NextOccurrence(%+v) expected an error", cfg)
		}
	}
}
