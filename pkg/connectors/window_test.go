package connectors

import (
	"testing"
	"time"
)

func TestResolveWindow(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	horizon := now.AddDate(0, 0, -365)
	recent := now.Add(-48 * time.Hour)
	stale := now.AddDate(-2, 0, 0)
	future := now.Add(24 * time.Hour)
	explicitStart := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	explicitEnd := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		opts          RunOptions
		lastIndexedAt *time.Time
		wantStart     time.Time
		wantEnd       time.Time
	}{
		{
			name:      "both dates verbatim",
			opts:      RunOptions{StartDate: &explicitStart, EndDate: &explicitEnd},
			wantStart: explicitStart,
			wantEnd:   explicitEnd,
		},
		{
			name:      "missing end falls back to now",
			opts:      RunOptions{StartDate: &explicitStart},
			wantStart: explicitStart,
			wantEnd:   now,
		},
		{
			name:          "missing start resumes from last indexed",
			opts:          RunOptions{EndDate: &explicitEnd},
			lastIndexedAt: &recent,
			wantStart:     recent,
			wantEnd:       explicitEnd,
		},
		{
			name:          "stale cursor clamped to horizon",
			opts:          RunOptions{},
			lastIndexedAt: &stale,
			wantStart:     horizon,
			wantEnd:       now,
		},
		{
			name:          "future cursor ignored",
			opts:          RunOptions{},
			lastIndexedAt: &future,
			wantStart:     horizon,
			wantEnd:       now,
		},
		{
			name:      "first run covers the horizon",
			opts:      RunOptions{},
			wantStart: horizon,
			wantEnd:   now,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveWindow(tt.opts, tt.lastIndexedAt, 365, now)
			if !got.Start.Equal(tt.wantStart) {
				t.Errorf("start = %v, want %v", got.Start, tt.wantStart)
			}
			if !got.End.Equal(tt.wantEnd) {
				t.Errorf("end = %v, want %v", got.End, tt.wantEnd)
			}
		})
	}
}
