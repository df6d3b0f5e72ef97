package month

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBoundaries_TableTests(t *testing.T) {
	msk := time.FixedZone("MSK", 3*60*60)

	tests := []struct {
		name      string
		at        time.Time
		wantDay   time.Time
		wantNext  time.Time
		wantMonth time.Time
		wantNextM time.Time
	}{
		{
			name:      "middle of month",
			at:        time.Date(2026, 3, 14, 18, 45, 0, 0, time.UTC),
			wantDay:   time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
			wantNext:  time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
			wantMonth: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			wantNextM: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "last second of year",
			at:        time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC),
			wantDay:   time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
			wantNext:  time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
			wantMonth: time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC),
			wantNextM: time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "local time converted to utc",
			at:        time.Date(2026, 3, 1, 1, 0, 0, 0, msk),
			wantDay:   time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC),
			wantNext:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			wantMonth: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
			wantNextM: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "leap day",
			at:        time.Date(2028, 2, 29, 12, 0, 0, 0, time.UTC),
			wantDay:   time.Date(2028, 2, 29, 0, 0, 0, 0, time.UTC),
			wantNext:  time.Date(2028, 3, 1, 0, 0, 0, 0, time.UTC),
			wantMonth: time.Date(2028, 2, 1, 0, 0, 0, 0, time.UTC),
			wantNextM: time.Date(2028, 3, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantDay, StartOfDay(tt.at))
			assert.Equal(t, tt.wantNext, NextDay(tt.at))
			assert.Equal(t, tt.wantMonth, StartOfMonth(tt.at))
			assert.Equal(t, tt.wantNextM, NextMonth(tt.at))
		})
	}
}

func TestDays(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, 7, Days(start, start.AddDate(0, 0, 7)))
	assert.Equal(t, 7, Days(start, start.Add(7*24*time.Hour-time.Hour)))
	assert.Equal(t, 0, Days(start, start))
	assert.Equal(t, -1, Days(start, start.Add(-24*time.Hour)))
}
